// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package document

import (
	"errors"
	"sort"
	"strings"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/schemastudio/studio/internal/eventbus"
)

// Report is the outcome of validating the document.
type Report struct {
	Valid      bool
	ErrorCount int
	// ErrorPaths are gjson paths of the failing nodes, sorted and unique.
	ErrorPaths []string
	Messages   []string
}

// SetSchema installs the JSON Schema the document is validated against. A
// nil or empty schema removes it.
func (d *Document) SetSchema(schema []byte) error {
	if len(schema) == 0 {
		d.mu.Lock()
		d.schema = nil
		d.mu.Unlock()
		return nil
	}

	doc, err := unmarshalJSON(schema)
	if err != nil {
		return oops.Code("INVALID_SCHEMA").Wrapf(err, "parse document schema")
	}
	c := jschema.NewCompiler()
	if err := c.AddResource("document.schema.json", doc); err != nil {
		return oops.Code("INVALID_SCHEMA").Wrapf(err, "add document schema")
	}
	compiled, err := c.Compile("document.schema.json")
	if err != nil {
		return oops.Code("INVALID_SCHEMA").Wrapf(err, "compile document schema")
	}

	d.mu.Lock()
	d.schema = compiled
	d.mu.Unlock()
	return nil
}

// Validate checks the document against its schema and publishes
// validation:completed. Without a schema the document is valid.
func (d *Document) Validate() (Report, error) {
	d.mu.RLock()
	schema := d.schema
	raw := d.raw
	d.mu.RUnlock()

	report := Report{Valid: true}
	if schema != nil {
		inst, err := unmarshalJSON([]byte(raw))
		if err != nil {
			return Report{}, oops.Code("INVALID_DOCUMENT").Wrapf(err, "parse document")
		}
		if verr := schema.Validate(inst); verr != nil {
			var ve *jschema.ValidationError
			if !errors.As(verr, &ve) {
				return Report{}, oops.Code("VALIDATION_FAILED").Wrap(verr)
			}
			report = reportFrom(ve)
		}
	}

	d.publish(eventbus.ValidationCompleted, eventbus.ValidationCompletedPayload{
		IsValid:    report.Valid,
		ErrorCount: report.ErrorCount,
		ErrorPaths: report.ErrorPaths,
	})
	return report, nil
}

func reportFrom(ve *jschema.ValidationError) Report {
	var leaves []*jschema.ValidationError
	var walk func(*jschema.ValidationError)
	walk = func(e *jschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	seen := make(map[string]bool, len(leaves))
	var paths []string
	for _, leaf := range leaves {
		p := strings.Join(leaf.InstanceLocation, ".")
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var msgs []string
	for _, line := range strings.Split(ve.Error(), "\n")[1:] {
		if line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- ")); line != "" {
			msgs = append(msgs, line)
		}
	}

	return Report{
		Valid:      false,
		ErrorCount: len(leaves),
		ErrorPaths: paths,
		Messages:   msgs,
	}
}
