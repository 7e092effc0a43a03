// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package extension

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Multiplicity says how many contributions a point accepts.
type Multiplicity string

// Point multiplicities.
const (
	Single   Multiplicity = "single"
	Multiple Multiplicity = "multiple"
)

// fieldTypes maps declared field types to JSON Schema types.
var fieldTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
}

// Field is one named, typed contribution field.
type Field struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type" jsonschema:"enum=string,enum=number,enum=integer,enum=boolean,enum=object,enum=array"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Schema enumerates the fields a contribution may carry. Keys not listed are
// accepted without validation.
type Schema struct {
	Fields []Field `yaml:"fields" json:"fields"`
}

// Check returns one message per problem with the field list.
func (s Schema) Check() []string {
	var msgs []string
	names := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			msgs = append(msgs, fmt.Sprintf("schema.fields[%d]: name is required", i))
		} else if names[f.Name] {
			msgs = append(msgs, fmt.Sprintf("schema.fields[%d]: duplicate field %q", i, f.Name))
		}
		names[f.Name] = true
		if !fieldTypes[f.Type] {
			msgs = append(msgs, fmt.Sprintf("schema.fields[%d]: type %q is not one of string, number, integer, boolean, object, array", i, f.Type))
		}
	}
	return msgs
}

// document renders the field list as a JSON Schema document.
func (s Schema) document() map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []any
	for _, f := range s.Fields {
		prop := map[string]any{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func (s Schema) compile() (*jschema.Schema, error) {
	c := jschema.NewCompiler()
	if err := c.AddResource("contribution.json", s.document()); err != nil {
		return nil, oops.Code("INVALID_SCHEMA").Wrapf(err, "add contribution schema")
	}
	sch, err := c.Compile("contribution.json")
	if err != nil {
		return nil, oops.Code("INVALID_SCHEMA").Wrapf(err, "compile contribution schema")
	}
	return sch, nil
}

// instance converts the declared fields of data into JSON values for
// validation. Undeclared keys are left out; they may hold values with no JSON
// form, such as callbacks.
func (s Schema) instance(data map[string]any) (any, []string) {
	declared := make(map[string]any, len(s.Fields))
	var msgs []string
	for _, f := range s.Fields {
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		declared[f.Name] = v
	}

	raw, err := json.Marshal(declared)
	if err != nil {
		for name, v := range declared {
			if _, ferr := json.Marshal(v); ferr != nil {
				msgs = append(msgs, fmt.Sprintf("field %q: value has no JSON form", name))
			}
		}
		return nil, msgs
	}
	inst, err := jschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, []string{err.Error()}
	}
	return inst, nil
}

// validationMessages flattens a schema validation error into one message per
// failing location.
func validationMessages(err error) []string {
	lines := strings.Split(err.Error(), "\n")
	msgs := make([]string, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		if line == "" || (i == 0 && len(lines) > 1) {
			continue
		}
		msgs = append(msgs, line)
	}
	return msgs
}
