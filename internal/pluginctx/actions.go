// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package pluginctx

import (
	"github.com/schemastudio/studio/internal/document"
	"github.com/schemastudio/studio/internal/plugin/capability"
)

// Actions reads and mutates the open document and its selection.
type Actions struct {
	gate
}

func (a *Actions) doc() *document.Document { return a.deps().Document }

// Get returns the value at path. Requires document:read.
func (a *Actions) Get(path string) (any, bool) {
	if !a.allow(capability.DocumentRead, "actions.get") {
		return nil, false
	}
	return a.doc().Get(path)
}

// Raw returns the whole document as JSON. Requires document:read.
func (a *Actions) Raw() []byte {
	if !a.allow(capability.DocumentRead, "actions.raw") {
		return nil
	}
	return a.doc().Raw()
}

// Validate checks the document against its schema. Requires document:read.
func (a *Actions) Validate() (document.Report, error) {
	if !a.allow(capability.DocumentRead, "actions.validate") {
		return document.Report{}, nil
	}
	return a.doc().Validate()
}

// Load replaces the document. Requires document:write.
func (a *Actions) Load(origin string, data []byte) error {
	if !a.allow(capability.DocumentWrite, "actions.load") {
		return nil
	}
	return a.doc().Load(origin, data)
}

// Set writes value at path. Requires document:write.
func (a *Actions) Set(path string, value any) error {
	if !a.allow(capability.DocumentWrite, "actions.set") {
		return nil
	}
	return a.doc().Set(path, value)
}

// Delete removes path. Requires document:write.
func (a *Actions) Delete(path string) error {
	if !a.allow(capability.DocumentWrite, "actions.delete") {
		return nil
	}
	return a.doc().Delete(path)
}

// Selection returns the selected path. Requires selection:read.
func (a *Actions) Selection() string {
	if !a.allow(capability.SelectionRead, "actions.selection") {
		return ""
	}
	return a.doc().Selection()
}

// Select selects path, or clears the selection when path is empty.
// Requires selection:write.
func (a *Actions) Select(path string) error {
	if !a.allow(capability.SelectionWrite, "actions.select") {
		return nil
	}
	return a.doc().Select(path)
}
