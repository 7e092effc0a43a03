// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package document holds the component-schema document plugins read and edit,
// together with the editor's selection and theme. Paths use gjson syntax,
// e.g. "root.children.0.props.title".
//
// Every mutation publishes the matching core event after the change is
// applied and the lock is released, so handlers may read the document.
package document

import (
	"bytes"
	"strings"
	"sync"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/schemastudio/studio/internal/eventbus"
)

// Publisher receives the document's core events.
type Publisher interface {
	EmitFrom(source, eventType string, payload any) eventbus.Event
}

// Source is the event source used for document events.
const Source = "document"

// Document is a JSON document with a selection and a theme. It is safe for
// concurrent use.
type Document struct {
	mu        sync.RWMutex
	raw       string
	origin    string
	selection string
	theme     string
	schema    *jschema.Schema
	publisher Publisher
}

// Option configures a Document.
type Option func(*Document)

// WithPublisher sets where document events go.
func WithPublisher(p Publisher) Option {
	return func(d *Document) { d.publisher = p }
}

// WithTheme sets the initial theme.
func WithTheme(theme string) Option {
	return func(d *Document) { d.theme = theme }
}

// New creates an empty document ("{}").
func New(opts ...Option) *Document {
	d := &Document{raw: "{}", theme: "light"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Document) publish(eventType string, payload any) {
	if d.publisher == nil {
		return
	}
	d.publisher.EmitFrom(Source, eventType, payload)
}

// Load replaces the document with data, which must be a JSON object. origin
// names where it came from (a path or URL) and is reported in the
// document:loaded event. A non-empty selection is cleared.
func (d *Document) Load(origin string, data []byte) error {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return oops.Code("INVALID_DOCUMENT").With("origin", origin).Errorf("document must be a JSON object")
	}

	d.mu.Lock()
	d.raw = string(data)
	d.origin = origin
	prevSelection := d.selection
	d.selection = ""
	d.mu.Unlock()

	d.publish(eventbus.DocumentLoaded, eventbus.DocumentLoadedPayload{Source: origin})
	if prevSelection != "" {
		d.publish(eventbus.SelectionChanged, eventbus.SelectionChangedPayload{Previous: prevSelection})
	}
	return nil
}

// Origin returns the origin passed to the last Load.
func (d *Document) Origin() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.origin
}

// Raw returns the document as JSON.
func (d *Document) Raw() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return []byte(d.raw)
}

// Get returns the value at path.
func (d *Document) Get(path string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := gjson.Get(d.raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// Set writes value at path, creating intermediate objects as needed.
func (d *Document) Set(path string, value any) error {
	if path == "" {
		return oops.Code("INVALID_PATH").Errorf("path is required")
	}

	d.mu.Lock()
	prev := gjson.Get(d.raw, path)
	updated, err := sjson.Set(d.raw, path, value)
	if err != nil {
		d.mu.Unlock()
		return oops.Code("INVALID_PATH").With("path", path).Wrap(err)
	}
	d.raw = updated
	d.mu.Unlock()

	d.publish(eventbus.DocumentChanged, eventbus.DocumentChangedPayload{
		Path:     path,
		Value:    gjson.Get(updated, path).Value(),
		Previous: prev.Value(),
	})
	return nil
}

// Delete removes the value at path.
func (d *Document) Delete(path string) error {
	d.mu.Lock()
	prev := gjson.Get(d.raw, path)
	if !prev.Exists() {
		d.mu.Unlock()
		return oops.Code("PATH_NOT_FOUND").With("path", path).Errorf("nothing at %q", path)
	}
	updated, err := sjson.Delete(d.raw, path)
	if err != nil {
		d.mu.Unlock()
		return oops.Code("INVALID_PATH").With("path", path).Wrap(err)
	}
	d.raw = updated
	clearSelection := d.selection != "" && (d.selection == path || strings.HasPrefix(d.selection, path+"."))
	prevSelection := d.selection
	if clearSelection {
		d.selection = ""
	}
	d.mu.Unlock()

	d.publish(eventbus.DocumentChanged, eventbus.DocumentChangedPayload{Path: path, Previous: prev.Value()})
	if clearSelection {
		d.publish(eventbus.SelectionChanged, eventbus.SelectionChangedPayload{Previous: prevSelection})
	}
	return nil
}

// Select moves the selection to path, which must exist. An empty path clears
// the selection. Selecting the current path publishes nothing.
func (d *Document) Select(path string) error {
	d.mu.Lock()
	if path != "" && !gjson.Get(d.raw, path).Exists() {
		d.mu.Unlock()
		return oops.Code("PATH_NOT_FOUND").With("path", path).Errorf("nothing at %q", path)
	}
	prev := d.selection
	d.selection = path
	d.mu.Unlock()

	if prev != path {
		d.publish(eventbus.SelectionChanged, eventbus.SelectionChangedPayload{Path: path, Previous: prev})
	}
	return nil
}

// Selection returns the selected path, or "" when nothing is selected.
func (d *Document) Selection() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selection
}

// SetTheme switches the editor theme.
func (d *Document) SetTheme(theme string) {
	d.mu.Lock()
	prev := d.theme
	d.theme = theme
	d.mu.Unlock()

	if prev != theme {
		d.publish(eventbus.ThemeChanged, eventbus.ThemeChangedPayload{Theme: theme, Previous: prev})
	}
}

// Theme returns the editor theme.
func (d *Document) Theme() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.theme
}

// Env describes the selection and theme for slot visibility predicates:
// selection.path, selection.kind (the selected node's "kind" or "type"
// property) and theme.
func (d *Document) Env() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	selection := map[string]any{"path": d.selection}
	if d.selection != "" {
		node := gjson.Get(d.raw, d.selection)
		for _, key := range []string{"kind", "type"} {
			if k := node.Get(key); k.Exists() {
				selection["kind"] = k.Value()
				break
			}
		}
	}
	return map[string]any{
		"selection": selection,
		"theme":     d.theme,
	}
}

func unmarshalJSON(data []byte) (any, error) {
	return jschema.UnmarshalJSON(bytes.NewReader(data))
}
