// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package capability defines the closed capability vocabulary plugins declare
// in their manifests, and the host-side enforcer that decides which declared
// capabilities a plugin is actually granted.
//
// Grant patterns use gobwas/glob with ':' as the segment separator:
//   - '*' matches a single segment (does not cross ':')
//   - '**' matches any number of segments
//
// Examples:
//   - "document:*" matches "document:read" and "document:write"
//   - "*:read" matches every read capability
//   - "**" grants everything the plugin declares
package capability

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// compiledGrant holds a pattern and its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer holds host grant policy per plugin.
//
// A plugin without explicit grants falls back to the default grants. The zero
// value grants nothing; NewEnforcer grants everything by default.
// Enforcer is safe for concurrent use.
type Enforcer struct {
	grants   map[string][]compiledGrant
	defaults []compiledGrant
	mu       sync.RWMutex
}

// NewEnforcer creates an enforcer whose default policy grants every declared
// capability.
func NewEnforcer() *Enforcer {
	e := &Enforcer{grants: make(map[string][]compiledGrant)}
	// "**" always compiles.
	_ = e.SetDefaultGrants([]string{"**"}) //nolint:errcheck // constant pattern
	return e
}

func compileGrants(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, oops.Code("INVALID_GRANT").With("index", i).Errorf("grant %d: empty capability pattern", i)
		}
		g, err := glob.Compile(pattern, ':')
		if err != nil {
			return nil, oops.Code("INVALID_GRANT").With("index", i).With("pattern", pattern).Wrap(err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return compiled, nil
}

// SetDefaultGrants replaces the patterns applied to plugins without explicit
// grants. On error the enforcer is left unchanged.
func (e *Enforcer) SetDefaultGrants(patterns []string) error {
	compiled, err := compileGrants(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaults = compiled
	return nil
}

// SetGrants configures explicit grant patterns for a plugin, replacing any
// previous ones. On error the enforcer is left unchanged.
func (e *Enforcer) SetGrants(plugin string, patterns []string) error {
	if plugin == "" {
		return oops.Code("INVALID_GRANT").Errorf("plugin id cannot be empty")
	}
	compiled, err := compileGrants(patterns)
	if err != nil {
		return oops.With("plugin", plugin).Wrap(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// RemoveGrants drops a plugin's explicit grants; it falls back to the defaults.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.grants == nil {
		return
	}
	delete(e.grants, plugin)
}

// GetGrants returns a copy of the explicit patterns for a plugin, or nil.
func (e *Enforcer) GetGrants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check reports whether the plugin is granted capability c.
func (e *Enforcer) Check(plugin string, c Capability) bool {
	if plugin == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		grants = e.defaults
	}
	token := c.String()
	for _, g := range grants {
		if g.glob.Match(token) {
			return true
		}
	}
	return false
}

// Effective narrows a declared capability set to what the host grants.
func (e *Enforcer) Effective(plugin string, declared Set) Set {
	var granted Set
	for _, c := range declared.Capabilities() {
		if e.Check(plugin, c) {
			granted = granted.With(c)
		}
	}
	return granted
}
