// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package plugintest provides test helpers for the plugin runtime.
package plugintest

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/schemastudio/studio/internal/plugin"
	"github.com/schemastudio/studio/internal/pluginctx"
)

// Journal records hook calls across plugins as "<id>:<hook>".
type Journal struct {
	mu      sync.Mutex
	entries []string
}

// Add appends an entry.
func (j *Journal) Add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// Count returns how often entry was recorded.
func (j *Journal) Count(entry string) int {
	n := 0
	for _, e := range j.Entries() {
		if e == entry {
			n++
		}
	}
	return n
}

// Plugin implements every lifecycle hook. Nil hook funcs succeed.
type Plugin struct {
	M          *plugin.Manifest
	J          *Journal
	Load       func(ctx context.Context, pc *pluginctx.Context) error
	Activate   func(ctx context.Context, pc *pluginctx.Context) error
	Deactivate func(ctx context.Context, pc *pluginctx.Context) error
	Unload     func(ctx context.Context) error
}

// New creates a Plugin recording into j, which may be nil.
func New(m *plugin.Manifest, j *Journal) *Plugin {
	return &Plugin{M: m, J: j}
}

// Manifest implements plugin.Plugin.
func (p *Plugin) Manifest() *plugin.Manifest { return p.M }

func (p *Plugin) record(hook string) {
	if p.J != nil {
		p.J.Add(p.M.ID + ":" + hook)
	}
}

// OnLoad implements plugin.Loadable.
func (p *Plugin) OnLoad(ctx context.Context, pc *pluginctx.Context) error {
	p.record("load")
	if p.Load != nil {
		return p.Load(ctx, pc)
	}
	return nil
}

// OnActivate implements plugin.Activatable.
func (p *Plugin) OnActivate(ctx context.Context, pc *pluginctx.Context) error {
	p.record("activate")
	if p.Activate != nil {
		return p.Activate(ctx, pc)
	}
	return nil
}

// OnDeactivate implements plugin.Deactivatable.
func (p *Plugin) OnDeactivate(ctx context.Context, pc *pluginctx.Context) error {
	p.record("deactivate")
	if p.Deactivate != nil {
		return p.Deactivate(ctx, pc)
	}
	return nil
}

// OnUnload implements plugin.Unloadable.
func (p *Plugin) OnUnload(ctx context.Context) error {
	p.record("unload")
	if p.Unload != nil {
		return p.Unload(ctx)
	}
	return nil
}

// MockLoader is a testify mock of plugin.Loader.
type MockLoader struct {
	mock.Mock
}

// NewMockLoader creates a MockLoader that asserts its expectations when the
// test ends.
func NewMockLoader(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockLoader {
	m := &MockLoader{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Load implements plugin.Loader.
func (m *MockLoader) Load(ctx context.Context, manifest *plugin.Manifest, dir string) (plugin.Plugin, error) {
	args := m.Called(ctx, manifest, dir)
	p, _ := args.Get(0).(plugin.Plugin) //nolint:errcheck // nil is a valid return
	return p, args.Error(1)
}

// Close implements plugin.Loader.
func (m *MockLoader) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// Verify interfaces are satisfied.
var (
	_ plugin.Loadable      = (*Plugin)(nil)
	_ plugin.Activatable   = (*Plugin)(nil)
	_ plugin.Deactivatable = (*Plugin)(nil)
	_ plugin.Unloadable    = (*Plugin)(nil)
	_ plugin.Loader        = (*MockLoader)(nil)
)
