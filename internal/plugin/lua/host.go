// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/schemastudio/studio/internal/plugin"
)

// Compile-time interface check.
var _ plugin.Loader = (*Host)(nil)

// Host loads Lua plugins. Scripts are compiled once at load time; each
// activation runs the compiled chunk in a fresh sandboxed state.
type Host struct {
	factory *StateFactory
	logger  *slog.Logger
	plugins map[string]*luaPlugin
	mu      sync.RWMutex
	closed  bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// WithStateFactory replaces the default sandbox.
func WithStateFactory(f *StateFactory) HostOption {
	return func(h *Host) { h.factory = f }
}

// NewHost creates a Lua plugin host.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		factory: NewStateFactory(),
		logger:  slog.Default(),
		plugins: make(map[string]*luaPlugin),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Load reads and compiles the manifest's Lua entry file.
func (h *Host) Load(_ context.Context, manifest *plugin.Manifest, dir string) (plugin.Plugin, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	errb := oops.In("lua").With("plugin", manifest.ID).With("operation", "load")
	if h.closed {
		return nil, errb.Code("HOST_CLOSED").New("host is closed")
	}
	if manifest.Lua == nil || manifest.Lua.Entry == "" {
		return nil, errb.Code("LUA_ENTRY_MISSING").New("manifest has no lua entry")
	}
	if _, exists := h.plugins[manifest.ID]; exists {
		return nil, errb.Code("LUA_ALREADY_LOADED").New("plugin already loaded")
	}

	entryPath := filepath.Join(dir, filepath.Clean("/" + manifest.Lua.Entry))
	code, err := os.ReadFile(entryPath) //nolint:gosec // entry is confined to the plugin directory
	if err != nil {
		return nil, errb.Code("LUA_ENTRY_UNREADABLE").With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	chunk, err := parse.Parse(strings.NewReader(string(code)), manifest.Lua.Entry)
	if err != nil {
		return nil, errb.Code("LUA_SYNTAX").With("entry", manifest.Lua.Entry).Hint("syntax error").Wrap(err)
	}
	proto, err := lua.Compile(chunk, manifest.Lua.Entry)
	if err != nil {
		return nil, errb.Code("LUA_SYNTAX").With("entry", manifest.Lua.Entry).Hint("compile error").Wrap(err)
	}

	p := &luaPlugin{
		manifest: manifest,
		proto:    proto,
		factory:  h.factory,
		logger:   h.logger,
	}
	p.unloaded = func() { h.forget(p) }
	h.plugins[manifest.ID] = p
	h.logger.Debug("lua plugin compiled", "plugin", manifest.ID, "entry", manifest.Lua.Entry)
	return p, nil
}

// Plugins returns the ids of loaded plugins, sorted.
func (h *Host) Plugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.plugins))
	for id := range h.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// forget drops p so its id can be loaded again.
func (h *Host) forget(p *luaPlugin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.plugins[p.manifest.ID] == p {
		delete(h.plugins, p.manifest.ID)
	}
}

// Close closes every state the host's plugins still hold. Loading after
// Close fails.
func (h *Host) Close(_ context.Context) error {
	h.mu.Lock()
	plugins := h.plugins
	h.plugins = make(map[string]*luaPlugin)
	h.closed = true
	h.mu.Unlock()

	for _, p := range plugins {
		p.close()
	}
	return nil
}
