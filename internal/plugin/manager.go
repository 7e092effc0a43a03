// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"

	"github.com/schemastudio/studio/pkg/errutil"
)

// ManifestFile is the manifest name looked up in each plugin directory.
const ManifestFile = "plugin.yaml"

// Manager discovers plugin directories and registers them with a Registry.
type Manager struct {
	pluginsDir string
	registry   *Registry
	luaLoader  Loader
	disabled   map[string]bool
	logger     *slog.Logger
	loaded     []string
	mu         sync.RWMutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLuaLoader sets the loader used for manifests with a lua entry.
func WithLuaLoader(l Loader) ManagerOption {
	return func(m *Manager) { m.luaLoader = l }
}

// WithDisabled skips the listed plugin ids during LoadAll.
func WithDisabled(ids ...string) ManagerOption {
	return func(m *Manager) {
		for _, id := range ids {
			m.disabled[id] = true
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a plugin manager for pluginsDir.
func NewManager(pluginsDir string, registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		registry:   registry,
		disabled:   make(map[string]bool),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Discover reads every <dir>/plugin.yaml below the plugins directory, in
// directory name order. Directories without a manifest or with an invalid
// one are logged and skipped. When two directories declare the same id the
// first wins and the later one is logged as DUPLICATE_PLUGIN. A missing
// plugins directory yields nothing.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.Code("PLUGIN_DIR_UNREADABLE").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var plugins []*DiscoveredPlugin
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(m.pluginsDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFile)) //nolint:gosec // path is built from ReadDir entries
		if err != nil {
			m.logger.Warn("skipping plugin without manifest", "dir", entry.Name(), "error", err)
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			errutil.LogWarn(m.logger, "skipping plugin with invalid manifest", err, "dir", entry.Name())
			continue
		}

		if first, ok := seen[manifest.ID]; ok {
			errutil.LogWarn(m.logger, "skipping duplicate plugin",
				oops.Code("DUPLICATE_PLUGIN").
					With("plugin", manifest.ID).
					With("dir", entry.Name()).
					With("first_dir", first).
					Errorf("plugin %q already discovered in %s", manifest.ID, first),
				"dir", entry.Name())
			continue
		}
		seen[manifest.ID] = entry.Name()

		plugins = append(plugins, &DiscoveredPlugin{Manifest: manifest, Dir: pluginDir})
	}
	return plugins, nil
}

// LoadAll discovers plugins and registers them, dependencies first so eager
// plugins find what they require. A plugin that fails to load or register is
// logged and skipped; only an unreadable plugins directory is an error.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	var enabled []*DiscoveredPlugin
	for _, dp := range discovered {
		if m.disabled[dp.Manifest.ID] {
			m.logger.Info("plugin disabled", "plugin", dp.Manifest.ID)
			continue
		}
		enabled = append(enabled, dp)
	}

	for _, dp := range dependencyOrder(enabled) {
		if err := m.loadPlugin(ctx, dp); err != nil {
			errutil.LogError(m.logger, "failed to load plugin", err, "plugin", dp.Manifest.ID)
		}
	}
	return nil
}

func (m *Manager) loadPlugin(ctx context.Context, dp *DiscoveredPlugin) error {
	p := FromManifest(dp.Manifest)
	if dp.Manifest.Lua != nil {
		if m.luaLoader == nil {
			m.logger.Warn("no Lua loader configured, skipping Lua plugin", "plugin", dp.Manifest.ID)
			return nil
		}
		loaded, err := m.luaLoader.Load(ctx, dp.Manifest, dp.Dir)
		if err != nil {
			return err
		}
		p = loaded
	}

	if err := m.registry.Register(ctx, p).Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.loaded = append(m.loaded, dp.Manifest.ID)
	m.mu.Unlock()

	m.logger.Info("loaded plugin",
		"plugin", dp.Manifest.ID,
		"version", dp.Manifest.Version,
		"dir", dp.Dir)
	return nil
}

// dependencyOrder sorts plugins so each comes after the discovered plugins
// it depends on, keeping discovery order otherwise. Members of a cycle keep
// discovery order; the registry reports the cycle on activation.
func dependencyOrder(plugins []*DiscoveredPlugin) []*DiscoveredPlugin {
	byID := make(map[string]*DiscoveredPlugin, len(plugins))
	for _, dp := range plugins {
		if _, ok := byID[dp.Manifest.ID]; !ok {
			byID[dp.Manifest.ID] = dp
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(plugins))
	out := make([]*DiscoveredPlugin, 0, len(plugins))

	var visit func(dp *DiscoveredPlugin)
	visit = func(dp *DiscoveredPlugin) {
		id := dp.Manifest.ID
		if state[id] != unvisited {
			return
		}
		state[id] = visiting
		for _, dep := range dp.Manifest.Dependencies {
			if next, ok := byID[dep.ID]; ok {
				visit(next)
			}
		}
		state[id] = done
		out = append(out, dp)
	}
	for _, dp := range plugins {
		visit(dp)
	}
	return out
}

// ListPlugins returns the ids registered by LoadAll, in registration order.
func (m *Manager) ListPlugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.loaded...)
}

// Close forgets loaded plugins and closes the Lua loader. Unregistering the
// plugins is the registry owner's job.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.loaded = nil
	m.mu.Unlock()

	if m.luaLoader != nil {
		if err := m.luaLoader.Close(ctx); err != nil {
			return oops.Code("LOADER_CLOSE_FAILED").Wrapf(err, "close lua loader")
		}
	}
	return nil
}
