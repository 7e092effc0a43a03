// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package plugin

import (
	"context"

	"github.com/schemastudio/studio/internal/pluginctx"
)

// Plugin is a plugin definition. Lifecycle hooks are optional: a definition
// implements only the hook interfaces it needs.
type Plugin interface {
	Manifest() *Manifest
}

// Loadable plugins prepare state before activation.
type Loadable interface {
	OnLoad(ctx context.Context, pc *pluginctx.Context) error
}

// Activatable plugins start work once loaded.
type Activatable interface {
	OnActivate(ctx context.Context, pc *pluginctx.Context) error
}

// Deactivatable plugins stop work on deactivation.
type Deactivatable interface {
	OnDeactivate(ctx context.Context, pc *pluginctx.Context) error
}

// Unloadable plugins release resources when unregistered.
type Unloadable interface {
	OnUnload(ctx context.Context) error
}

// manifestOnly is a definition without hooks.
type manifestOnly struct {
	m *Manifest
}

func (p manifestOnly) Manifest() *Manifest { return p.m }

// FromManifest returns a hookless plugin. Its slots, extension points,
// contributions and activation still take effect.
func FromManifest(m *Manifest) Plugin {
	return manifestOnly{m: m}
}
