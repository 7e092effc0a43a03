// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package plugin

import (
	"context"
)

// Loader turns a manifest found on disk into a runnable plugin.
type Loader interface {
	// Load prepares the plugin in dir. It must not run plugin code that
	// needs a context; that happens in the plugin's hooks.
	Load(ctx context.Context, manifest *Manifest, dir string) (Plugin, error)

	// Close releases every plugin the loader produced.
	Close(ctx context.Context) error
}
