// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package pluginctx

import (
	"context"

	"github.com/schemastudio/studio/internal/plugin/capability"
)

// Storage is key/value storage private to the plugin. Every method requires
// storage:local.
type Storage struct {
	gate
}

// Get returns the value stored under key.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !s.allow(capability.StorageLocal, "storage.get") {
		return nil, false, nil
	}
	return s.deps().Storage.Get(ctx, s.pc.id, key)
}

// Set stores value under key.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if !s.allow(capability.StorageLocal, "storage.set") {
		return nil
	}
	return s.deps().Storage.Set(ctx, s.pc.id, key, value)
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if !s.allow(capability.StorageLocal, "storage.delete") {
		return nil
	}
	return s.deps().Storage.Delete(ctx, s.pc.id, key)
}

// Keys lists the plugin's keys.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	if !s.allow(capability.StorageLocal, "storage.keys") {
		return []string{}, nil
	}
	return s.deps().Storage.Keys(ctx, s.pc.id)
}
