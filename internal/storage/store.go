// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package storage provides the per-plugin key/value storage behind the
// storage:local capability.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Store persists opaque values per plugin. Keys of different plugins never
// collide.
type Store interface {
	Get(ctx context.Context, pluginID, key string) ([]byte, bool, error)
	Set(ctx context.Context, pluginID, key string, value []byte) error
	Delete(ctx context.Context, pluginID, key string) error
	Keys(ctx context.Context, pluginID string) ([]string, error)
}

func checkKey(pluginID, key string) error {
	if pluginID == "" {
		return oops.Code("INVALID_STORAGE_KEY").Errorf("plugin id is required")
	}
	if key == "" {
		return oops.Code("INVALID_STORAGE_KEY").With("plugin", pluginID).Errorf("key is required")
	}
	return nil
}

// Memory is an in-process Store. It is the default when no database is
// configured and does not survive restarts.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(_ context.Context, pluginID, key string) ([]byte, bool, error) {
	if err := checkKey(pluginID, key); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[pluginID][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value.
func (m *Memory) Set(_ context.Context, pluginID, key string, value []byte) error {
	if err := checkKey(pluginID, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[pluginID]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[pluginID] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, pluginID, key string) error {
	if err := checkKey(pluginID, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[pluginID], key)
	if len(m.data[pluginID]) == 0 {
		delete(m.data, pluginID)
	}
	return nil
}

// Keys lists a plugin's keys, sorted.
func (m *Memory) Keys(_ context.Context, pluginID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[pluginID]))
	for k := range m.data[pluginID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
