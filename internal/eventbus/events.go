// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package eventbus

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Core event types. They are always deliverable; no capability is needed to
// receive them.
const (
	DocumentLoaded      = "document:loaded"
	DocumentChanged     = "document:changed"
	SelectionChanged    = "selection:changed"
	ValidationCompleted = "validation:completed"
	ThemeChanged        = "theme:changed"
	PluginActivated     = "plugin:activated"
	PluginDeactivated   = "plugin:deactivated"
	ServiceRegistered   = "service:registered"
)

var coreTypes = map[string]bool{
	DocumentLoaded:      true,
	DocumentChanged:     true,
	SelectionChanged:    true,
	ValidationCompleted: true,
	ThemeChanged:        true,
	PluginActivated:     true,
	PluginDeactivated:   true,
	ServiceRegistered:   true,
}

// IsCore reports whether eventType belongs to the core taxonomy.
func IsCore(eventType string) bool {
	return coreTypes[eventType]
}

// kind labels an event type for metrics.
func kind(eventType string) string {
	if IsCore(eventType) {
		return "core"
	}
	return "custom"
}

// Event is one delivery on the bus.
type Event struct {
	ID      ulid.ULID
	Type    string
	Source  string
	Payload any
	Time    time.Time
}

// DocumentLoadedPayload accompanies DocumentLoaded.
type DocumentLoadedPayload struct {
	Source string `json:"source"`
}

// DocumentChangedPayload accompanies DocumentChanged. Value is nil when the
// path was deleted.
type DocumentChangedPayload struct {
	Path     string `json:"path"`
	Value    any    `json:"value"`
	Previous any    `json:"previous"`
}

// SelectionChangedPayload accompanies SelectionChanged. An empty Path means
// the selection was cleared.
type SelectionChangedPayload struct {
	Path     string `json:"path"`
	Previous string `json:"previous"`
}

// ValidationCompletedPayload accompanies ValidationCompleted.
type ValidationCompletedPayload struct {
	IsValid    bool     `json:"is_valid"`
	ErrorCount int      `json:"error_count"`
	ErrorPaths []string `json:"error_paths"`
}

// ThemeChangedPayload accompanies ThemeChanged.
type ThemeChangedPayload struct {
	Theme    string `json:"theme"`
	Previous string `json:"previous"`
}

// PluginPayload accompanies PluginActivated and PluginDeactivated.
type PluginPayload struct {
	PluginID string `json:"plugin_id"`
	Version  string `json:"version"`
}

// ServiceRegisteredPayload accompanies ServiceRegistered.
type ServiceRegisteredPayload struct {
	ServiceID  string `json:"service_id"`
	ProviderID string `json:"provider_id"`
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

func newID(now time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy)
}
