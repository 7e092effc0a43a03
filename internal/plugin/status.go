// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package plugin

import (
	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/internal/pluginctx"
)

// Status is a registered plugin's lifecycle state.
type Status string

// Lifecycle states. Transitions:
//
//	registered -> activating -> active -> deactivating -> registered
//
// Any stage may move to error, which holds until Retry or re-registration.
const (
	StatusRegistered   Status = "registered"
	StatusActivating   Status = "activating"
	StatusActive       Status = "active"
	StatusDeactivating Status = "deactivating"
	StatusError        Status = "error"
)

// RegisteredPlugin is a snapshot of a plugin held by the Registry.
type RegisteredPlugin struct {
	Manifest *Manifest
	Plugin   Plugin
	Status   Status
	// Context is set while the plugin is activating or active.
	Context *pluginctx.Context
	// Err is the cause of the last failure when Status is StatusError.
	Err error
	// Seq orders plugins by registration.
	Seq uint64
}

// SlotEntry is one visible slot registration.
type SlotEntry struct {
	PluginID  string
	Slot      slot.ID
	Component string
	Priority  int
}
