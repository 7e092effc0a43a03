// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package pluginctx

import (
	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/plugin/capability"
)

// Events publishes and receives bus events on the plugin's behalf.
type Events struct {
	gate
}

// Emit publishes an event with the plugin as source and raises the matching
// onEvent:<type> activation event. It reports whether the event was sent.
func (e *Events) Emit(eventType string, payload any) bool {
	if !e.allow(capability.EventsEmit, "events.emit") {
		return false
	}
	e.deps().Bus.EmitFrom(e.pc.id, eventType, payload)
	e.pc.factory.fire(OnEventPrefix + eventType)
	return true
}

// Subscribe registers handler for eventType. Core events need no capability;
// custom events need events:subscribe. Subscriptions end when the returned
// function is called or the plugin deactivates.
func (e *Events) Subscribe(eventType string, handler eventbus.Handler, opts ...eventbus.Option) func() {
	if !eventbus.IsCore(eventType) && !e.allow(capability.EventsSubscribe, "events.subscribe") {
		return func() {}
	}
	if e.pc.released.Load() {
		return func() {}
	}
	opts = append(opts, eventbus.WithOwner(e.pc.id))
	return e.deps().Bus.Subscribe(eventType, handler, opts...)
}

// Once subscribes handler for a single delivery.
func (e *Events) Once(eventType string, handler eventbus.Handler) func() {
	return e.Subscribe(eventType, handler, eventbus.Once())
}
