// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package pluginctx builds the capability-gated context handed to each
// activating plugin.
//
// Every facade member checks the plugin's effective capability set. A call
// the plugin is not allowed to make does nothing and returns zero values,
// so plugins written against a capability they lack degrade instead of
// failing.
package pluginctx

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/schemastudio/studio/internal/document"
	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/extension"
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/internal/service"
	"github.com/schemastudio/studio/internal/storage"
)

// Activation event prefixes the context turns into registry triggers.
const (
	OnEventPrefix   = "onEvent:"
	OnServicePrefix = "onService:"
	OnSlotPrefix    = "onSlot:"
)

// ActivationTrigger receives activation events raised by plugin actions.
type ActivationTrigger interface {
	TriggerActivationEvent(ctx context.Context, name string)
}

// Deps are the collaborators a Factory wires into contexts. Nil members are
// replaced with fresh, empty instances.
type Deps struct {
	Bus        *eventbus.Bus
	Extensions *extension.Registry
	Services   *service.Registry
	Document   *document.Document
	Storage    storage.Store
	Logger     *slog.Logger
}

// Factory builds plugin contexts over one set of registries.
type Factory struct {
	deps    Deps
	trigger atomic.Pointer[ActivationTrigger]
}

// NewFactory creates a factory.
func NewFactory(deps Deps) *Factory {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New(eventbus.WithLogger(deps.Logger))
	}
	if deps.Extensions == nil {
		deps.Extensions = extension.NewRegistry(extension.WithLogger(deps.Logger))
	}
	if deps.Services == nil {
		deps.Services = service.NewRegistry(service.WithLogger(deps.Logger))
	}
	if deps.Document == nil {
		deps.Document = document.New(document.WithPublisher(deps.Bus))
	}
	if deps.Storage == nil {
		deps.Storage = storage.NewMemory()
	}
	return &Factory{deps: deps}
}

// Deps returns the collaborators the factory wires into contexts.
func (f *Factory) Deps() Deps {
	return f.deps
}

// SetTrigger installs the receiver of onEvent:/onService:/onSlot: activation
// events. Without one they are dropped.
func (f *Factory) SetTrigger(t ActivationTrigger) {
	f.trigger.Store(&t)
}

func (f *Factory) fire(name string) {
	t := f.trigger.Load()
	if t == nil || *t == nil {
		return
	}
	(*t).TriggerActivationEvent(context.Background(), name)
}

// Spec identifies the plugin a context is built for.
type Spec struct {
	PluginID     string
	Version      string
	Capabilities capability.Set
}

// Build creates a context for spec.PluginID limited to spec.Capabilities.
func (f *Factory) Build(spec Spec) *Context {
	c := &Context{
		id:      spec.PluginID,
		version: spec.Version,
		caps:    spec.Capabilities,
		log:     f.deps.Logger.With("plugin", spec.PluginID),
		factory: f,
	}
	g := gate{pc: c}
	c.events = &Events{gate: g}
	c.actions = &Actions{gate: g}
	c.ui = &UI{gate: g}
	c.services = &Services{gate: g}
	c.extensions = &Extensions{gate: g}
	c.storage = &Storage{gate: g}
	return c
}

// Context is one plugin's view of the runtime.
type Context struct {
	id      string
	version string
	caps    capability.Set
	log     *slog.Logger
	factory *Factory

	events     *Events
	actions    *Actions
	ui         *UI
	services   *Services
	extensions *Extensions
	storage    *Storage

	mu       sync.Mutex
	cleanups []func()
	released atomic.Bool
}

// PluginID returns the owning plugin's id.
func (c *Context) PluginID() string { return c.id }

// Version returns the owning plugin's version.
func (c *Context) Version() string { return c.version }

// Capabilities returns the effective capability set.
func (c *Context) Capabilities() capability.Set { return c.caps }

// Log returns the plugin logger. Logging needs no capability.
func (c *Context) Log() *slog.Logger { return c.log }

// Events returns the event facade.
func (c *Context) Events() *Events { return c.events }

// Actions returns the document and selection facade.
func (c *Context) Actions() *Actions { return c.actions }

// UI returns the UI state facade.
func (c *Context) UI() *UI { return c.ui }

// Services returns the service facade.
func (c *Context) Services() *Services { return c.services }

// Extensions returns the extension facade.
func (c *Context) Extensions() *Extensions { return c.extensions }

// Storage returns the plugin-local storage facade.
func (c *Context) Storage() *Storage { return c.storage }

// Released reports whether Release has run.
func (c *Context) Released() bool { return c.released.Load() }

// Release drops the plugin's event subscriptions and pending service
// callbacks. Every facade member is inert afterwards.
func (c *Context) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	cleanups := c.cleanups
	c.cleanups = nil
	c.mu.Unlock()

	for _, fn := range cleanups {
		fn()
	}
	if n := c.factory.deps.Bus.UnsubscribeOwner(c.id); n > 0 {
		c.log.Debug("event subscriptions removed", "count", n)
	}
}

func (c *Context) track(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, fn)
}

// gate decides whether a facade call may proceed.
type gate struct {
	pc *Context
}

func (g gate) deps() Deps { return g.pc.factory.deps }

// allow reports whether the plugin holds c. Denied calls log at debug level.
func (g gate) allow(c capability.Capability, operation string) bool {
	if g.pc.released.Load() {
		g.pc.log.Debug("context released", "operation", operation)
		return false
	}
	if g.pc.caps.Has(c) {
		return true
	}
	g.pc.log.Debug("capability not granted",
		"capability", c.String(),
		"operation", operation)
	return false
}

// allowAny is allow for operations reachable through any of caps.
func (g gate) allowAny(operation string, caps ...capability.Capability) bool {
	for _, c := range caps {
		if g.pc.caps.Has(c) {
			return g.allow(c, operation)
		}
	}
	return g.allow(caps[0], operation)
}
