// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package service holds single-provider service implementations keyed by id.
//
// The last Provide for an id wins. Consumers that looked a service up before
// it was replaced keep their old reference; nothing tells them about the swap.
package service

import (
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/pkg/errutil"
)

// Callback receives a service implementation when it first becomes available.
type Callback func(impl any)

type entry struct {
	impl     any
	provider string
}

type waiter struct {
	id uint64
	cb Callback
}

// Registry stores service implementations. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[string]entry
	waiting  map[string][]waiter
	nextID   uint64
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty service registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		services: make(map[string]entry),
		waiting:  make(map[string][]waiter),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provide stores impl under id, replacing any previous provider. Callbacks
// waiting for id run once, in registration order, before Provide returns.
func (r *Registry) Provide(id string, impl any, providerID string) error {
	if id == "" {
		return oops.Code("INVALID_SERVICE").With("provider", providerID).Errorf("service id is required")
	}

	r.mu.Lock()
	prev, replaced := r.services[id]
	r.services[id] = entry{impl: impl, provider: providerID}
	waiters := r.waiting[id]
	delete(r.waiting, id)
	r.mu.Unlock()

	r.metrics.RecordServiceProvided()
	if replaced {
		r.logger.Debug("service replaced",
			"service", id,
			"provider", providerID,
			"previous_provider", prev.provider)
	}

	for _, w := range waiters {
		r.notify(id, w.cb, impl)
	}
	return nil
}

func (r *Registry) notify(id string, cb Callback, impl any) {
	defer func() {
		if rec := recover(); rec != nil {
			errutil.LogError(r.logger, "service availability callback panicked",
				oops.Code("CALLBACK_PANIC").With("service", id).Errorf("panic: %v", rec))
		}
	}()
	cb(impl)
}

// Consume returns the current implementation of id.
func (r *Registry) Consume(id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[id]
	return e.impl, ok
}

// Consume returns the implementation of id asserted to T.
func Consume[T any](r *Registry, id string) (T, error) {
	var zero T
	impl, ok := r.Consume(id)
	if !ok {
		return zero, oops.Code("SERVICE_NOT_FOUND").With("service", id).Errorf("service %q not provided", id)
	}
	typed, ok := impl.(T)
	if !ok {
		return zero, oops.Code("SERVICE_TYPE_MISMATCH").
			With("service", id).
			Errorf("service %q is %T, want %s", id, impl, reflect.TypeFor[T]())
	}
	return typed, nil
}

// OnAvailable calls cb with the implementation of id: immediately when it is
// already provided, otherwise once at the first Provide. Later Provide calls
// do not fire it again. The returned function cancels a pending callback.
func (r *Registry) OnAvailable(id string, cb Callback) func() {
	r.mu.Lock()
	if e, ok := r.services[id]; ok {
		r.mu.Unlock()
		r.notify(id, cb, e.impl)
		return func() {}
	}
	r.nextID++
	wid := r.nextID
	r.waiting[id] = append(r.waiting[id], waiter{id: wid, cb: cb})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.waiting[id]
		for i, w := range list {
			if w.id == wid {
				r.waiting[id] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(r.waiting[id]) == 0 {
			delete(r.waiting, id)
		}
	}
}

// Has reports whether id is provided.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[id]
	return ok
}

// Provider returns the id of the plugin that provided id.
func (r *Registry) Provider(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[id]
	return e.provider, ok
}

// IDs returns every provided service id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveProvider withdraws the services whose current provider is
// providerID and returns their ids, sorted.
func (r *Registry) RemoveProvider(providerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, e := range r.services {
		if e.provider == providerID {
			delete(r.services, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}
