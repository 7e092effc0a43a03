// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package eventbus implements the synchronous publish/subscribe channel that
// carries core lifecycle events and plugin-defined custom events.
//
// Emit delivers to the subscribers present when it is called, highest
// priority first and in subscription order among equal priorities. Each
// handler runs behind its own error boundary: a returned error or a panic is
// logged and counted, and delivery continues with the next handler.
package eventbus

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/pkg/errutil"
)

// Handler receives an event. A returned error is logged and does not stop
// delivery to other handlers.
type Handler func(Event) error

// Option configures a subscription.
type Option func(*subscription)

// Once removes the subscription after its first delivery.
func Once() Option {
	return func(s *subscription) { s.once = true }
}

// WithPriority orders delivery; higher priorities run first. The default is 0.
func WithPriority(priority int) Option {
	return func(s *subscription) { s.priority = priority }
}

// WithOwner tags the subscription with the plugin that created it so it can
// be removed with UnsubscribeOwner.
func WithOwner(pluginID string) Option {
	return func(s *subscription) { s.owner = pluginID }
}

type subscription struct {
	id       uint64
	typ      string
	owner    string
	priority int
	once     bool
	handler  Handler
	removed  atomic.Bool
}

// Bus is an event bus. The zero value is not usable; call New.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]*subscription
	nextID  uint64
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) BusOption {
	return func(b *Bus) { b.metrics = m }
}

// New creates an event bus.
func New(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[string][]*subscription),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for eventType and returns a function that
// removes it. Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...Option) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, typ: eventType, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}

	list := append(b.subs[eventType], sub)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].id < list[j].id
	})
	b.subs[eventType] = list

	return func() { b.remove(sub) }
}

// SubscribePayload subscribes a handler that receives the payload of each
// event asserted to T. Events whose payload is not a T are skipped.
func SubscribePayload[T any](b *Bus, eventType string, fn func(T) error, opts ...Option) func() {
	return b.Subscribe(eventType, func(e Event) error {
		payload, ok := e.Payload.(T)
		if !ok {
			return nil
		}
		return fn(payload)
	}, opts...)
}

func (b *Bus) remove(sub *subscription) {
	if !sub.removed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.typ]
	for i, s := range list {
		if s == sub {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, sub.typ)
		return
	}
	b.subs[sub.typ] = list
}

// UnsubscribeOwner removes every subscription created with WithOwner(pluginID)
// and returns how many were removed.
func (b *Bus) UnsubscribeOwner(pluginID string) int {
	if pluginID == "" {
		return 0
	}

	b.mu.Lock()
	var owned []*subscription
	for _, list := range b.subs {
		for _, s := range list {
			if s.owner == pluginID {
				owned = append(owned, s)
			}
		}
	}
	b.mu.Unlock()

	removed := 0
	for _, s := range owned {
		if !s.removed.Load() {
			b.remove(s)
			removed++
		}
	}
	return removed
}

// SubscriberCount returns the number of live subscriptions for eventType.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[eventType])
}

// Emit publishes an event from the host.
func (b *Bus) Emit(eventType string, payload any) Event {
	return b.EmitFrom("", eventType, payload)
}

// EmitFrom publishes an event attributed to source, usually a plugin id. It
// returns after every handler has run.
func (b *Bus) EmitFrom(source, eventType string, payload any) Event {
	now := b.now()
	ev := Event{
		ID:      newID(now),
		Type:    eventType,
		Source:  source,
		Payload: payload,
		Time:    now,
	}
	b.metrics.RecordEmit(kind(eventType))

	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs[eventType]))
	copy(snapshot, b.subs[eventType])
	b.mu.Unlock()

	for _, sub := range snapshot {
		if sub.once {
			// Claim the single delivery; a concurrent emit may have taken it.
			if !sub.removed.CompareAndSwap(false, true) {
				continue
			}
			b.forget(sub)
		} else if sub.removed.Load() {
			continue
		}
		b.deliver(sub, ev)
	}
	return ev
}

// forget drops an already-claimed subscription from the index.
func (b *Bus) forget(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.typ]
	for i, s := range list {
		if s == sub {
			b.subs[sub.typ] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.typ]) == 0 {
		delete(b.subs, sub.typ)
	}
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerFailure(kind(ev.Type))
			errutil.LogError(b.logger, "event handler panicked",
				oops.Code("HANDLER_PANIC").
					With("event_type", ev.Type).
					With("owner", sub.owner).
					Errorf("panic: %v", r))
		}
	}()

	if err := sub.handler(ev); err != nil {
		b.metrics.RecordHandlerFailure(kind(ev.Type))
		errutil.LogError(b.logger, "event handler failed", err,
			"event_type", ev.Type,
			"event_id", ev.ID.String(),
			"owner", sub.owner)
	}
}
