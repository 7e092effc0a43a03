// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package pluginctx

import (
	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/internal/service"
)

// Services provides and consumes services.
type Services struct {
	gate
}

// Provide registers impl under id with the plugin as provider, announces it
// with service:registered and raises onService:<id>. Requires
// services:provide.
func (s *Services) Provide(id string, impl any) error {
	if !s.allow(capability.ServicesProvide, "services.provide") {
		return nil
	}
	if err := s.deps().Services.Provide(id, impl, s.pc.id); err != nil {
		return err
	}
	s.deps().Bus.EmitFrom(s.pc.id, eventbus.ServiceRegistered, eventbus.ServiceRegisteredPayload{
		ServiceID:  id,
		ProviderID: s.pc.id,
	})
	s.pc.factory.fire(OnServicePrefix + id)
	return nil
}

// Consume looks id up without blocking. Requires services:consume.
func (s *Services) Consume(id string) (any, bool) {
	if !s.allow(capability.ServicesConsume, "services.consume") {
		return nil, false
	}
	return s.deps().Services.Consume(id)
}

// OnAvailable calls cb once id is first provided, or immediately if it
// already is. Requires services:consume. Pending callbacks are dropped when
// the plugin deactivates.
func (s *Services) OnAvailable(id string, cb service.Callback) func() {
	if !s.allow(capability.ServicesConsume, "services.onAvailable") {
		return func() {}
	}
	unsubscribe := s.deps().Services.OnAvailable(id, cb)
	s.pc.track(unsubscribe)
	return unsubscribe
}

// Consume is Services.Consume with the implementation asserted to T.
func Consume[T any](s *Services, id string) (T, bool) {
	var zero T
	impl, ok := s.Consume(id)
	if !ok {
		return zero, false
	}
	typed, ok := impl.(T)
	if !ok {
		s.pc.log.Debug("service has unexpected type", "service", id)
		return zero, false
	}
	return typed, true
}
