// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package pluginctx_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/extension"
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/internal/pluginctx"
)

type triggerRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *triggerRecorder) TriggerActivationEvent(_ context.Context, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *triggerRecorder) fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newFactory(t *testing.T) (*pluginctx.Factory, *triggerRecorder) {
	t.Helper()
	f := pluginctx.NewFactory(pluginctx.Deps{})
	rec := &triggerRecorder{}
	f.SetTrigger(rec)
	require.NoError(t, f.Deps().Document.Load("test", []byte(`{"root":{"kind":"VStack","children":[]}}`)))
	return f, rec
}

func build(f *pluginctx.Factory, id string, caps ...capability.Capability) *pluginctx.Context {
	return f.Build(pluginctx.Spec{PluginID: id, Version: "1.0.0", Capabilities: capability.NewSet(caps...)})
}

func TestContext_Identity(t *testing.T) {
	f, _ := newFactory(t)
	c := build(f, "tree-view", capability.DocumentRead)
	assert.Equal(t, "tree-view", c.PluginID())
	assert.Equal(t, "1.0.0", c.Version())
	assert.True(t, c.Capabilities().Has(capability.DocumentRead))
	assert.NotNil(t, c.Log())
}

func TestContext_FacadesWithoutCapabilitiesAreInert(t *testing.T) {
	ctx := context.Background()
	f, rec := newFactory(t)
	c := build(f, "bare")
	deps := f.Deps()

	_, ok := c.Actions().Get("root.kind")
	assert.False(t, ok)
	assert.Nil(t, c.Actions().Raw())
	assert.NoError(t, c.Actions().Set("root.kind", "HStack"))
	assert.NoError(t, c.Actions().Delete("root"))
	assert.NoError(t, c.Actions().Select("root"))
	assert.Empty(t, c.Actions().Selection())

	kind, _ := deps.Document.Get("root.kind")
	assert.Equal(t, "VStack", kind, "document must be untouched")
	assert.Empty(t, deps.Document.Selection())

	assert.False(t, c.Events().Emit("bare:ping", nil))
	assert.NotNil(t, c.Events().Subscribe("bare:ping", func(eventbus.Event) error { return nil }))
	assert.Zero(t, deps.Bus.SubscriberCount("bare:ping"))

	assert.NoError(t, c.Services().Provide("clipboard", "impl"))
	assert.False(t, deps.Services.Has("clipboard"))
	_, ok = c.Services().Consume("clipboard")
	assert.False(t, ok)

	assert.NoError(t, c.Extensions().DefinePoint("bare.points", extension.Schema{}, extension.Multiple))
	assert.False(t, deps.Extensions.HasPoint("bare.points"))
	assert.Empty(t, c.Extensions().Contributions("bare.points"))
	assert.NotNil(t, c.Extensions().Contributions("bare.points"))

	require.NoError(t, c.Storage().Set(ctx, "k", []byte("v")))
	keys, err := c.Storage().Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.Empty(t, c.UI().Theme())
	assert.False(t, c.UI().RevealSlot(slot.Main))

	assert.Empty(t, rec.fired())
}

func TestEvents_CoreEventsNeedNoCapability(t *testing.T) {
	f, _ := newFactory(t)
	c := build(f, "watcher")

	var got []string
	c.Events().Subscribe(eventbus.DocumentChanged, func(e eventbus.Event) error {
		got = append(got, e.Payload.(eventbus.DocumentChangedPayload).Path)
		return nil
	})
	require.NoError(t, f.Deps().Document.Set("root.kind", "HStack"))
	assert.Equal(t, []string{"root.kind"}, got)
}

func TestEvents_EmitRaisesActivationEvent(t *testing.T) {
	f, rec := newFactory(t)
	emitter := build(f, "tree-view", capability.EventsEmit)
	listener := build(f, "inspector", capability.EventsSubscribe)

	var sources []string
	listener.Events().Subscribe("tree-view:expanded", func(e eventbus.Event) error {
		sources = append(sources, e.Source)
		return nil
	})

	assert.True(t, emitter.Events().Emit("tree-view:expanded", map[string]any{"path": "root"}))
	assert.Equal(t, []string{"tree-view"}, sources)
	assert.Equal(t, []string{"onEvent:tree-view:expanded"}, rec.fired())
}

func TestEvents_Once(t *testing.T) {
	f, _ := newFactory(t)
	c := build(f, "p", capability.EventsEmit, capability.EventsSubscribe)
	calls := 0
	c.Events().Once("p:tick", func(eventbus.Event) error { calls++; return nil })
	c.Events().Emit("p:tick", nil)
	c.Events().Emit("p:tick", nil)
	assert.Equal(t, 1, calls)
}

func TestActions_WithCapabilities(t *testing.T) {
	f, _ := newFactory(t)
	c := build(f, "inspector",
		capability.DocumentRead, capability.DocumentWrite,
		capability.SelectionRead, capability.SelectionWrite)

	require.NoError(t, c.Actions().Set("root.kind", "HStack"))
	v, ok := c.Actions().Get("root.kind")
	assert.True(t, ok)
	assert.Equal(t, "HStack", v)

	require.NoError(t, c.Actions().Select("root"))
	assert.Equal(t, "root", c.Actions().Selection())

	require.NoError(t, c.Actions().Delete("root.children"))
	_, ok = c.Actions().Get("root.children")
	assert.False(t, ok)

	require.NoError(t, c.Actions().Load("other", []byte(`{"a":1}`)))
	assert.JSONEq(t, `{"a":1}`, string(c.Actions().Raw()))

	report, err := c.Actions().Validate()
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestUI(t *testing.T) {
	f, rec := newFactory(t)
	c := build(f, "chrome", capability.UIRead, capability.UIWrite)

	c.UI().SetTheme("dark")
	assert.Equal(t, "dark", c.UI().Theme())

	assert.True(t, c.UI().RevealSlot(slot.SidebarLeft))
	assert.False(t, c.UI().RevealSlot(slot.ID("footer")))
	assert.Equal(t, []string{"onSlot:sidebar:left"}, rec.fired())
}

func TestServices_ProvideAnnouncesAndTriggers(t *testing.T) {
	f, rec := newFactory(t)
	provider := build(f, "drag-drop", capability.ServicesProvide)
	consumer := build(f, "canvas", capability.ServicesConsume)

	var announced []eventbus.ServiceRegisteredPayload
	eventbus.SubscribePayload(f.Deps().Bus, eventbus.ServiceRegistered, func(p eventbus.ServiceRegisteredPayload) error {
		announced = append(announced, p)
		return nil
	})

	var delivered []any
	consumer.Services().OnAvailable("drag-drop", func(impl any) { delivered = append(delivered, impl) })

	require.NoError(t, provider.Services().Provide("drag-drop", "v1"))
	require.NoError(t, provider.Services().Provide("drag-drop", "v2"))

	assert.Equal(t, []any{"v1"}, delivered)
	require.Len(t, announced, 2)
	assert.Equal(t, "drag-drop", announced[0].ProviderID)
	assert.Equal(t, []string{"onService:drag-drop", "onService:drag-drop"}, rec.fired())

	impl, ok := pluginctx.Consume[string](consumer.Services(), "drag-drop")
	assert.True(t, ok)
	assert.Equal(t, "v2", impl)

	_, ok = pluginctx.Consume[int](consumer.Services(), "drag-drop")
	assert.False(t, ok)
}

func TestExtensions(t *testing.T) {
	f, _ := newFactory(t)
	owner := build(f, "inspector", capability.ExtensionsDefine)
	contributor := build(f, "layout", capability.ExtensionsContribute)

	schema := extension.Schema{Fields: []extension.Field{{Name: "title", Type: "string", Required: true}}}
	require.NoError(t, owner.Extensions().DefinePoint("inspector.sections", schema, extension.Multiple))
	require.NoError(t, contributor.Extensions().Contribute("inspector.sections", 1, map[string]any{"title": "Layout"}))

	var cerr *extension.ContributionError
	require.ErrorAs(t, contributor.Extensions().Contribute("inspector.sections", 1, map[string]any{}), &cerr)

	got := owner.Extensions().Contributions("inspector.sections")
	require.Len(t, got, 1)
	assert.Equal(t, "layout", got[0].PluginID)

	assert.Equal(t, 1, contributor.Extensions().Withdraw("inspector.sections"))
	assert.Empty(t, contributor.Extensions().Contributions("inspector.sections"))
}

func TestStorage_ScopedToPlugin(t *testing.T) {
	ctx := context.Background()
	f, _ := newFactory(t)
	a := build(f, "a", capability.StorageLocal)
	b := build(f, "b", capability.StorageLocal)

	require.NoError(t, a.Storage().Set(ctx, "zoom", []byte("2")))
	_, ok, err := b.Storage().Get(ctx, "zoom")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := a.Storage().Get(ctx, "zoom")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", string(v))

	require.NoError(t, a.Storage().Delete(ctx, "zoom"))
	keys, err := a.Storage().Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRelease(t *testing.T) {
	f, _ := newFactory(t)
	c := build(f, "p", capability.EventsEmit, capability.EventsSubscribe, capability.ServicesConsume)
	deps := f.Deps()

	c.Events().Subscribe("p:tick", func(eventbus.Event) error { return nil })
	c.Events().Subscribe(eventbus.ThemeChanged, func(eventbus.Event) error { return nil })
	called := false
	c.Services().OnAvailable("later", func(any) { called = true })

	c.Release()
	c.Release()
	assert.True(t, c.Released())

	assert.Zero(t, deps.Bus.SubscriberCount("p:tick"))
	assert.Zero(t, deps.Bus.SubscriberCount(eventbus.ThemeChanged))

	require.NoError(t, deps.Services.Provide("later", 1, "other"))
	assert.False(t, called)

	assert.False(t, c.Events().Emit("p:tick", nil))
	c.Events().Subscribe(eventbus.ThemeChanged, func(eventbus.Event) error { return nil })
	assert.Zero(t, deps.Bus.SubscriberCount(eventbus.ThemeChanged))
}
