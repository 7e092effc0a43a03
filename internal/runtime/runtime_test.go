// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package runtime_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/internal/plugin"
	"github.com/schemastudio/studio/internal/plugin/plugintest"
	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/internal/pluginctx"
	"github.com/schemastudio/studio/internal/runtime"
	"github.com/schemastudio/studio/pkg/errutil"
)

func manifest(id string, events ...string) *plugin.Manifest {
	m := &plugin.Manifest{
		ID:         id,
		Name:       id,
		Version:    "1.0.0",
		APIVersion: plugin.SupportedAPIVersion,
	}
	if len(events) > 0 {
		m.Activation = plugin.ActivationLazy
		m.ActivationEvents = events
	}
	return m
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ = Describe("Runtime", func() {
	var (
		ctx     context.Context
		rt      *runtime.Runtime
		journal *plugintest.Journal
	)

	BeforeEach(func() {
		ctx = context.Background()
		journal = &plugintest.Journal{}
		rt = runtime.New(runtime.WithLogger(discard()), runtime.WithRetryPolicy(time.Millisecond, 2))
	})

	AfterEach(func() {
		Expect(rt.Close(ctx)).To(Succeed())
	})

	register := func(p plugin.Plugin) {
		Expect(rt.Register(ctx, p).Err()).NotTo(HaveOccurred())
	}

	statusOf := func(id string) plugin.Status {
		p, ok := rt.Registry().Get(id)
		Expect(ok).To(BeTrue(), "plugin %s not registered", id)
		return p.Status
	}

	It("gives every runtime its own registries", func() {
		other := runtime.New(runtime.WithLogger(discard()))
		defer func() { Expect(other.Close(ctx)).To(Succeed()) }()

		register(plugintest.New(manifest("canvas"), journal))
		Expect(rt.Registry().List()).To(HaveLen(1))
		Expect(other.Registry().List()).To(BeEmpty())
		Expect(other.Bus()).NotTo(BeIdenticalTo(rt.Bus()))
	})

	Describe("Start", func() {
		It("activates plugins waiting for onStartup", func() {
			register(plugintest.New(manifest("canvas", runtime.OnStartup), journal))
			Expect(statusOf("canvas")).To(Equal(plugin.StatusRegistered))

			Expect(rt.Start(ctx)).To(Succeed())
			Expect(statusOf("canvas")).To(Equal(plugin.StatusActive))
		})

		It("refuses a second start", func() {
			Expect(rt.Start(ctx)).To(Succeed())
			err := rt.Start(ctx)
			Expect(err).To(HaveOccurred())
			Expect(errutil.Code(err)).To(Equal("ALREADY_STARTED"))
		})

		It("refuses to start once closed", func() {
			Expect(rt.Close(ctx)).To(Succeed())
			err := rt.Start(ctx)
			Expect(err).To(HaveOccurred())
			Expect(errutil.Code(err)).To(Equal("RUNTIME_CLOSED"))
		})

		It("loads the plugins directory", func() {
			dir := GinkgoT().TempDir()
			pluginDir := filepath.Join(dir, "outline")
			Expect(os.MkdirAll(pluginDir, 0o750)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(pluginDir, plugin.ManifestFile), []byte(`id: outline
name: Outline
version: 1.0.0
apiVersion: "1.0"
activation: lazy
activationEvents:
  - onStartup
capabilities:
  - events:emit
lua:
  entry: main.lua
`), 0o600)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(pluginDir, "main.lua"),
				[]byte(`function on_activate() studio.emit("outline:ready") end`), 0o600)).To(Succeed())

			dirRT := runtime.New(runtime.WithLogger(discard()), runtime.WithPluginsDir(dir))
			defer func() { Expect(dirRT.Close(ctx)).To(Succeed()) }()

			var ready atomic.Int32
			dirRT.Bus().Subscribe("outline:ready", func(eventbus.Event) error {
				ready.Add(1)
				return nil
			})

			Expect(dirRT.Start(ctx)).To(Succeed())
			p, ok := dirRT.Registry().Get("outline")
			Expect(ok).To(BeTrue())
			Expect(p.Status).To(Equal(plugin.StatusActive))
			Expect(ready.Load()).To(Equal(int32(1)))
		})

		It("skips disabled plugins in the directory", func() {
			dir := GinkgoT().TempDir()
			pluginDir := filepath.Join(dir, "canvas")
			Expect(os.MkdirAll(pluginDir, 0o750)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(pluginDir, plugin.ManifestFile),
				[]byte("id: canvas\nname: Canvas\nversion: 1.0.0\napiVersion: \"1.0\"\n"), 0o600)).To(Succeed())

			dirRT := runtime.New(runtime.WithLogger(discard()), runtime.WithPluginsDir(dir), runtime.WithDisabled("canvas"))
			defer func() { Expect(dirRT.Close(ctx)).To(Succeed()) }()

			Expect(dirRT.Start(ctx)).To(Succeed())
			Expect(dirRT.Registry().List()).To(BeEmpty())
		})
	})

	Describe("Emit", func() {
		It("delivers to subscribers before lazy plugins activate", func() {
			m := manifest("exporter", pluginctx.OnEventPrefix+"export:requested")
			m.Capabilities = []string{"events:subscribe"}
			p := plugintest.New(m, journal)
			p.Activate = func(_ context.Context, pc *pluginctx.Context) error {
				pc.Events().Subscribe("export:requested", func(eventbus.Event) error {
					journal.Add("exporter:received")
					return nil
				})
				return nil
			}
			register(p)
			rt.Bus().Subscribe("export:requested", func(eventbus.Event) error {
				journal.Add("host:received")
				return nil
			})

			ev := rt.Emit(ctx, "export:requested", map[string]any{"format": "json"})
			Expect(ev.Type).To(Equal("export:requested"))
			Expect(ev.Source).To(BeEmpty())
			Expect(journal.Entries()).To(Equal([]string{"host:received", "exporter:load", "exporter:activate"}))

			rt.Emit(ctx, "export:requested", nil)
			Expect(journal.Count("exporter:received")).To(Equal(1))
		})

		It("activates plugins on document events", func() {
			register(plugintest.New(manifest("inspector", pluginctx.OnEventPrefix+eventbus.SelectionChanged), journal))
			Expect(rt.Document().Load("doc.json", []byte(`{"root":{"kind":"Text"}}`))).To(Succeed())
			Expect(statusOf("inspector")).To(Equal(plugin.StatusRegistered))

			Expect(rt.Document().Select("root")).To(Succeed())
			Expect(statusOf("inspector")).To(Equal(plugin.StatusActive))
		})

		It("does not treat host-emitted core events as document events", func() {
			register(plugintest.New(manifest("inspector", pluginctx.OnEventPrefix+eventbus.ThemeChanged), journal))
			rt.Bus().Emit(eventbus.ThemeChanged, eventbus.ThemeChangedPayload{Theme: "dark"})
			Expect(statusOf("inspector")).To(Equal(plugin.StatusRegistered))
		})
	})

	Describe("RevealSlot", func() {
		BeforeEach(func() {
			m := manifest("tree-view", pluginctx.OnSlotPrefix+string(slot.SidebarLeft))
			m.Slots = []plugin.SlotRegistration{
				{Slot: string(slot.SidebarLeft), Component: "TreeView"},
				{Slot: string(slot.SidebarLeft), Component: "TextTools", Priority: 5, When: `selection.kind == "Text"`},
			}
			register(plugintest.New(m, journal))
		})

		It("activates the slot's lazy plugins and returns visible entries", func() {
			Expect(rt.SlotEntries(slot.SidebarLeft)).To(BeEmpty())

			entries := rt.RevealSlot(ctx, slot.SidebarLeft)
			Expect(statusOf("tree-view")).To(Equal(plugin.StatusActive))
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Component).To(Equal("TreeView"))
		})

		It("evaluates predicates against the current selection", func() {
			Expect(rt.Document().Load("doc.json", []byte(`{"title":{"kind":"Text"}}`))).To(Succeed())
			Expect(rt.Document().Select("title")).To(Succeed())

			entries := rt.RevealSlot(ctx, slot.SidebarLeft)
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].Component).To(Equal("TextTools"))
		})
	})

	Describe("RetryFailed", func() {
		It("recovers plugins whose failure was transient", func() {
			var attempts atomic.Int32
			p := plugintest.New(manifest("flaky"), journal)
			p.Activate = func(context.Context, *pluginctx.Context) error {
				if attempts.Add(1) < 3 {
					return errors.New("backend unavailable")
				}
				return nil
			}
			register(p)
			Expect(statusOf("flaky")).To(Equal(plugin.StatusError))

			recovered, err := rt.RetryFailed(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recovered).To(Equal([]string{"flaky"}))
			Expect(statusOf("flaky")).To(Equal(plugin.StatusActive))
			Expect(attempts.Load()).To(Equal(int32(3)))
		})

		It("reports plugins that keep failing", func() {
			var attempts atomic.Int32
			p := plugintest.New(manifest("broken"), journal)
			p.Activate = func(context.Context, *pluginctx.Context) error {
				attempts.Add(1)
				return errors.New("always fails")
			}
			register(p)
			register(plugintest.New(manifest("healthy"), journal))

			recovered, err := rt.RetryFailed(ctx)
			Expect(err).To(MatchError(ContainSubstring("broken")))
			Expect(recovered).To(BeEmpty())
			Expect(statusOf("broken")).To(Equal(plugin.StatusError))
			Expect(statusOf("healthy")).To(Equal(plugin.StatusActive))
			// One attempt at registration, then the initial try and two retries.
			Expect(attempts.Load()).To(Equal(int32(4)))
		})

		It("stops when the context is cancelled", func() {
			p := plugintest.New(manifest("broken"), journal)
			p.Activate = func(context.Context, *pluginctx.Context) error { return errors.New("always fails") }
			register(p)

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := rt.RetryFailed(cancelled)
			Expect(err).To(HaveOccurred())
			Expect(statusOf("broken")).To(Equal(plugin.StatusError))
		})
	})

	Describe("Close", func() {
		It("unregisters plugins in reverse registration order", func() {
			register(plugintest.New(manifest("first"), journal))
			register(plugintest.New(manifest("second"), journal))
			register(plugintest.New(manifest("third", runtime.OnStartup), journal))

			Expect(rt.Close(ctx)).To(Succeed())
			Expect(rt.Registry().List()).To(BeEmpty())

			var teardown []string
			for _, e := range journal.Entries() {
				if e == "first:deactivate" || e == "second:deactivate" ||
					e == "first:unload" || e == "second:unload" || e == "third:unload" {
					teardown = append(teardown, e)
				}
			}
			Expect(teardown).To(Equal([]string{
				"third:unload",
				"second:deactivate", "second:unload",
				"first:deactivate", "first:unload",
			}))
		})

		It("is idempotent", func() {
			register(plugintest.New(manifest("canvas"), journal))
			Expect(rt.Close(ctx)).To(Succeed())
			Expect(rt.Close(ctx)).To(Succeed())
			Expect(journal.Count("canvas:unload")).To(Equal(1))
		})

		It("stops forwarding document events", func() {
			register(plugintest.New(manifest("inspector", pluginctx.OnEventPrefix+eventbus.DocumentLoaded), journal))
			Expect(rt.Close(ctx)).To(Succeed())
			Expect(rt.Bus().SubscriberCount(eventbus.DocumentLoaded)).To(BeZero())
		})
	})

	It("records metrics through the shared sink", func() {
		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg)
		metered := runtime.New(runtime.WithLogger(discard()), runtime.WithMetrics(metrics))
		defer func() { Expect(metered.Close(ctx)).To(Succeed()) }()

		Expect(metered.Register(ctx, plugintest.New(manifest("canvas"), nil)).Err()).NotTo(HaveOccurred())
		metered.Emit(ctx, "canvas:zoomed", nil)

		Expect(testutil.ToFloat64(metrics.ActivationsTotal.WithLabelValues(observability.ResultSuccess))).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.EventsEmittedTotal.WithLabelValues("custom"))).To(Equal(1.0))
	})
})
