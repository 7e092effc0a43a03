// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

//go:build integration

package plugin_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/schemastudio/studio/internal/document"
	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/plugin"
	"github.com/schemastudio/studio/internal/plugin/hostfunc"
	pluginlua "github.com/schemastudio/studio/internal/plugin/lua"
	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/internal/pluginctx"
	"github.com/schemastudio/studio/internal/storage"
)

const sampleDocument = `{
  "components": [
    {"kind": "Text", "props": {"title": "Hello"}},
    {"kind": "Image", "props": {"src": "logo.png"}}
  ]
}`

// findPluginsDir locates the repository's plugins directory relative to the
// test's working directory.
func findPluginsDir() string {
	cwd, err := os.Getwd()
	Expect(err).NotTo(HaveOccurred())

	for _, candidate := range []string{"../../plugins", "../../../plugins", "./plugins"} {
		abs, err := filepath.Abs(filepath.Join(cwd, candidate))
		if err != nil {
			continue
		}
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			return abs
		}
	}
	Fail("could not find plugins directory from " + cwd)
	return ""
}

var _ = Describe("Bundled plugins", func() {
	var (
		ctx      context.Context
		bus      *eventbus.Bus
		doc      *document.Document
		factory  *pluginctx.Factory
		registry *plugin.Registry
		manager  *plugin.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		bus = eventbus.New(eventbus.WithLogger(logger))
		doc = document.New(document.WithPublisher(bus))
		factory = pluginctx.NewFactory(pluginctx.Deps{
			Bus:      bus,
			Document: doc,
			Storage:  storage.NewMemory(),
			Logger:   logger,
		})
		registry = plugin.NewRegistry(factory, plugin.WithLogger(logger))
		host := pluginlua.NewHost(pluginlua.WithLogger(logger))
		manager = plugin.NewManager(findPluginsDir(), registry,
			plugin.WithLuaLoader(host),
			plugin.WithManagerLogger(logger))

		Expect(manager.LoadAll(ctx)).To(Succeed())
	})

	AfterEach(func() {
		Expect(manager.Close(ctx)).To(Succeed())
	})

	statusOf := func(id string) plugin.Status {
		p, ok := registry.Get(id)
		Expect(ok).To(BeTrue(), "plugin %s not registered", id)
		return p.Status
	}

	sectionTitles := func() []any {
		var titles []any
		for _, c := range factory.Deps().Extensions.Contributions("inspector.sections") {
			titles = append(titles, c.Data["title"])
		}
		return titles
	}

	It("registers every bundled plugin", func() {
		Expect(manager.ListPlugins()).To(ConsistOf("inspector", "outline", "theme-toggle"))
	})

	It("activates eager plugins and leaves lazy ones registered", func() {
		Expect(statusOf("inspector")).To(Equal(plugin.StatusActive))
		Expect(statusOf("theme-toggle")).To(Equal(plugin.StatusActive))
		Expect(statusOf("outline")).To(Equal(plugin.StatusRegistered))
	})

	It("collects declarative contributions at the inspector's extension point", func() {
		Expect(sectionTitles()).To(Equal([]any{"Appearance"}))
	})

	When("the left sidebar is revealed", func() {
		BeforeEach(func() {
			registry.TriggerActivationEvent(ctx, pluginctx.OnSlotPrefix+string(slot.SidebarLeft))
		})

		It("activates the outline", func() {
			Expect(statusOf("outline")).To(Equal(plugin.StatusActive))
			entries := registry.SlotEntries(slot.SidebarLeft, doc.Env())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Component).To(Equal("OutlineTree"))
		})

		It("orders outline's section ahead of lower priorities", func() {
			Expect(sectionTitles()).To(Equal([]any{"Outline", "Appearance"}))
		})

		It("refreshes the outline when the document changes", func() {
			var counts []any
			bus.Subscribe("outline:refreshed", func(e eventbus.Event) error {
				payload, ok := e.Payload.(map[string]any)
				Expect(ok).To(BeTrue())
				counts = append(counts, payload["count"])
				return nil
			})

			Expect(doc.Load("sample.json", []byte(sampleDocument))).To(Succeed())
			Expect(doc.Set("components.2", map[string]any{"kind": "Button"})).To(Succeed())

			Expect(counts).To(HaveLen(1))
			Expect(counts[0]).To(BeNumerically("==", 3))
		})
	})

	Describe("the inspector.api service", func() {
		var api map[string]any

		BeforeEach(func() {
			impl, ok := factory.Deps().Services.Consume("inspector.api")
			Expect(ok).To(BeTrue())
			api, ok = impl.(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(doc.Load("sample.json", []byte(sampleDocument))).To(Succeed())
		})

		call := func(name string) any {
			fn, ok := api[name].(hostfunc.Func)
			Expect(ok).To(BeTrue(), "%s is not a function", name)
			out, err := fn()
			Expect(err).NotTo(HaveOccurred())
			return out
		}

		It("reports nothing before a selection", func() {
			Expect(call("current")).To(BeNil())
		})

		It("follows the selection", func() {
			Expect(doc.Select("components.0")).To(Succeed())

			current, ok := call("current").(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(current).To(HaveKeyWithValue("path", "components.0"))
			Expect(current["value"]).To(HaveKeyWithValue("kind", "Text"))

			p, _ := registry.Get("inspector")
			stored, found, err := p.Context.Storage().Get(ctx, "last-path")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(string(stored)).To(Equal("components.0"))
		})

		It("shows the inspector panel only while something is selected", func() {
			Expect(registry.SlotEntries(slot.SidebarRight, doc.Env())).To(BeEmpty())
			Expect(doc.Select("components.1")).To(Succeed())
			Expect(registry.SlotEntries(slot.SidebarRight, doc.Env())).To(HaveLen(1))
		})

		It("lists the contributed sections", func() {
			sections, ok := call("sections").([]any)
			Expect(ok).To(BeTrue())
			Expect(sections).To(HaveLen(1))
			Expect(sections[0]).To(HaveKeyWithValue("plugin", "theme-toggle"))
		})
	})

	It("withdraws the inspector's service when it is unregistered", func() {
		Expect(registry.Unregister(ctx, "inspector")).To(Succeed())
		Expect(factory.Deps().Services.Has("inspector.api")).To(BeFalse())
	})
})
