// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package runtime assembles the plugin runtime: the event bus, the service
// and extension registries, the document, plugin storage and the plugin
// registry, all private to one Runtime value.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/trace"

	"github.com/schemastudio/studio/internal/document"
	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/extension"
	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/internal/plugin"
	"github.com/schemastudio/studio/internal/plugin/capability"
	pluginlua "github.com/schemastudio/studio/internal/plugin/lua"
	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/internal/pluginctx"
	"github.com/schemastudio/studio/internal/service"
	"github.com/schemastudio/studio/internal/storage"
	"github.com/schemastudio/studio/pkg/errutil"
)

// OnStartup is the activation event Start raises.
const OnStartup = "onStartup"

// Default retry policy for RetryFailed.
const (
	DefaultRetryBase     = 100 * time.Millisecond
	DefaultRetryAttempts = 3
)

// documentEvents are forwarded as onEvent:<type> activation events when the
// document publishes them.
var documentEvents = []string{
	eventbus.DocumentLoaded,
	eventbus.DocumentChanged,
	eventbus.SelectionChanged,
	eventbus.ValidationCompleted,
	eventbus.ThemeChanged,
}

type config struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	tracer       trace.Tracer
	enforcer     *capability.Enforcer
	store        storage.Store
	theme        string
	pluginsDir   string
	disabled     []string
	retryBase    time.Duration
	retryMax     uint64
	documentOpts []document.Option
}

// Option configures a Runtime.
type Option func(*config)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics sets the metrics sink shared by every component.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithTracer sets the tracer used for activation spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) { c.tracer = t }
}

// WithEnforcer sets the host capability grant policy.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(c *config) { c.enforcer = e }
}

// WithStore sets the plugin storage backend. The default is in-memory.
func WithStore(s storage.Store) Option {
	return func(c *config) { c.store = s }
}

// WithTheme sets the initial editor theme.
func WithTheme(theme string) Option {
	return func(c *config) { c.theme = theme }
}

// WithPluginsDir makes Start load plugins from dir.
func WithPluginsDir(dir string) Option {
	return func(c *config) { c.pluginsDir = dir }
}

// WithDisabled skips the named plugins during directory loading.
func WithDisabled(ids ...string) Option {
	return func(c *config) { c.disabled = append(c.disabled, ids...) }
}

// WithRetryPolicy sets the exponential backoff base and the number of
// retries RetryFailed makes per plugin.
func WithRetryPolicy(base time.Duration, retries uint64) Option {
	return func(c *config) {
		c.retryBase = base
		c.retryMax = retries
	}
}

// Runtime owns one set of registries and the plugins registered with them.
type Runtime struct {
	cfg        config
	logger     *slog.Logger
	bus        *eventbus.Bus
	extensions *extension.Registry
	services   *service.Registry
	document   *document.Document
	store      storage.Store
	factory    *pluginctx.Factory
	registry   *plugin.Registry
	manager    *plugin.Manager

	mu      sync.Mutex
	started bool
	closed  bool
	unhook  []func()
}

// New builds a runtime with fresh registries.
func New(opts ...Option) *Runtime {
	cfg := config{
		logger:    slog.Default(),
		store:     storage.NewMemory(),
		retryBase: DefaultRetryBase,
		retryMax:  DefaultRetryAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.theme != "" {
		cfg.documentOpts = append(cfg.documentOpts, document.WithTheme(cfg.theme))
	}

	rt := &Runtime{cfg: cfg, logger: cfg.logger, store: cfg.store}
	rt.bus = eventbus.New(eventbus.WithLogger(cfg.logger), eventbus.WithMetrics(cfg.metrics))
	rt.extensions = extension.NewRegistry(extension.WithLogger(cfg.logger), extension.WithMetrics(cfg.metrics))
	rt.services = service.NewRegistry(service.WithLogger(cfg.logger), service.WithMetrics(cfg.metrics))
	rt.document = document.New(append(cfg.documentOpts, document.WithPublisher(rt.bus))...)
	rt.factory = pluginctx.NewFactory(pluginctx.Deps{
		Bus:        rt.bus,
		Extensions: rt.extensions,
		Services:   rt.services,
		Document:   rt.document,
		Storage:    rt.store,
		Logger:     cfg.logger,
	})

	regOpts := []plugin.Option{plugin.WithLogger(cfg.logger), plugin.WithMetrics(cfg.metrics)}
	if cfg.enforcer != nil {
		regOpts = append(regOpts, plugin.WithEnforcer(cfg.enforcer))
	}
	if cfg.tracer != nil {
		regOpts = append(regOpts, plugin.WithTracer(cfg.tracer))
	}
	rt.registry = plugin.NewRegistry(rt.factory, regOpts...)

	if cfg.pluginsDir != "" {
		rt.manager = plugin.NewManager(cfg.pluginsDir, rt.registry,
			plugin.WithLuaLoader(pluginlua.NewHost(pluginlua.WithLogger(cfg.logger))),
			plugin.WithDisabled(cfg.disabled...),
			plugin.WithManagerLogger(cfg.logger))
	}

	for _, eventType := range documentEvents {
		rt.unhook = append(rt.unhook, rt.bus.Subscribe(eventType, rt.forwardDocumentEvent))
	}
	return rt
}

func (rt *Runtime) forwardDocumentEvent(e eventbus.Event) error {
	if e.Source == document.Source {
		rt.registry.TriggerActivationEvent(context.Background(), pluginctx.OnEventPrefix+e.Type)
	}
	return nil
}

// Bus returns the event bus.
func (rt *Runtime) Bus() *eventbus.Bus { return rt.bus }

// Extensions returns the extension registry.
func (rt *Runtime) Extensions() *extension.Registry { return rt.extensions }

// Services returns the service registry.
func (rt *Runtime) Services() *service.Registry { return rt.services }

// Document returns the edited document.
func (rt *Runtime) Document() *document.Document { return rt.document }

// Registry returns the plugin registry.
func (rt *Runtime) Registry() *plugin.Registry { return rt.registry }

// Register adds a plugin defined in Go. Eager plugins activate immediately.
func (rt *Runtime) Register(ctx context.Context, p plugin.Plugin) plugin.RegisterResult {
	return rt.registry.Register(ctx, p)
}

// Start loads the plugins directory, if one was configured, and raises
// onStartup. It may be called once.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	switch {
	case rt.closed:
		rt.mu.Unlock()
		return oops.Code("RUNTIME_CLOSED").Errorf("runtime is closed")
	case rt.started:
		rt.mu.Unlock()
		return oops.Code("ALREADY_STARTED").Errorf("runtime already started")
	}
	rt.started = true
	rt.mu.Unlock()

	if rt.manager != nil {
		if err := rt.manager.LoadAll(ctx); err != nil {
			return err
		}
	}
	rt.registry.TriggerActivationEvent(ctx, OnStartup)

	rt.logger.Info("runtime started", "plugins", len(rt.registry.List()))
	return nil
}

// Emit publishes a host event and raises onEvent:<type>. Subscribers see the
// event before lazy plugins waiting on it activate.
func (rt *Runtime) Emit(ctx context.Context, eventType string, payload any) eventbus.Event {
	ev := rt.bus.Emit(eventType, payload)
	rt.registry.TriggerActivationEvent(ctx, pluginctx.OnEventPrefix+eventType)
	return ev
}

// RevealSlot raises onSlot:<id> and returns the slot's visible entries for
// the current selection and theme.
func (rt *Runtime) RevealSlot(ctx context.Context, id slot.ID) []plugin.SlotEntry {
	rt.registry.TriggerActivationEvent(ctx, pluginctx.OnSlotPrefix+string(id))
	return rt.SlotEntries(id)
}

// SlotEntries returns the visible entries of a slot without raising any
// activation event.
func (rt *Runtime) SlotEntries(id slot.ID) []plugin.SlotEntry {
	return rt.registry.SlotEntries(id, rt.document.Env())
}

// RetryFailed retries every plugin in error status with exponential backoff
// and returns the ids that became active. Plugins still failing after the
// last attempt are reported in the returned error. A plugin left waiting on
// a dependency that is still activating is neither.
func (rt *Runtime) RetryFailed(ctx context.Context) ([]string, error) {
	var recovered []string
	var errs []error
	for _, p := range rt.registry.List() {
		if p.Status != plugin.StatusError {
			continue
		}
		id := p.Manifest.ID
		backoff := retry.WithMaxRetries(rt.cfg.retryMax, retry.NewExponential(rt.cfg.retryBase))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := rt.registry.Retry(ctx, id); err != nil {
				if errutil.Code(err) == "PLUGIN_PENDING" {
					return err
				}
				rt.logger.Debug("plugin retry failed", "plugin", id, "error", err)
				return retry.RetryableError(err)
			}
			return nil
		})
		if errutil.Code(err) == "PLUGIN_PENDING" {
			rt.logger.Info("plugin retry waits for dependency", "plugin", id)
			continue
		}
		if err != nil {
			errs = append(errs, oops.Code("RETRY_EXHAUSTED").With("plugin", id).Errorf("plugin %s: %v", id, err))
			continue
		}
		recovered = append(recovered, id)
	}
	if len(errs) > 0 {
		return recovered, oops.Join(errs...)
	}
	return recovered, nil
}

// Close unregisters every plugin in reverse registration order, then
// releases the plugin loaders. Errors are logged and the first is returned.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	unhook := rt.unhook
	rt.unhook = nil
	rt.mu.Unlock()

	var first error
	plugins := rt.registry.List()
	for i := len(plugins) - 1; i >= 0; i-- {
		id := plugins[i].Manifest.ID
		if err := rt.registry.Unregister(ctx, id); err != nil {
			errutil.LogError(rt.logger, "plugin unregister failed", err, "plugin", id)
			if first == nil {
				first = err
			}
		}
	}
	if rt.manager != nil {
		if err := rt.manager.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	for _, fn := range unhook {
		fn()
	}
	return first
}
