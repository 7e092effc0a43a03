// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/schemastudio/studio/internal/eventbus"
	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/internal/plugin/capability"
	"github.com/schemastudio/studio/internal/plugin/slot"
	"github.com/schemastudio/studio/internal/pluginctx"
	"github.com/schemastudio/studio/pkg/errutil"
)

// EventSource is the source of lifecycle events published by the Registry.
const EventSource = "plugin-registry"

var defaultTracer = otel.Tracer("studio/plugin")

// ActivationListener observes a plugin becoming active.
type ActivationListener func(p *RegisteredPlugin)

type listener struct {
	id uint64
	fn ActivationListener
}

type record struct {
	RegisteredPlugin
	// predicates parallels Manifest.Slots.
	predicates []*slot.Predicate
	// contributed is set once the manifest contributions were submitted.
	contributed bool
}

func (rec *record) snapshot() *RegisteredPlugin {
	cp := rec.RegisteredPlugin
	return &cp
}

// RegisterResult is the outcome of Register.
type RegisterResult struct {
	Success  bool
	PluginID string
	Errors   []string
	code     string
}

// Err returns nil for a successful registration and an oops error carrying
// VALIDATION_FAILED or DUPLICATE_PLUGIN otherwise.
func (r RegisterResult) Err() error {
	if r.Success {
		return nil
	}
	return oops.Code(r.code).
		With("plugin", r.PluginID).
		With("errors", r.Errors).
		Errorf("register plugin: %s", strings.Join(r.Errors, "; "))
}

// Registry stores plugins, resolves dependency order and drives lifecycle
// hooks. No lock is held while a hook runs, so hooks may call back into the
// Registry. It is safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	plugins      map[string]*record
	seq          uint64
	listeners    map[string][]listener
	nextListener uint64
	// waiters maps a dependency still activating to the dependents whose
	// activation is pending on it.
	waiters map[string][]string

	factory  *pluginctx.Factory
	enforcer *capability.Enforcer
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
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

// WithEnforcer sets the host grant policy. Without one every declared
// capability is granted.
func WithEnforcer(e *capability.Enforcer) Option {
	return func(r *Registry) { r.enforcer = e }
}

// WithTracer sets the tracer used for activation spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) { r.tracer = t }
}

// NewRegistry creates a registry that builds contexts with factory and
// installs itself as the factory's activation trigger.
func NewRegistry(factory *pluginctx.Factory, opts ...Option) *Registry {
	if factory == nil {
		factory = pluginctx.NewFactory(pluginctx.Deps{})
	}
	r := &Registry{
		plugins:   make(map[string]*record),
		listeners: make(map[string][]listener),
		waiters:   make(map[string][]string),
		factory:   factory,
		enforcer:  capability.NewEnforcer(),
		logger:    slog.Default(),
		tracer:    defaultTracer,
	}
	for _, opt := range opts {
		opt(r)
	}
	factory.SetTrigger(r)
	return r
}

func (r *Registry) bus() *eventbus.Bus { return r.factory.Deps().Bus }

// Register validates and stores p. Invalid and duplicate plugins are
// rejected without touching registry state. Eager plugins are activated
// before Register returns; an activation failure is recorded on the plugin
// and does not fail the registration.
func (r *Registry) Register(ctx context.Context, p Plugin) RegisterResult {
	if p == nil || p.Manifest() == nil {
		return RegisterResult{Errors: []string{"manifest is required"}, code: "VALIDATION_FAILED"}
	}
	m := p.Manifest()
	if res := Validate(m); !res.Valid {
		r.logger.Warn("plugin rejected", "plugin", m.ID, "errors", res.Errors)
		return RegisterResult{PluginID: m.ID, Errors: res.Errors, code: "VALIDATION_FAILED"}
	}

	predicates := make([]*slot.Predicate, len(m.Slots))
	for i, s := range m.Slots {
		predicates[i], _ = slot.ParsePredicate(s.When) //nolint:errcheck // checked by Validate
	}

	r.mu.Lock()
	if _, exists := r.plugins[m.ID]; exists {
		r.mu.Unlock()
		r.logger.Warn("duplicate plugin rejected", "plugin", m.ID)
		return RegisterResult{
			PluginID: m.ID,
			Errors:   []string{fmt.Sprintf("plugin %q is already registered", m.ID)},
			code:     "DUPLICATE_PLUGIN",
		}
	}
	r.seq++
	r.plugins[m.ID] = &record{
		RegisteredPlugin: RegisteredPlugin{Manifest: m, Plugin: p, Status: StatusRegistered, Seq: r.seq},
		predicates:       predicates,
	}
	r.mu.Unlock()
	r.publishStatus()

	r.logger.Info("plugin registered",
		"plugin", m.ID,
		"version", m.Version,
		"activation", string(m.Mode()))

	if m.Mode() == ActivationEager {
		_ = r.Activate(ctx, m.ID) //nolint:errcheck // failure is recorded on the plugin
	}
	return RegisterResult{Success: true, PluginID: m.ID}
}

// Activate activates id after its required dependencies. It is a no-op for
// a plugin that is already active or activating. A failure moves the plugin
// to StatusError and is returned; hook panics are recovered.
//
// When a required dependency is itself still activating, Activate returns a
// PLUGIN_PENDING error and id stays registered. It activates once the
// dependency is active, or fails with DEPENDENCY_FAILED if the dependency
// fails.
func (r *Registry) Activate(ctx context.Context, id string) error {
	return r.activate(ctx, id, nil)
}

// settled reports whether rec needs no activation, with the error to return
// when it cannot be activated. Callers hold r.mu.
func settled(rec *record) (bool, error) {
	id := rec.Manifest.ID
	switch rec.Status {
	case StatusActive, StatusActivating:
		return true, nil
	case StatusDeactivating:
		return true, oops.Code("PLUGIN_BUSY").With("plugin", id).Errorf("plugin %q is deactivating", id)
	case StatusError:
		return true, oops.Code("PLUGIN_FAILED").
			With("plugin", id).
			Errorf("plugin %q is in error state: %v", id, rec.Err)
	}
	return false, nil
}

func (r *Registry) activate(ctx context.Context, id string, chain []string) error {
	r.mu.Lock()
	rec, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	if done, err := settled(rec); done {
		r.mu.Unlock()
		return err
	}
	m := rec.Manifest
	r.mu.Unlock()

	chain = append(slices.Clip(chain), id)
	waitFor, err := r.resolveDependencies(ctx, m, chain)
	if err != nil {
		r.fail(rec, err)
		r.metrics.RecordActivation(observability.ResultFailure)
		return err
	}
	if waitFor != "" {
		return r.waitForDependency(ctx, rec, waitFor, chain[:len(chain)-1])
	}

	r.mu.Lock()
	if r.plugins[id] != rec {
		r.mu.Unlock()
		return notFound(id)
	}
	if done, err := settled(rec); done {
		r.mu.Unlock()
		return err
	}
	declared, _ := capability.ParseSet(m.Capabilities)
	pc := r.factory.Build(pluginctx.Spec{
		PluginID:     id,
		Version:      m.Version,
		Capabilities: r.enforcer.Effective(id, declared),
	})
	rec.Status = StatusActivating
	rec.Context = pc
	rec.Err = nil
	r.mu.Unlock()
	r.publishStatus()

	spanCtx, span := r.tracer.Start(ctx, "plugin.activate",
		trace.WithAttributes(
			attribute.String("plugin.id", id),
			attribute.String("plugin.version", m.Version),
		),
	)
	err = r.runActivation(spanCtx, rec, pc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if err != nil {
		pc.Release()
		r.fail(rec, err)
		r.metrics.RecordActivation(observability.ResultFailure)
		return err
	}

	r.mu.Lock()
	if r.plugins[id] != rec {
		r.mu.Unlock()
		pc.Release()
		return notFound(id)
	}
	rec.Status = StatusActive
	snap := rec.snapshot()
	waiting := r.listeners[id]
	delete(r.listeners, id)
	dependents := r.waiters[id]
	delete(r.waiters, id)
	r.mu.Unlock()
	r.publishStatus()
	r.metrics.RecordActivation(observability.ResultSuccess)

	r.logger.Info("plugin activated",
		"plugin", id,
		"capabilities", pc.Capabilities().String())
	r.bus().EmitFrom(EventSource, eventbus.PluginActivated, eventbus.PluginPayload{PluginID: id, Version: m.Version})
	for _, l := range waiting {
		r.notify(id, l.fn, snap)
	}
	background := context.WithoutCancel(ctx)
	for _, dependent := range dependents {
		_ = r.Activate(background, dependent) //nolint:errcheck // failure is recorded on the plugin
	}
	return nil
}

// waitForDependency parks rec until dependency leaves StatusActivating or,
// for a dependency that is pending itself, until that dependency settles. A
// dependency that settled in the meantime is handled right away.
func (r *Registry) waitForDependency(ctx context.Context, rec *record, dependency string, chain []string) error {
	id := rec.Manifest.ID
	r.mu.Lock()
	if r.plugins[id] != rec {
		r.mu.Unlock()
		return notFound(id)
	}
	depRec, ok := r.plugins[dependency]
	var depStatus Status
	if ok {
		depStatus = depRec.Status
	}
	if depStatus == StatusActivating || (depStatus == StatusRegistered && r.pendingLocked(dependency)) {
		if !slices.Contains(r.waiters[dependency], id) {
			r.waiters[dependency] = append(r.waiters[dependency], id)
		}
		r.mu.Unlock()
		r.logger.Debug("activation waits for dependency", "plugin", id, "dependency", dependency)
		return oops.Code("PLUGIN_PENDING").
			With("plugin", id).
			With("dependency", dependency).
			Errorf("plugin %q waits for dependency %q to finish activating", id, dependency)
	}
	r.mu.Unlock()

	if depStatus == StatusActive {
		return r.activate(ctx, id, chain)
	}
	if !ok {
		depStatus = "unregistered"
	}
	err := oops.Code("DEPENDENCY_FAILED").
		With("plugin", id).
		With("dependency", dependency).
		Errorf("required dependency %q did not activate (status %s)", dependency, depStatus)
	r.fail(rec, err)
	r.metrics.RecordActivation(observability.ResultFailure)
	return err
}

// pendingLocked reports whether id waits on a dependency. Callers hold r.mu.
func (r *Registry) pendingLocked(id string) bool {
	for _, dependents := range r.waiters {
		if slices.Contains(dependents, id) {
			return true
		}
	}
	return false
}

// resolveDependencies activates m's dependencies in declaration order. It
// returns the id of a required dependency that is registered but not yet
// active when m must wait for it.
func (r *Registry) resolveDependencies(ctx context.Context, m *Manifest, chain []string) (string, error) {
	for _, dep := range m.Dependencies {
		skip := func(reason string, err error) {
			if err != nil {
				errutil.LogWarn(r.logger, "skipping optional dependency", err,
					"plugin", m.ID, "dependency", dep.ID, "reason", reason)
				return
			}
			r.logger.Debug("skipping optional dependency",
				"plugin", m.ID, "dependency", dep.ID, "reason", reason)
		}

		if slices.Contains(chain, dep.ID) {
			cycle := strings.Join(append(slices.Clip(chain), dep.ID), " -> ")
			if dep.Optional {
				skip("cycle", nil)
				continue
			}
			return "", oops.Code("CYCLIC_DEPENDENCY").
				With("plugin", m.ID).
				With("cycle", cycle).
				Errorf("cyclic dependency: %s", cycle)
		}

		r.mu.Lock()
		depRec, ok := r.plugins[dep.ID]
		var depVersion string
		if ok {
			depVersion = depRec.Manifest.Version
		}
		r.mu.Unlock()

		if !ok {
			if dep.Optional {
				skip("not registered", nil)
				continue
			}
			return "", oops.Code("MISSING_DEPENDENCY").
				With("plugin", m.ID).
				With("dependency", dep.ID).
				Errorf("required dependency %q is not registered", dep.ID)
		}

		if !satisfies(dep.Version, depVersion) {
			if dep.Optional {
				skip("incompatible version "+depVersion, nil)
				continue
			}
			return "", oops.Code("INCOMPATIBLE_DEPENDENCY").
				With("plugin", m.ID).
				With("dependency", dep.ID).
				With("constraint", dep.Version).
				Errorf("dependency %q version %s does not satisfy %q", dep.ID, depVersion, dep.Version)
		}

		if err := r.activate(ctx, dep.ID, chain); err != nil {
			if errutil.Code(err) == "PLUGIN_PENDING" {
				if dep.Optional {
					skip("still activating", nil)
					continue
				}
				return dep.ID, nil
			}
			if dep.Optional {
				skip("activation failed", err)
				continue
			}
			code := "DEPENDENCY_FAILED"
			if errutil.Code(err) == "CYCLIC_DEPENDENCY" {
				code = "CYCLIC_DEPENDENCY"
			}
			return "", oops.Code(code).
				With("plugin", m.ID).
				With("dependency", dep.ID).
				Errorf("required dependency %q failed: %v", dep.ID, err)
		}

		r.mu.Lock()
		status := depRec.Status
		r.mu.Unlock()
		if status != StatusActive && !dep.Optional {
			return dep.ID, nil
		}
	}
	return "", nil
}

// satisfies reports whether version meets constraint. An empty constraint
// accepts any version.
func satisfies(constraint, version string) bool {
	if constraint == "" {
		return true
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// runActivation defines the manifest's extension points, runs the load and
// activate hooks, then submits the manifest's contributions.
func (r *Registry) runActivation(ctx context.Context, rec *record, pc *pluginctx.Context) error {
	m := rec.Manifest
	for _, p := range m.ExtensionPoints {
		if err := pc.Extensions().DefinePoint(p.ID, p.Schema, p.Multiplicity); err != nil {
			return err
		}
	}

	if h, ok := rec.Plugin.(Loadable); ok {
		err := callHook(ctx, m.ID, "load", func(ctx context.Context) error { return h.OnLoad(ctx, pc) })
		if err != nil {
			return err
		}
	}
	if h, ok := rec.Plugin.(Activatable); ok {
		err := callHook(ctx, m.ID, "activate", func(ctx context.Context) error { return h.OnActivate(ctx, pc) })
		if err != nil {
			return err
		}
	}

	r.applyContributions(rec, pc)
	return nil
}

// applyContributions submits manifest contributions once per registration.
// Contributions to points nobody has defined yet wait for the point.
func (r *Registry) applyContributions(rec *record, pc *pluginctx.Context) {
	r.mu.Lock()
	if rec.contributed {
		r.mu.Unlock()
		return
	}
	rec.contributed = true
	r.mu.Unlock()

	m := rec.Manifest
	if len(m.Contributions) == 0 {
		return
	}
	if !pc.Capabilities().Has(capability.ExtensionsContribute) {
		r.logger.Debug("manifest contributions skipped", "plugin", m.ID, "reason", "capability not granted")
		return
	}
	ext := r.factory.Deps().Extensions
	for _, c := range m.Contributions {
		if err := ext.ContributeDeferred(m.ID, c.Point, c.Priority, c.Data); err != nil {
			errutil.LogWarn(r.logger, "manifest contribution rejected", err, "plugin", m.ID, "point", c.Point)
		}
	}
}

// callHook runs a plugin hook, converting returned errors and panics into
// HOOK_FAILED errors.
func callHook(ctx context.Context, pluginID, hook string, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = oops.Code("HOOK_FAILED").
				With("plugin", pluginID).
				With("hook", hook).
				Errorf("%s hook panicked: %v", hook, p)
		}
	}()
	if hookErr := fn(ctx); hookErr != nil {
		return oops.Code("HOOK_FAILED").
			With("plugin", pluginID).
			With("hook", hook).
			Errorf("%s hook failed: %v", hook, hookErr)
	}
	return nil
}

func (r *Registry) fail(rec *record, err error) {
	r.mu.Lock()
	rec.Status = StatusError
	rec.Err = err
	rec.Context = nil
	id := rec.Manifest.ID
	var dependents []*record
	for _, dependent := range r.waiters[id] {
		if d, ok := r.plugins[dependent]; ok && d.Status == StatusRegistered {
			dependents = append(dependents, d)
		}
	}
	delete(r.waiters, id)
	r.mu.Unlock()
	r.publishStatus()
	errutil.LogError(r.logger, "plugin failed", err, "plugin", id)

	for _, d := range dependents {
		r.fail(d, oops.Code("DEPENDENCY_FAILED").
			With("plugin", d.Manifest.ID).
			With("dependency", id).
			Errorf("required dependency %q failed: %v", id, err))
		r.metrics.RecordActivation(observability.ResultFailure)
	}
}

func notFound(id string) error {
	return oops.Code("PLUGIN_NOT_FOUND").With("plugin", id).Errorf("plugin %q is not registered", id)
}

// Deactivate stops an active plugin, deactivating active plugins that
// require it first. It is a no-op for a plugin that is not active. A failing
// deactivate hook moves the plugin to StatusError.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	if rec.Status != StatusActive {
		r.mu.Unlock()
		return nil
	}
	dependents := r.activeDependentsLocked(id)
	r.mu.Unlock()

	for _, dep := range dependents {
		if err := r.Deactivate(ctx, dep); err != nil {
			errutil.LogWarn(r.logger, "dependent deactivation failed", err, "plugin", dep, "dependency", id)
		}
	}

	r.mu.Lock()
	if r.plugins[id] != rec || rec.Status != StatusActive {
		r.mu.Unlock()
		return nil
	}
	rec.Status = StatusDeactivating
	pc := rec.Context
	r.mu.Unlock()
	r.publishStatus()

	spanCtx, span := r.tracer.Start(ctx, "plugin.deactivate",
		trace.WithAttributes(attribute.String("plugin.id", id)))
	var err error
	if h, ok := rec.Plugin.(Deactivatable); ok {
		err = callHook(spanCtx, id, "deactivate", func(ctx context.Context) error { return h.OnDeactivate(ctx, pc) })
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	pc.Release()

	r.mu.Lock()
	rec.Context = nil
	if err != nil {
		rec.Status = StatusError
		rec.Err = err
	} else {
		rec.Status = StatusRegistered
	}
	r.mu.Unlock()
	r.publishStatus()
	r.metrics.RecordDeactivation()

	if err != nil {
		errutil.LogError(r.logger, "plugin deactivation failed", err, "plugin", id)
		return err
	}
	r.logger.Info("plugin deactivated", "plugin", id)
	r.bus().EmitFrom(EventSource, eventbus.PluginDeactivated, eventbus.PluginPayload{PluginID: id, Version: rec.Manifest.Version})
	return nil
}

// activeDependentsLocked lists active plugins with a required dependency on
// id, most recently registered first. Callers hold r.mu.
func (r *Registry) activeDependentsLocked(id string) []string {
	var recs []*record
	for _, rec := range r.plugins {
		if rec.Status != StatusActive {
			continue
		}
		for _, d := range rec.Manifest.Dependencies {
			if d.ID == id && !d.Optional {
				recs = append(recs, rec)
				break
			}
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq > recs[j].Seq })
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.Manifest.ID
	}
	return ids
}

// Unregister deactivates id, runs its unload hook and removes it together
// with its activation listeners, extension points, contributions and
// services. Deactivate and unload failures are logged, not returned.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.plugins[id]
	r.mu.Unlock()
	if !ok {
		return notFound(id)
	}

	if err := r.Deactivate(ctx, id); err != nil {
		errutil.LogWarn(r.logger, "deactivation before unregister failed", err, "plugin", id)
	}
	if h, ok := rec.Plugin.(Unloadable); ok {
		if err := callHook(ctx, id, "unload", h.OnUnload); err != nil {
			errutil.LogWarn(r.logger, "unload hook failed", err, "plugin", id)
		}
	}

	r.mu.Lock()
	delete(r.plugins, id)
	delete(r.listeners, id)
	var dependents []*record
	for _, dependent := range r.waiters[id] {
		if d, ok := r.plugins[dependent]; ok && d.Status == StatusRegistered {
			dependents = append(dependents, d)
		}
	}
	delete(r.waiters, id)
	r.mu.Unlock()
	r.publishStatus()

	for _, d := range dependents {
		r.fail(d, oops.Code("DEPENDENCY_FAILED").
			With("plugin", d.Manifest.ID).
			With("dependency", id).
			Errorf("required dependency %q was unregistered", id))
	}

	deps := r.factory.Deps()
	deps.Extensions.RemovePlugin(id)
	if removed := deps.Services.RemoveProvider(id); len(removed) > 0 {
		r.logger.Debug("services withdrawn", "plugin", id, "services", removed)
	}
	r.logger.Info("plugin unregistered", "plugin", id)
	return nil
}

// Retry moves a plugin in StatusError back to StatusRegistered and
// activates it. For other states it behaves like Activate.
func (r *Registry) Retry(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return notFound(id)
	}
	if rec.Status == StatusError {
		r.logger.Info("retrying plugin", "plugin", id, "previous_error", rec.Err)
		rec.Status = StatusRegistered
		rec.Err = nil
	}
	r.mu.Unlock()
	return r.Activate(ctx, id)
}

// TriggerActivationEvent activates every registered lazy plugin that lists
// name among its activation events, in registration order. Each activation
// is independent; failures are recorded on the failing plugin.
func (r *Registry) TriggerActivationEvent(ctx context.Context, name string) {
	r.mu.Lock()
	var recs []*record
	for _, rec := range r.plugins {
		m := rec.Manifest
		if rec.Status == StatusRegistered && m.Mode() == ActivationLazy && m.HasActivationEvent(name) {
			recs = append(recs, rec)
		}
	}
	r.mu.Unlock()
	if len(recs) == 0 {
		return
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	r.logger.Debug("activation event", "event", name, "plugins", len(recs))
	for _, rec := range recs {
		_ = r.Activate(ctx, rec.Manifest.ID) //nolint:errcheck // failure is recorded on the plugin
	}
}

// OnActivated calls fn once when id becomes active. If id is already
// active, fn runs before OnActivated returns. Listeners of an unregistered
// plugin are discarded.
func (r *Registry) OnActivated(id string, fn ActivationListener) func() {
	r.mu.Lock()
	if rec, ok := r.plugins[id]; ok && rec.Status == StatusActive {
		snap := rec.snapshot()
		r.mu.Unlock()
		r.notify(id, fn, snap)
		return func() {}
	}
	r.nextListener++
	lid := r.nextListener
	r.listeners[id] = append(r.listeners[id], listener{id: lid, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.listeners[id]
		for i, l := range list {
			if l.id == lid {
				r.listeners[id] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(r.listeners[id]) == 0 {
			delete(r.listeners, id)
		}
	}
}

func (r *Registry) notify(id string, fn ActivationListener, p *RegisteredPlugin) {
	defer func() {
		if rec := recover(); rec != nil {
			errutil.LogError(r.logger, "activation listener panicked",
				oops.Code("LISTENER_PANIC").Errorf("%v", rec), "plugin", id)
		}
	}()
	fn(p)
}

// Get returns a snapshot of id.
func (r *Registry) Get(id string) (*RegisteredPlugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// List returns snapshots of every plugin in registration order.
func (r *Registry) List() []*RegisteredPlugin {
	r.mu.Lock()
	list := make([]*RegisteredPlugin, 0, len(r.plugins))
	for _, rec := range r.plugins {
		list = append(list, rec.snapshot())
	}
	r.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list
}

// PluginsForSlot returns the active plugins that declared id, in
// registration order.
func (r *Registry) PluginsForSlot(id slot.ID) []*RegisteredPlugin {
	var out []*RegisteredPlugin
	for _, p := range r.List() {
		if p.Status != StatusActive {
			continue
		}
		for _, s := range p.Manifest.Slots {
			if slot.ID(s.Slot) == id {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// SlotEntries returns the visible registrations for a slot: those of active
// plugins whose when predicate holds in env, ordered by descending priority
// then registration order.
func (r *Registry) SlotEntries(id slot.ID, env slot.Env) []SlotEntry {
	type ranked struct {
		SlotEntry
		seq uint64
		idx int
	}
	var entries []ranked

	r.mu.Lock()
	for _, rec := range r.plugins {
		if rec.Status != StatusActive {
			continue
		}
		for i, s := range rec.Manifest.Slots {
			if slot.ID(s.Slot) != id || !rec.predicates[i].Eval(env) {
				continue
			}
			entries = append(entries, ranked{
				SlotEntry: SlotEntry{PluginID: rec.Manifest.ID, Slot: id, Component: s.Component, Priority: s.Priority},
				seq:       rec.Seq,
				idx:       i,
			})
		}
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return a.idx < b.idx
	})
	out := make([]SlotEntry, len(entries))
	for i, e := range entries {
		out[i] = e.SlotEntry
	}
	return out
}

func (r *Registry) publishStatus() {
	if r.metrics == nil {
		return
	}
	counts := map[string]int{}
	r.mu.Lock()
	for _, rec := range r.plugins {
		counts[string(rec.Status)]++
	}
	r.mu.Unlock()
	r.metrics.SetPluginStatusCounts(counts)
}
