// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

// Package extension stores extension points and the contributions plugins
// submit to them.
//
// Contributions are validated against the point's schema when submitted and
// kept only if valid. They are listed by descending priority, ties in
// registration order, and stay in place after the contributing plugin
// deactivates until they are withdrawn.
package extension

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/schemastudio/studio/internal/observability"
	"github.com/schemastudio/studio/pkg/errutil"
)

// ContributionError reports why a contribution was rejected.
type ContributionError struct {
	PluginID string
	PointID  string
	Messages []string
}

func (e *ContributionError) Error() string {
	return fmt.Sprintf("contribution from %q to %q rejected: %s",
		e.PluginID, e.PointID, strings.Join(e.Messages, "; "))
}

// Point describes a declared extension point.
type Point struct {
	ID           string
	Owner        string
	Schema       Schema
	Multiplicity Multiplicity
}

// Contribution is a payload accepted by a point.
type Contribution struct {
	PluginID string
	PointID  string
	Priority int
	Data     map[string]any
	seq      uint64
}

type point struct {
	Point
	compiled *jschema.Schema
}

// Registry holds extension points and contributions. It is safe for
// concurrent use.
type Registry struct {
	mu            sync.RWMutex
	points        map[string]*point
	contributions map[string][]Contribution
	pending       map[string][]Contribution
	seq           uint64
	logger        *slog.Logger
	metrics       *observability.Metrics
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

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		points:        make(map[string]*point),
		contributions: make(map[string][]Contribution),
		pending:       make(map[string][]Contribution),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefinePoint declares an extension point owned by owner. An empty
// multiplicity means Multiple. Redefining a point by its own owner replaces
// the schema and keeps accepted contributions; any other redefinition fails.
// Deferred contributions waiting for the point are applied before returning.
func (r *Registry) DefinePoint(owner, id string, schema Schema, multiplicity Multiplicity) error {
	if id == "" {
		return oops.Code("INVALID_EXTENSION_POINT").With("owner", owner).Errorf("extension point id is required")
	}
	switch multiplicity {
	case "":
		multiplicity = Multiple
	case Single, Multiple:
	default:
		return oops.Code("INVALID_EXTENSION_POINT").
			With("point", id).
			Errorf("multiplicity %q must be 'single' or 'multiple'", multiplicity)
	}
	if msgs := schema.Check(); len(msgs) > 0 {
		return oops.Code("INVALID_SCHEMA").
			With("point", id).
			With("errors", msgs).
			Errorf("invalid contribution schema: %s", strings.Join(msgs, "; "))
	}
	compiled, err := schema.compile()
	if err != nil {
		return oops.With("point", id).Wrap(err)
	}

	r.mu.Lock()
	if existing, ok := r.points[id]; ok && existing.Owner != owner {
		r.mu.Unlock()
		return oops.Code("DUPLICATE_EXTENSION_POINT").
			With("point", id).
			With("owner", existing.Owner).
			Errorf("extension point %q already defined by %q", id, existing.Owner)
	}
	r.points[id] = &point{
		Point:    Point{ID: id, Owner: owner, Schema: schema, Multiplicity: multiplicity},
		compiled: compiled,
	}
	waiting := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	for _, c := range waiting {
		if err := r.Contribute(c.PluginID, c.PointID, c.Priority, c.Data); err != nil {
			errutil.LogWarn(r.logger, "deferred contribution rejected", err,
				"plugin", c.PluginID, "point", c.PointID)
		}
	}
	return nil
}

// Contribute validates data against the point's schema and stores it. A
// rejected contribution returns *ContributionError and leaves no trace.
func (r *Registry) Contribute(pluginID, pointID string, priority int, data map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.points[pointID]
	if !ok {
		r.metrics.RecordContributionRejected("unknown_point")
		return oops.Code("UNKNOWN_EXTENSION_POINT").
			With("plugin", pluginID).
			With("point", pointID).
			Errorf("extension point %q is not defined", pointID)
	}
	if p.Multiplicity == Single && len(r.contributions[pointID]) > 0 {
		r.metrics.RecordContributionRejected("single")
		return &ContributionError{
			PluginID: pluginID,
			PointID:  pointID,
			Messages: []string{"point accepts a single contribution and already has one"},
		}
	}
	if msgs := validate(p, data); len(msgs) > 0 {
		r.metrics.RecordContributionRejected("schema")
		return &ContributionError{PluginID: pluginID, PointID: pointID, Messages: msgs}
	}

	r.seq++
	r.contributions[pointID] = append(r.contributions[pointID], Contribution{
		PluginID: pluginID,
		PointID:  pointID,
		Priority: priority,
		Data:     data,
		seq:      r.seq,
	})
	return nil
}

// ContributeDeferred behaves like Contribute when the point exists. Otherwise
// it queues the contribution until the point is defined and returns nil.
func (r *Registry) ContributeDeferred(pluginID, pointID string, priority int, data map[string]any) error {
	r.mu.Lock()
	if _, ok := r.points[pointID]; !ok {
		r.pending[pointID] = append(r.pending[pointID], Contribution{
			PluginID: pluginID,
			PointID:  pointID,
			Priority: priority,
			Data:     data,
		})
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.Contribute(pluginID, pointID, priority, data)
}

func validate(p *point, data map[string]any) []string {
	inst, msgs := p.Schema.instance(data)
	if len(msgs) > 0 {
		return msgs
	}
	if err := p.compiled.Validate(inst); err != nil {
		return validationMessages(err)
	}
	return nil
}

// Contributions returns the contributions to pointID ordered by descending
// priority, ties in registration order. An undeclared point yields an empty
// list.
func (r *Registry) Contributions(pointID string) []Contribution {
	r.mu.RLock()
	list := make([]Contribution, len(r.contributions[pointID]))
	copy(list, r.contributions[pointID])
	r.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].seq < list[j].seq
	})
	return list
}

// Withdraw removes every contribution pluginID made to pointID, including
// deferred ones, and returns how many were removed.
func (r *Registry) Withdraw(pluginID, pointID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	r.contributions[pointID], n = without(r.contributions[pointID], pluginID)
	if len(r.contributions[pointID]) == 0 {
		delete(r.contributions, pointID)
	}
	var m int
	r.pending[pointID], m = without(r.pending[pointID], pluginID)
	if len(r.pending[pointID]) == 0 {
		delete(r.pending, pointID)
	}
	return n + m
}

// RemovePlugin drops everything pluginID owns: its points with their
// contributions, and its contributions elsewhere.
func (r *Registry) RemovePlugin(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.points {
		if p.Owner == pluginID {
			delete(r.points, id)
			delete(r.contributions, id)
		}
	}
	for id := range r.contributions {
		r.contributions[id], _ = without(r.contributions[id], pluginID)
		if len(r.contributions[id]) == 0 {
			delete(r.contributions, id)
		}
	}
	for id := range r.pending {
		r.pending[id], _ = without(r.pending[id], pluginID)
		if len(r.pending[id]) == 0 {
			delete(r.pending, id)
		}
	}
}

func without(list []Contribution, pluginID string) ([]Contribution, int) {
	kept := list[:0:0]
	for _, c := range list {
		if c.PluginID != pluginID {
			kept = append(kept, c)
		}
	}
	return kept, len(list) - len(kept)
}

// HasPoint reports whether id is defined.
func (r *Registry) HasPoint(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.points[id]
	return ok
}

// GetPoint returns a defined point.
func (r *Registry) GetPoint(id string) (Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.points[id]
	if !ok {
		return Point{}, false
	}
	return p.Point, true
}

// Points lists the defined points sorted by id.
func (r *Registry) Points() []Point {
	r.mu.RLock()
	points := make([]Point, 0, len(r.points))
	for _, p := range r.points {
		points = append(points, p.Point)
	}
	r.mu.RUnlock()

	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	return points
}
