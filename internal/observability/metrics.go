// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Activation results recorded by Metrics.RecordActivation.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics contains the runtime's Prometheus metrics. All methods are safe to
// call on a nil receiver, which records nothing.
type Metrics struct {
	ActivationsTotal      *prometheus.CounterVec
	DeactivationsTotal    prometheus.Counter
	EventsEmittedTotal    *prometheus.CounterVec
	HandlerFailuresTotal  *prometheus.CounterVec
	ServicesProvidedTotal prometheus.Counter
	ContributionsRejected *prometheus.CounterVec
	PluginsByStatus       *prometheus.GaugeVec
}

// NewMetrics creates and registers the runtime metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_plugin_activations_total",
				Help: "Total number of plugin activation attempts by result",
			},
			[]string{"result"},
		),
		DeactivationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "studio_plugin_deactivations_total",
				Help: "Total number of plugin deactivations",
			},
		),
		EventsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_events_emitted_total",
				Help: "Total number of events emitted by kind (core or custom)",
			},
			[]string{"kind"},
		),
		HandlerFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_event_handler_failures_total",
				Help: "Total number of event handler errors and panics by kind",
			},
			[]string{"kind"},
		),
		ServicesProvidedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "studio_services_provided_total",
				Help: "Total number of service provide calls",
			},
		),
		ContributionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "studio_contributions_rejected_total",
				Help: "Total number of rejected extension contributions by reason",
			},
			[]string{"reason"},
		),
		PluginsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "studio_plugins",
				Help: "Number of registered plugins by status",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.ActivationsTotal,
		m.DeactivationsTotal,
		m.EventsEmittedTotal,
		m.HandlerFailuresTotal,
		m.ServicesProvidedTotal,
		m.ContributionsRejected,
		m.PluginsByStatus,
	)
	return m
}

// RecordActivation counts one activation attempt.
func (m *Metrics) RecordActivation(result string) {
	if m == nil {
		return
	}
	m.ActivationsTotal.WithLabelValues(result).Inc()
}

// RecordDeactivation counts one deactivation.
func (m *Metrics) RecordDeactivation() {
	if m == nil {
		return
	}
	m.DeactivationsTotal.Inc()
}

// RecordEmit counts one emitted event.
func (m *Metrics) RecordEmit(kind string) {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordHandlerFailure counts one handler error or panic.
func (m *Metrics) RecordHandlerFailure(kind string) {
	if m == nil {
		return
	}
	m.HandlerFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordServiceProvided counts one provide call.
func (m *Metrics) RecordServiceProvided() {
	if m == nil {
		return
	}
	m.ServicesProvidedTotal.Inc()
}

// RecordContributionRejected counts one rejected contribution.
func (m *Metrics) RecordContributionRejected(reason string) {
	if m == nil {
		return
	}
	m.ContributionsRejected.WithLabelValues(reason).Inc()
}

// SetPluginStatusCounts replaces the per-status plugin gauge values.
func (m *Metrics) SetPluginStatusCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.PluginsByStatus.Reset()
	for status, n := range counts {
		m.PluginsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
