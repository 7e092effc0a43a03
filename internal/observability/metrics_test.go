// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/schemastudio/studio/internal/observability"
)

func TestMetrics_Record(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	m.RecordActivation(observability.ResultSuccess)
	m.RecordActivation(observability.ResultSuccess)
	m.RecordActivation(observability.ResultFailure)
	m.RecordDeactivation()
	m.RecordEmit("custom")
	m.RecordHandlerFailure("core")
	m.RecordServiceProvided()
	m.RecordContributionRejected("schema")

	assert.InDelta(t, 2, testutil.ToFloat64(m.ActivationsTotal.WithLabelValues(observability.ResultSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActivationsTotal.WithLabelValues(observability.ResultFailure)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DeactivationsTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EventsEmittedTotal.WithLabelValues("custom")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.HandlerFailuresTotal.WithLabelValues("core")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ServicesProvidedTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ContributionsRejected.WithLabelValues("schema")), 0)
}

func TestMetrics_PluginStatusCountsReplace(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())

	m.SetPluginStatusCounts(map[string]int{"active": 3, "error": 1})
	assert.InDelta(t, 3, testutil.ToFloat64(m.PluginsByStatus.WithLabelValues("active")), 0)

	m.SetPluginStatusCounts(map[string]int{"active": 2})
	assert.Equal(t, 1, testutil.CollectAndCount(m.PluginsByStatus))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordActivation(observability.ResultSuccess)
		m.RecordDeactivation()
		m.RecordEmit("core")
		m.RecordHandlerFailure("core")
		m.RecordServiceProvided()
		m.RecordContributionRejected("schema")
		m.SetPluginStatusCounts(map[string]int{"active": 1})
	})
}
