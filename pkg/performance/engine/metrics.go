// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's own internal observability: how long each tick
// takes and how often a Source Reader or the Sink fails. This is ambient
// instrumentation carried from the rest of this codebase's stack
// (prometheus/client_golang), not the telemetry this module collects about
// the host; it describes the collector's own health.
//
// A nil *Metrics is valid and every method on it is a no-op, so callers
// that don't care about instrumentation can pass nil instead of branching.
type Metrics struct {
	tickDuration   prometheus.Histogram
	collectErrors  *prometheus.CounterVec
	entitiesActive *prometheus.GaugeVec
	sinkErrors     prometheus.Counter
}

// NewMetrics builds the engine's instrumentation, registering it against reg
// if reg is non-nil. Pass nil to keep the counters live but unexposed.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "antimetal",
			Subsystem: "performance_engine",
			Name:      "tick_duration_seconds",
			Help:      "Time spent running one scheduler tick, covering all collectors and derivation.",
			Buckets:   prometheus.DefBuckets,
		}),
		collectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antimetal",
			Subsystem: "performance_engine",
			Name:      "collect_errors_total",
			Help:      "Count of collector errors absorbed per tick, by metric type.",
		}, []string{"metric_type"}),
		entitiesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "antimetal",
			Subsystem: "performance_engine",
			Name:      "entities_active",
			Help:      "Number of entities currently tracked per registry (e.g. disk, process, cpu).",
		}, []string{"entity_type"}),
		sinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "antimetal",
			Subsystem: "performance_engine",
			Name:      "sink_errors_total",
			Help:      "Count of fatal Sink write failures.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.tickDuration, m.collectErrors, m.entitiesActive, m.sinkErrors)
	}
	return m
}

// ObserveTick records how long one scheduler tick (one Sample plus, when
// applicable, one Derive call) took.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

// IncCollectError records one absorbed Source Reader failure for metricType.
func (m *Metrics) IncCollectError(metricType string) {
	if m == nil {
		return
	}
	m.collectErrors.WithLabelValues(metricType).Inc()
}

// SetEntitiesActive records the current entity count for one registry.
func (m *Metrics) SetEntitiesActive(entityType string, count int) {
	if m == nil {
		return
	}
	m.entitiesActive.WithLabelValues(entityType).Set(float64(count))
}

// IncSinkError records one fatal Sink write failure.
func (m *Metrics) IncSinkError() {
	if m == nil {
		return
	}
	m.sinkErrors.Inc()
}
