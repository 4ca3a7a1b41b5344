// Package metrics provides Prometheus instrumentation for the policy core
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/secretshub/policy-core/pkg/types"
)

// Metrics exposes evaluation and versioning metrics on a private registry
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	evalDuration     prometheus.Histogram
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	versionsTotal    *prometheus.CounterVec
	simulationsTotal prometheus.Counter
	simulationCases  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of policy decisions by effect",
			},
			[]string{"effect"},
		),
		evalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Policy evaluation duration",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
			},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of decision cache hits",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of decision cache misses",
			},
		),
		versionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "versions_written_total",
				Help:      "Total number of policy versions written by change type",
			},
			[]string{"change_type"},
		),
		simulationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulations_total",
				Help:      "Total number of simulation runs",
			},
		),
		simulationCases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulation_cases_total",
				Help:      "Total number of simulation cases by result",
			},
			[]string{"result"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.evalDuration,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.versionsTotal,
		m.simulationsTotal,
		m.simulationCases,
	)

	return m
}

// RecordDecision records a completed evaluation
func (m *Metrics) RecordDecision(effect types.Effect, duration time.Duration, cacheHit bool) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(string(effect)).Inc()
	m.evalDuration.Observe(duration.Seconds())
	if cacheHit {
		m.cacheHitsTotal.Inc()
	} else {
		m.cacheMissesTotal.Inc()
	}
}

// RecordVersion records a version write by change type
func (m *Metrics) RecordVersion(changeType types.ChangeType) {
	if m == nil {
		return
	}
	m.versionsTotal.WithLabelValues(string(changeType)).Inc()
}

// RecordSimulation records a simulation run and its case outcomes
func (m *Metrics) RecordSimulation(passed, failed int) {
	if m == nil {
		return
	}
	m.simulationsTotal.Inc()
	m.simulationCases.WithLabelValues("passed").Add(float64(passed))
	m.simulationCases.WithLabelValues("failed").Add(float64(failed))
}

// Handler returns the HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
