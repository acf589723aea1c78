// Package metrics holds the prometheus collectors of ingestion runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lifelog"

// Skip reasons for EntriesSkipped
const (
	ReasonMalformed        = "malformed"
	ReasonIgnored          = "ignored"
	ReasonOrphanEnd        = "orphan_end"
	ReasonDuplicateStart   = "duplicate_start"
	ReasonNegativeDuration = "negative_duration"
)

// Metrics collects per source run outcomes
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	recordsEmitted *prometheus.CounterVec
	entriesSkipped *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	lastSuccess    *prometheus.GaugeVec
	pendingOpen    *prometheus.GaugeVec
}

// New creates the collectors on a private registry, so several instances
// can live in one process
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Number of ingestion runs by status",
	}, []string{"source", "status"})
	m.recordsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_emitted_total",
		Help:      "Records accepted by the sink in successful runs",
	}, []string{"source"})
	m.entriesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_skipped_total",
		Help:      "Source entries that did not become records, by reason",
	}, []string{"source", "reason"})
	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of one ingestion run",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})
	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful run",
	}, []string{"source"})
	m.pendingOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_sessions",
		Help:      "Sessions left open at the end of the last successful run",
	}, []string{"source"})

	m.registry.MustRegister(
		m.runs, m.recordsEmitted, m.entriesSkipped,
		m.runDuration, m.lastSuccess, m.pendingOpen,
	)
	return m
}

// Registry exposes the collectors for a /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunSucceeded records a run whose checkpoint was saved
func (m *Metrics) RunSucceeded(source string, emitted, pending int, skipped map[string]int, took time.Duration, at time.Time) {
	m.runs.WithLabelValues(source, "ok").Inc()
	m.recordsEmitted.WithLabelValues(source).Add(float64(emitted))
	for reason, n := range skipped {
		if n > 0 {
			m.entriesSkipped.WithLabelValues(source, reason).Add(float64(n))
		}
	}
	m.runDuration.WithLabelValues(source).Observe(took.Seconds())
	m.lastSuccess.WithLabelValues(source).Set(float64(at.Unix()))
	m.pendingOpen.WithLabelValues(source).Set(float64(pending))
}

// RunFailed records a fatal run
func (m *Metrics) RunFailed(source string, took time.Duration) {
	m.runs.WithLabelValues(source, "failed").Inc()
	m.runDuration.WithLabelValues(source).Observe(took.Seconds())
}
