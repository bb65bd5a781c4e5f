// Package metrics provides the Prometheus collectors for ingestion runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seenimoa/filingwatch/pkg/models"
)

const namespace = "filingwatch"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	// Counters
	Runs             *prometheus.CounterVec
	FetchAttempts    *prometheus.CounterVec
	Deltas           *prometheus.CounterVec
	ParseWarnings    *prometheus.CounterVec
	PersistConflicts prometheus.Counter

	// Gauges
	ActiveRuns prometheus.Gauge

	// Histograms
	StageDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers the collectors. Go runtime and process
// collectors are included.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion unit runs by task type and final status",
		},
		[]string{"task", "status"},
	)

	m.FetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP attempts made by fetchers",
		},
		[]string{"source", "outcome"}, // "ok", "transient", "permanent"
	)

	m.Deltas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_written_total",
			Help:      "Deltas persisted by classification",
		},
		[]string{"classification"},
	)

	m.ParseWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_warnings_total",
			Help:      "Line-item warnings recorded while parsing",
		},
		[]string{"source_kind"},
	)

	m.PersistConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_conflicts_total",
			Help:      "Persist attempts rejected by the entity version check",
		},
	)

	m.ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Units currently being processed",
		},
	)

	m.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"}, // "fetch", "parse", "reconcile", "persist"
	)

	m.registry.MustRegister(
		m.Runs,
		m.FetchAttempts,
		m.Deltas,
		m.ParseWarnings,
		m.PersistConflicts,
		m.ActiveRuns,
		m.StageDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetchAttempt implements provider.AttemptObserver.
func (m *Metrics) ObserveFetchAttempt(source, outcome string) {
	m.FetchAttempts.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RunStarted() { m.ActiveRuns.Inc() }

func (m *Metrics) RunFinished(task models.TaskType, status models.JobStatus) {
	m.ActiveRuns.Dec()
	m.Runs.WithLabelValues(string(task), string(status)).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) DeltasWritten(deltas []models.Delta) {
	for _, d := range deltas {
		m.Deltas.WithLabelValues(string(d.Classification)).Inc()
	}
}

func (m *Metrics) ParseWarningsRecorded(kind models.SourceKind, n int) {
	if n > 0 {
		m.ParseWarnings.WithLabelValues(string(kind)).Add(float64(n))
	}
}

func (m *Metrics) PersistConflict() { m.PersistConflicts.Inc() }
