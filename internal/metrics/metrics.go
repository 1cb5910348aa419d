// Package metrics holds the Prometheus collectors for the curation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"horse.fit/curation/internal/dedup"
)

type Metrics struct {
	registry *prometheus.Registry

	stepItems      *prometheus.CounterVec
	dedupDecisions *prometheus.CounterVec
	scoreCalls     *prometheus.CounterVec
	scoreDuration  prometheus.Histogram
	exported       *prometheus.CounterVec
	exportSkipped  *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec

	collectors []prometheus.Collector
}

var _ dedup.Observer = (*Metrics)(nil)

// New registers the curation collectors, plus the Go and process collectors,
// on a fresh registry.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}
	m.init()

	if err := registry.Register(m); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) init() {
	m.stepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_step_items_total",
			Help: "Items handled by a pipeline step, by outcome",
		},
		[]string{"step", "outcome"},
	)
	m.dedupDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_dedup_decisions_total",
			Help: "Dedup resolutions applied, by decision",
		},
		[]string{"decision"},
	)
	m.scoreCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_score_calls_total",
			Help: "Calls to the scoring collaborator, by outcome",
		},
		[]string{"outcome"},
	)
	m.scoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "curation_score_call_duration_seconds",
			Help:    "Latency of scoring calls including retries",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
	m.exported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_exported_total",
			Help: "Articles written to an export artifact, by mode and category",
		},
		[]string{"mode", "category"},
	)
	m.exportSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_export_skipped_total",
			Help: "Export candidates skipped because they were already exported",
		},
		[]string{"mode"},
	)
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curation_http_requests_total",
			Help: "Review API requests, by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	m.collectors = []prometheus.Collector{
		m.stepItems,
		m.dedupDecisions,
		m.scoreCalls,
		m.scoreDuration,
		m.exported,
		m.exportSkipped,
		m.httpRequests,
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Step outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// ObserveStep counts n items for a step. A nil Metrics is a no-op so callers
// without a registry need no guards.
func (m *Metrics) ObserveStep(step, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.stepItems.WithLabelValues(step, outcome).Add(float64(n))
}

func (m *Metrics) ObserveDecision(decision dedup.Decision) {
	if m == nil {
		return
	}
	m.dedupDecisions.WithLabelValues(string(decision)).Inc()
}

func (m *Metrics) ObserveScoreCall(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scoreCalls.WithLabelValues(outcome).Inc()
	m.scoreDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveExport(mode string, categoryCounts map[string]int, skipped int) {
	if m == nil {
		return
	}
	for category, n := range categoryCounts {
		if n > 0 {
			m.exported.WithLabelValues(mode, category).Add(float64(n))
		}
	}
	if skipped > 0 {
		m.exportSkipped.WithLabelValues(mode).Add(float64(skipped))
	}
}

func (m *Metrics) ObserveHTTPRequest(method, route, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}
