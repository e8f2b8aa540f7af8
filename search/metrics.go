package search

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for an Index.
type Metrics struct {
	QueriesTotal    *prometheus.CounterVec
	QueryLatency    prometheus.Histogram
	ResultsCount    prometheus.Histogram
	UpdatesTotal    *prometheus.CounterVec
	Documents       prometheus.Gauge
	RebuildsTotal   *prometheus.CounterVec
	RebuildDuration prometheus.Histogram
}

// NewMetrics creates the search collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qarchive",
				Subsystem: "search",
				Name:      "queries_total",
				Help:      "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		QueryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "qarchive",
				Subsystem: "search",
				Name:      "query_latency_seconds",
				Help:      "Search query latency in seconds.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
		),
		ResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "qarchive",
				Subsystem: "search",
				Name:      "results_count",
				Help:      "Number of results returned per search query.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qarchive",
				Subsystem: "search",
				Name:      "updates_total",
				Help:      "Incremental index updates by operation (add, remove).",
			},
			[]string{"op"},
		),
		Documents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "qarchive",
				Subsystem: "search",
				Name:      "documents",
				Help:      "Number of indexed questions.",
			},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qarchive",
				Subsystem: "search",
				Name:      "rebuilds_total",
				Help:      "Full index rebuilds by outcome (ok, cancelled, error).",
			},
			[]string{"outcome"},
		),
		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "qarchive",
				Subsystem: "search",
				Name:      "rebuild_duration_seconds",
				Help:      "Full index rebuild duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.QueriesTotal,
			m.QueryLatency,
			m.ResultsCount,
			m.UpdatesTotal,
			m.Documents,
			m.RebuildsTotal,
			m.RebuildDuration,
		)
	}
	return m
}
