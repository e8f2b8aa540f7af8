package ingestion

import (
	"time"

	"github.com/poiesic/qarchive/core"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeStored    = "stored"
	outcomeUnchanged = "unchanged"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// Metrics holds the Prometheus collectors for a Pipeline.
type Metrics struct {
	RecordsTotal  *prometheus.CounterVec
	IngestLatency prometheus.Histogram
}

// NewMetrics creates the ingestion collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qarchive",
				Subsystem: "ingestion",
				Name:      "records_total",
				Help:      "Records ingested by kind and outcome (stored, unchanged, rejected, failed).",
			},
			[]string{"kind", "outcome"},
		),
		IngestLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "qarchive",
				Subsystem: "ingestion",
				Name:      "ingest_latency_seconds",
				Help:      "Time to store and index one record.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.RecordsTotal, m.IngestLatency)
	}
	return m
}

func (p *Pipeline) observe(record core.Record, outcome string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordsTotal.WithLabelValues(kindLabel(record), outcome).Inc()
	if outcome == outcomeStored || outcome == outcomeUnchanged {
		p.metrics.IngestLatency.Observe(time.Since(start).Seconds())
	}
}

// kindLabel names the kind of record without dereferencing it.
func kindLabel(record core.Record) string {
	switch record.(type) {
	case *core.Question:
		return core.KindQuestion.String()
	case *core.Answer:
		return core.KindAnswer.String()
	}
	return "unknown"
}
