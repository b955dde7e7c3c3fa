// Package metrics provides Prometheus metrics collection for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the pipeline.
type Collector struct {
	// Admission metrics
	AdmissionsTotal *prometheus.CounterVec
	StreamsActive   prometheus.Gauge

	// Batching metrics
	BatchFlushes *prometheus.CounterVec
	BatchSize    *prometheus.HistogramVec

	// Queue metrics
	QueueRetries     *prometheus.CounterVec
	QueueDeadLetters *prometheus.CounterVec

	// Fan-out metrics
	Subscribers     prometheus.Gauge
	BroadcastFrames prometheus.Counter
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered on a custom registry.
// Useful for testing to avoid global registry conflicts.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		AdmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evntfy",
				Name:      "admissions_total",
				Help:      "Admission decisions by result",
			},
			[]string{"result"},
		),
		StreamsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "evntfy",
				Name:      "streams_active",
				Help:      "Ingest streams currently open",
			},
		),

		BatchFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evntfy",
				Name:      "batch_flushes_total",
				Help:      "Batch hand-offs by pipeline stage",
			},
			[]string{"stage"},
		),
		BatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "evntfy",
				Name:      "batch_size_events",
				Help:      "Events per flushed batch",
				Buckets:   []float64{1, 10, 100, 1000, 5000, 10000},
			},
			[]string{"stage"},
		),

		QueueRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evntfy",
				Name:      "queue_retries_total",
				Help:      "Job retries by queue",
			},
			[]string{"queue"},
		),
		QueueDeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "evntfy",
				Name:      "queue_dead_letters_total",
				Help:      "Jobs dropped after exhausting retries, by queue",
			},
			[]string{"queue"},
		),

		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "evntfy",
				Name:      "dashboard_subscribers",
				Help:      "Dashboard connections currently subscribed",
			},
		),
		BroadcastFrames: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "evntfy",
				Name:      "broadcast_frames_total",
				Help:      "Frames pushed to dashboard subscribers",
			},
		),
	}
}

// QueueHooks adapts the collector to the job queue's instrumentation hooks.
func (c *Collector) QueueHooks() (onRetry, onDeadLetter func(queue string)) {
	return func(q string) { c.QueueRetries.WithLabelValues(q).Inc() },
		func(q string) { c.QueueDeadLetters.WithLabelValues(q).Inc() }
}
