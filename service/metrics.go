package service

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "voteledger"

// Metrics exposes verification throughput and latency to Prometheus. Each
// instance owns its registry so several services can run in one process.
type Metrics struct {
	registry   *prometheus.Registry
	steps      *prometheus.CounterVec
	rejections *prometheus.CounterVec
	votes      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

// NewMetrics creates a metrics collector with Go runtime collectors registered
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "verification_steps_total",
			Help:      "Verification steps submitted, by step and outcome.",
		}, []string{"step", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejections_total",
			Help:      "Rejected verification steps, by error kind.",
		}, []string{"kind"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "votes_cast_total",
			Help:      "Votes cast, by polling booth.",
		}, []string{"booth"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "record_step_duration_seconds",
			Help:      "Time taken to record a verification step.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"step"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Step requests waiting in the queue.",
		}),
	}

	m.registry.MustRegister(
		m.steps, m.rejections, m.votes, m.latency, m.queueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to expose over HTTP
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStep records the result of one RecordStep call. kind is empty unless
// the step was rejected.
func (m *Metrics) ObserveStep(step, outcome, kind string, boothID int64, voteCast bool, elapsed time.Duration) {
	if step == "" {
		step = "unknown"
	}
	m.steps.WithLabelValues(step, outcome).Inc()
	m.latency.WithLabelValues(step).Observe(elapsed.Seconds())
	if kind != "" {
		m.rejections.WithLabelValues(kind).Inc()
	}
	if voteCast {
		m.votes.WithLabelValues(strconv.FormatInt(boothID, 10)).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
