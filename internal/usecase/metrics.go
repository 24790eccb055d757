package usecase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cycle outcomes used as the "outcome" label.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
)

// PipelineMetrics exposes fetch-cycle counters to Prometheus.
type PipelineMetrics struct {
	cycles              *prometheus.CounterVec
	cycleDuration       *prometheus.HistogramVec
	conversationFailure *prometheus.CounterVec
	samplesStored       *prometheus.CounterVec
	inflight            prometheus.Gauge
}

// NewPipelineMetrics creates the collectors and registers them on reg when it is not nil.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latency",
			Name:      "fetch_cycles_total",
			Help:      "Fetch-aggregate cycles by metric type and outcome.",
		}, []string{"type", "outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "latency",
			Name:      "fetch_cycle_duration_seconds",
			Help:      "Wall time of completed fetch-aggregate cycles.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"type"}),
		conversationFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latency",
			Name:      "conversation_fetch_failures_total",
			Help:      "Per-conversation timing fetches that failed after retries.",
		}, []string{"type"}),
		samplesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "latency",
			Name:      "raw_samples_stored_total",
			Help:      "Raw samples written to the metric store.",
		}, []string{"type"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "latency",
			Name:      "inflight_partitions",
			Help:      "Partitions with a cycle currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.conversationFailure, m.samplesStored, m.inflight)
	}
	return m
}

func (m *PipelineMetrics) cycleStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *PipelineMetrics) cycleFinished(metricType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.cycles.WithLabelValues(metricType, outcome).Inc()
	if outcome == OutcomeSucceeded || outcome == OutcomeFailed {
		m.cycleDuration.WithLabelValues(metricType).Observe(elapsed.Seconds())
	}
}

func (m *PipelineMetrics) cycleRejected(metricType string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(metricType, OutcomeRejected).Inc()
}

func (m *PipelineMetrics) conversationsFailed(metricType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.conversationFailure.WithLabelValues(metricType).Add(float64(n))
}

func (m *PipelineMetrics) samplesWritten(metricType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.samplesStored.WithLabelValues(metricType).Add(float64(n))
}
