// Package observability provides the Prometheus-backed metrics collector
// for the preference-pair pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-crucible/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. It tracks batch lifecycle transitions, event consumption,
// decision outcomes, and LLM call performance.
type PrometheusMetrics struct {
	generationLatency *prometheus.HistogramVec
	generationTokens  *prometheus.CounterVec
	eventsConsumed    *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	batchesExpired    *prometheus.CounterVec
	openBatches       *prometheus.GaugeVec
	scoreMargin       *prometheus.HistogramVec
	operationCounter  *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers
// all metrics in the default Prometheus registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		generationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "generation_latency_seconds",
				Help:    "Latency of candidate generation calls per provider.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		generationTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_tokens_total",
				Help: "Total tokens consumed by candidate generation calls.",
			},
			[]string{"provider", "model", "direction"},
		),
		eventsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_consumed_total",
				Help: "Total events consumed by the aggregator, by topic and outcome.",
			},
			[]string{"topic", "outcome"},
		),
		decisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_decisions_total",
				Help: "Terminal batch decisions by result and rejection reason.",
			},
			[]string{"result", "reason"},
		),
		batchesExpired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_batches_expired_total",
				Help: "Batches expired by the sweep before completion.",
			},
			[]string{"reason"},
		),
		openBatches: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_open_batches",
				Help: "Batches currently held in the store, by status.",
			},
			[]string{"status"},
		),
		scoreMargin: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_score_margin",
				Help:    "Observed score margin between best and worst candidate at decision time.",
				Buckets: prometheus.LinearBuckets(0, 0.05, 21),
			},
			[]string{"result"},
		),
		operationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_operations_total",
				Help: "Total operations performed by pipeline components.",
			},
			[]string{"operation", "status"},
		),
		operationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_operation_duration_seconds",
				Help:    "Execution time of pipeline operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// operation latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	if operation == "generation_latency_seconds" {
		pm.generationLatency.WithLabelValues(
			labels["provider"], labels["model"],
		).Observe(duration.Seconds())
		return
	}
	pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "generation_tokens_total":
		pm.generationTokens.WithLabelValues(
			labels["provider"], labels["model"], labels["direction"],
		).Add(value)
	case "generation_requests_total":
		pm.operationCounter.WithLabelValues(
			"generate", labels["status"],
		).Add(value)
	case "pipeline_events_consumed_total":
		pm.eventsConsumed.WithLabelValues(
			labels["topic"], labels["outcome"],
		).Add(value)
	case "pipeline_decisions_total":
		reason := labels["reason"]
		if reason == "" {
			reason = "none"
		}
		pm.decisionsTotal.WithLabelValues(labels["result"], reason).Add(value)
	case "pipeline_batches_expired_total":
		pm.batchesExpired.WithLabelValues(labels["reason"]).Add(value)
	default:
		status, ok := labels["status"]
		if !ok {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "pipeline_open_batches":
		pm.openBatches.WithLabelValues(labels["status"]).Set(value)
	default:
		pm.openBatches.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	if metric == "pipeline_score_margin" {
		pm.scoreMargin.WithLabelValues(labels["result"]).Observe(value)
		return
	}
	pm.operationLatency.WithLabelValues(metric).Observe(value)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
