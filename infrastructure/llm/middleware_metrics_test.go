package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crucible/internal/domain"
)

type recordedMetric struct {
	name   string
	value  float64
	labels map[string]string
}

// capturingCollector records every collector call with a copy of its
// labels, since the middleware reuses one label map across calls.
type capturingCollector struct {
	latencies  []recordedMetric
	counters   []recordedMetric
	histograms []recordedMetric
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func (c *capturingCollector) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	c.latencies = append(c.latencies, recordedMetric{operation, duration.Seconds(), copyLabels(labels)})
}

func (c *capturingCollector) RecordCounter(metric string, value float64, labels map[string]string) {
	c.counters = append(c.counters, recordedMetric{metric, value, copyLabels(labels)})
}

func (c *capturingCollector) RecordGauge(string, float64, map[string]string) {}

func (c *capturingCollector) RecordHistogram(metric string, value float64, labels map[string]string) {
	c.histograms = append(c.histograms, recordedMetric{metric, value, copyLabels(labels)})
}

func findCounters(recorded []recordedMetric, name string) []recordedMetric {
	var out []recordedMetric
	for _, m := range recorded {
		if m.name == name {
			out = append(out, m)
		}
	}
	return out
}

func TestMetricsMiddleware_TokenDirections(t *testing.T) {
	mock := NewMockGenerator()
	mock.TokensIn = 10
	mock.TokensOut = 20

	collector := &capturingCollector{}
	client := NewClientFromCore(mock, MetricsMiddleware(collector, "openai"))

	_, err := client.Generate(context.Background(), "q",
		domain.SamplingParams{Label: "deterministic", MaxTokens: 64})
	require.NoError(t, err)

	tokens := findCounters(collector.counters, "generation_tokens_total")
	require.Len(t, tokens, 2)

	assert.Equal(t, "input", tokens[0].labels["direction"])
	assert.Equal(t, float64(10), tokens[0].value)
	assert.Equal(t, "output", tokens[1].labels["direction"])
	assert.Equal(t, float64(20), tokens[1].value)
	for _, m := range tokens {
		assert.Equal(t, "openai", m.labels["provider"])
		assert.Equal(t, "test-model", m.labels["model"])
	}
}

func TestMetricsMiddleware_LatencyGoesThroughRecordLatency(t *testing.T) {
	mock := NewMockGenerator()
	collector := &capturingCollector{}
	client := NewClientFromCore(mock, MetricsMiddleware(collector, "openai"))

	_, err := client.Generate(context.Background(), "q",
		domain.SamplingParams{Label: "deterministic", MaxTokens: 64})
	require.NoError(t, err)

	require.Len(t, collector.latencies, 1)
	assert.Equal(t, "generation_latency_seconds", collector.latencies[0].name)
	assert.Equal(t, "openai", collector.latencies[0].labels["provider"])
	assert.Equal(t, "test-model", collector.latencies[0].labels["model"])
	assert.Empty(t, collector.histograms)
}

func TestMetricsMiddleware_FailureSkipsTokenCounters(t *testing.T) {
	mock := NewMockGenerator()
	mock.Err = NewProviderError("mock", ErrorTypeServerError, 500, "boom", nil)

	collector := &capturingCollector{}
	client := NewClientFromCore(mock, MetricsMiddleware(collector, "openai"))

	_, err := client.Generate(context.Background(), "q",
		domain.SamplingParams{Label: "deterministic", MaxTokens: 64})
	require.Error(t, err)

	assert.Empty(t, findCounters(collector.counters, "generation_tokens_total"))

	requests := findCounters(collector.counters, "generation_requests_total")
	require.Len(t, requests, 1)
	assert.Equal(t, "error", requests[0].labels["status"])
}
