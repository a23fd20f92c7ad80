package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// metricsGenerator records latency, request counts, and token usage for
// every generation call.
type metricsGenerator struct {
	next      CoreGenerator
	collector ports.MetricsCollector
	provider  string
}

// MetricsMiddleware creates middleware that reports generation metrics to
// the collector. The provider label distinguishes multi-provider
// deployments in dashboards.
func MetricsMiddleware(collector ports.MetricsCollector, provider string) Middleware {
	return func(next CoreGenerator) CoreGenerator {
		return &metricsGenerator{next: next, collector: collector, provider: provider}
	}
}

// Generate executes the request while recording latency, status, and token
// counters.
func (m *metricsGenerator) Generate(ctx context.Context, prompt string, params domain.SamplingParams) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.Generate(ctx, prompt, params)

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   "success",
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			labels["status"] = "timeout"
		} else {
			labels["status"] = "error"
		}
	}

	if m.collector != nil {
		m.collector.RecordLatency("generation_latency_seconds", time.Since(start), labels)
		m.collector.RecordCounter("generation_requests_total", 1, labels)

		if err == nil {
			labels["direction"] = "input"
			m.collector.RecordCounter("generation_tokens_total", float64(tokensIn), labels)

			labels["direction"] = "output"
			m.collector.RecordCounter("generation_tokens_total", float64(tokensOut), labels)
		}
	}

	return response, tokensIn, tokensOut, err
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsGenerator) GetModel() string { return m.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (m *metricsGenerator) SetModel(model string) { m.next.SetModel(model) }
