package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-crucible/internal/domain"
)

// tracedGenerator wraps generation calls in OpenTelemetry spans carrying
// model, sampling, and token attributes.
type tracedGenerator struct {
	next   CoreGenerator
	tracer trace.Tracer
}

// TracingMiddleware creates middleware that emits one span per generation
// call under the given service name.
func TracingMiddleware(serviceName string) Middleware {
	tracer := otel.Tracer(serviceName)
	return func(next CoreGenerator) CoreGenerator {
		return &tracedGenerator{next: next, tracer: tracer}
	}
}

// Generate executes the request inside a span, recording errors and token
// usage on completion.
func (t *tracedGenerator) Generate(ctx context.Context, prompt string, params domain.SamplingParams) (string, int, int, error) {
	ctx, span := t.tracer.Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", t.next.GetModel()),
			attribute.String("llm.sampling.label", params.Label),
			attribute.Float64("llm.sampling.temperature", params.Temperature),
			attribute.Int("llm.prompt.length", len(prompt)),
		),
	)
	defer span.End()

	response, tokensIn, tokensOut, err := t.next.Generate(ctx, prompt, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int("llm.tokens.input", tokensIn),
			attribute.Int("llm.tokens.output", tokensOut),
		)
	}

	return response, tokensIn, tokensOut, err
}

// GetModel returns the model name from the wrapped implementation.
func (t *tracedGenerator) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *tracedGenerator) SetModel(m string) { t.next.SetModel(m) }
