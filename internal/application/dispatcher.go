package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// DispatchReceipt is returned to the caller as soon as a batch is
// accepted, before any generation completes.
type DispatchReceipt struct {
	BatchID       domain.BatchID `json:"batch_id"`
	CorrelationID string         `json:"correlation_id"`
	ExpectedCount int            `json:"expected_count"`
}

// Dispatcher fans one incoming question out into N concurrent candidate
// generations, one per point in the sampling plan, and publishes a
// candidate.produced event per index. Generation runs detached from the
// caller's request context so a closed HTTP connection cannot abort an
// in-flight batch.
type Dispatcher struct {
	generator ports.Generator
	bus       ports.EventBus
	plan      []domain.SamplingParams

	logger  *slog.Logger
	metrics ports.MetricsCollector
	tracer  trace.Tracer
}

// NewDispatcher creates a dispatcher over the given generator and bus.
// The sampling plan must hold at least two points; a single candidate
// can never form a preference pair.
func NewDispatcher(
	generator ports.Generator,
	bus ports.EventBus,
	plan []domain.SamplingParams,
	logger *slog.Logger,
	metrics ports.MetricsCollector,
) (*Dispatcher, error) {
	if len(plan) < 2 {
		return nil, fmt.Errorf("%w: sampling plan has %d points", domain.ErrBatchTooSmall, len(plan))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		generator: generator,
		bus:       bus,
		plan:      plan,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("crucible/dispatcher"),
	}, nil
}

// ExpectedCount returns N, the number of candidates per batch.
func (d *Dispatcher) ExpectedCount() int { return len(d.plan) }

// Dispatch mints a batch identity for the question and starts its N
// generations. It returns the receipt immediately; candidates flow
// through the event bus as they finish. An empty correlationID is
// replaced with a fresh one.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	question, retrievedContext, correlationID string,
) (DispatchReceipt, error) {
	if strings.TrimSpace(question) == "" {
		return DispatchReceipt{}, fmt.Errorf("question must not be empty")
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	receipt := DispatchReceipt{
		BatchID:       domain.BatchID(uuid.NewString()),
		CorrelationID: correlationID,
		ExpectedCount: len(d.plan),
	}

	d.logger.Info("batch dispatched",
		slog.String("batch_id", string(receipt.BatchID)),
		slog.String("correlation_id", correlationID),
		slog.Int("expected_count", receipt.ExpectedCount))

	// Generation outlives the request. WithoutCancel keeps trace and
	// deadline-free values while detaching from the caller's lifetime.
	go d.generate(context.WithoutCancel(ctx), receipt, question, retrievedContext)

	return receipt, nil
}

// generate runs the batch's N generations concurrently and publishes one
// candidate.produced event per index. A failed generation publishes a
// failure placeholder so the batch still reaches completeness.
func (d *Dispatcher) generate(ctx context.Context, receipt DispatchReceipt, question, retrievedContext string) {
	ctx, span := d.tracer.Start(ctx, "dispatch.generate",
		trace.WithAttributes(
			attribute.String("batch.id", string(receipt.BatchID)),
			attribute.Int("batch.expected_count", receipt.ExpectedCount),
		))
	defer span.End()

	prompt := buildGenerationPrompt(question, retrievedContext)

	g, gctx := errgroup.WithContext(ctx)
	for i, params := range d.plan {
		g.Go(func() error {
			record := d.generateOne(gctx, i, params, prompt)
			return d.publishProduced(gctx, receipt, question, retrievedContext, record)
		})
	}

	if err := g.Wait(); err != nil {
		d.logger.Error("candidate publish failed",
			slog.String("batch_id", string(receipt.BatchID)),
			slog.String("correlation_id", receipt.CorrelationID),
			slog.Any("error", err))
	}
}

// generateOne produces the candidate record for one sampling point,
// converting generator errors into failure placeholders rather than
// dropping the index.
func (d *Dispatcher) generateOne(
	ctx context.Context, index int, params domain.SamplingParams, prompt string,
) domain.CandidateRecord {
	record := domain.CandidateRecord{
		Index:    index,
		Sampling: params,
	}

	gen, err := d.generator.Generate(ctx, prompt, params)
	record.ProducedAt = time.Now().UTC()
	if err != nil {
		record.Failed = true
		record.FailureReason = err.Error()
		d.logger.Warn("candidate generation failed",
			slog.Int("index", index),
			slog.String("sampling_label", params.Label),
			slog.Any("error", err))
		if d.metrics != nil {
			d.metrics.RecordCounter("generation_requests_total", 1,
				map[string]string{"status": "error"})
		}
		return record
	}

	record.Text = gen.Text
	if d.metrics != nil {
		d.metrics.RecordCounter("generation_requests_total", 1,
			map[string]string{"status": "success"})
	}
	return record
}

func (d *Dispatcher) publishProduced(
	ctx context.Context,
	receipt DispatchReceipt,
	question, retrievedContext string,
	record domain.CandidateRecord,
) error {
	event := domain.CandidateProducedEvent{
		EventMeta: domain.EventMeta{
			EventID:       uuid.NewString(),
			BatchID:       receipt.BatchID,
			CorrelationID: receipt.CorrelationID,
		},
		Question:      question,
		Context:       retrievedContext,
		ExpectedCount: receipt.ExpectedCount,
		Candidate:     record,
	}
	return d.bus.Publish(ctx, ports.Envelope{
		Topic:   domain.TopicCandidateProduced,
		Meta:    event.EventMeta,
		Payload: event,
	})
}

// buildGenerationPrompt frames the question with its retrieved context
// so candidates answer from the context rather than model priors.
func buildGenerationPrompt(question, retrievedContext string) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the provided context.\n")
	sb.WriteString("If the context does not contain the answer, say so.\n\n")
	if retrievedContext != "" {
		sb.WriteString("Context:\n")
		sb.WriteString(retrievedContext)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
