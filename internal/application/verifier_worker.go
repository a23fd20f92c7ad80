package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// VerifierWorker consumes candidate.produced events, scores each
// candidate through the verifier, and publishes the matching
// candidate.verified event. The worker is stateless: redeliveries simply
// produce another verified event, which the aggregator's first-write-wins
// merge collapses.
type VerifierWorker struct {
	verifier ports.Verifier
	bus      ports.EventBus

	logger  *slog.Logger
	metrics ports.MetricsCollector
}

// NewVerifierWorker creates a worker over the given verifier and bus.
func NewVerifierWorker(
	verifier ports.Verifier,
	bus ports.EventBus,
	logger *slog.Logger,
	metrics ports.MetricsCollector,
) *VerifierWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifierWorker{verifier: verifier, bus: bus, logger: logger, metrics: metrics}
}

// Run consumes produced events until ctx is done or the bus closes.
// Several workers may run concurrently against the same subscription
// channel to parallelize verification calls.
func (w *VerifierWorker) Run(ctx context.Context, events <-chan ports.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}
			w.handle(ctx, env)
		}
	}
}

func (w *VerifierWorker) handle(ctx context.Context, env ports.Envelope) {
	event, ok := env.Payload.(domain.CandidateProducedEvent)
	if !ok {
		w.logger.Warn("unexpected payload on produced topic",
			slog.String("event_id", env.Meta.EventID))
		return
	}

	record := w.verify(ctx, event)

	verified := domain.CandidateVerifiedEvent{
		EventMeta: domain.EventMeta{
			EventID:       uuid.NewString(),
			BatchID:       event.BatchID,
			CorrelationID: event.CorrelationID,
		},
		Question:      event.Question,
		ExpectedCount: event.ExpectedCount,
		Verification:  record,
	}

	if err := w.bus.Publish(ctx, ports.Envelope{
		Topic:   domain.TopicCandidateVerified,
		Meta:    verified.EventMeta,
		Payload: verified,
	}); err != nil {
		w.logger.Error("verified event publish failed",
			slog.String("batch_id", string(event.BatchID)),
			slog.Int("index", event.Candidate.Index),
			slog.Any("error", err))
	}
}

// verify scores one candidate, converting verifier errors and failed
// candidates into zero-score placeholders so every index always gets a
// verification record.
func (w *VerifierWorker) verify(ctx context.Context, event domain.CandidateProducedEvent) domain.VerificationRecord {
	record := domain.VerificationRecord{Index: event.Candidate.Index}

	if event.Candidate.Failed {
		record.Failed = true
		record.FailureReason = "candidate generation failed"
		record.Confidence = domain.ConfidenceLow
		record.VerifiedAt = time.Now().UTC()
		return record
	}

	start := time.Now()
	scores, err := w.verifier.Verify(ctx, event.Question, event.Candidate.Text, event.Context)
	record.VerifiedAt = time.Now().UTC()

	if w.metrics != nil {
		w.metrics.RecordLatency("verify", time.Since(start), nil)
	}

	if err != nil {
		record.Failed = true
		record.FailureReason = err.Error()
		record.Confidence = domain.ConfidenceLow
		w.logger.Warn("verification failed",
			slog.String("batch_id", string(event.BatchID)),
			slog.Int("index", event.Candidate.Index),
			slog.Any("error", err))
		return record
	}

	record.Faithfulness = scores.Faithfulness
	record.Relevancy = scores.Relevancy
	record.Confidence = domain.DeriveConfidenceLabel(scores.Faithfulness, scores.Relevancy)
	return record
}
