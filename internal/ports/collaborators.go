// Package ports defines the interfaces through which the pipeline talks to
// its external collaborators: text generation, verification scoring, the
// event bus, append-only persistence, and metrics. The engine depends only
// on these contracts, never on concrete adapters.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
)

// Generation is the result of one generator call, including token usage
// for cost accounting.
type Generation struct {
	// Text is the generated candidate answer.
	Text string

	// TokensIn and TokensOut report prompt and completion token usage.
	// Estimated when the provider does not return exact counts.
	TokensIn  int
	TokensOut int
}

// Generator produces one candidate answer for a prompt under specific
// sampling parameters. Implementations must honor ctx cancellation; the
// caller imposes the external-call timeout so a hung provider can never
// hold a batch open.
type Generator interface {
	Generate(ctx context.Context, prompt string, params domain.SamplingParams) (Generation, error)
}

// VerificationScores carries the two sub-scores the external verifier
// produces, each in [0,1].
type VerificationScores struct {
	Faithfulness float64
	Relevancy    float64
}

// Verifier scores one candidate against the question and retrieved context.
// A failed call returns an error; the caller converts it to a zero-score
// placeholder so completeness detection cannot deadlock.
type Verifier interface {
	Verify(ctx context.Context, question, candidate, retrievedContext string) (VerificationScores, error)
}

// Envelope is one message on the bus. Payload holds a concrete event struct
// (domain.CandidateProducedEvent or domain.CandidateVerifiedEvent); Meta
// duplicates the identifiers for routing and tracing without unwrapping.
type Envelope struct {
	Topic   string
	Meta    domain.EventMeta
	Payload any
}

// EventBus is the at-least-once delivery substrate between the dispatcher,
// the verification consumers, and the aggregator. No ordering is assumed
// between topics or within a batch, and redelivery is expected: consumers
// must be idempotent.
type EventBus interface {
	// Publish delivers the envelope to every subscriber of its topic,
	// blocking on backpressure until ctx is done.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers a consumer for a topic and returns its delivery
	// channel. The channel closes when the bus shuts down.
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, error)

	// Close stops delivery and closes all subscriber channels.
	Close() error
}

// RecordSink is the append-only persistence contract. One sink instance
// backs one logical stream; appends must be safe to retry and failures are
// reported, never swallowed.
type RecordSink interface {
	// Append durably writes one record to the stream. The record must be
	// JSON-serializable.
	Append(ctx context.Context, record any) error
}

// MetricsCollector abstracts operational metrics so infrastructure can ship
// Prometheus while tests assert against an in-memory fake.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram distribution.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
