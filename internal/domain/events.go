package domain

// Event topics carried by the bus. The pipeline only orders events by
// content, never by topic position; both topics assume at-least-once
// delivery and no cross-topic ordering.
const (
	// TopicCandidateProduced carries one event per generated (or failed)
	// candidate, published by the dispatcher.
	TopicCandidateProduced = "candidate.produced"

	// TopicCandidateVerified carries one event per scored candidate,
	// published by the verification consumer.
	TopicCandidateVerified = "candidate.verified"
)

// EventMeta identifies one event instance on the bus. EventID exists for
// tracing only; redelivery dedup is the aggregator's first-write-wins
// design, not an ID comparison.
type EventMeta struct {
	// EventID uniquely names this publish attempt.
	EventID string `json:"event_id"`

	// BatchID correlates the event to its batch.
	BatchID BatchID `json:"batch_id"`

	// CorrelationID is the request-scoped tracing identifier propagated
	// end-to-end, opaque to the pipeline.
	CorrelationID string `json:"correlation_id"`
}

// CandidateProducedEvent announces that candidate index I of a batch has
// been generated (or failed generation). It carries everything the
// aggregator needs to lazily create the batch on first sight.
type CandidateProducedEvent struct {
	EventMeta

	// Question and Context travel with the event so the aggregator and the
	// verification consumer need no side channel to the dispatcher.
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`

	// ExpectedCount is N; every produced event of a batch repeats it so any
	// event can be the one that creates the aggregate.
	ExpectedCount int `json:"expected_count"`

	Candidate CandidateRecord `json:"candidate"`
}

// CandidateVerifiedEvent announces the verification outcome for one
// candidate. It may be delivered before the matching produced event.
type CandidateVerifiedEvent struct {
	EventMeta

	Question string `json:"question"`

	// ExpectedCount mirrors the produced event so a verified event racing
	// ahead of its candidate can still create the aggregate.
	ExpectedCount int `json:"expected_count"`

	Verification VerificationRecord `json:"verification"`
}
