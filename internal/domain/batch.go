// Package domain defines the data model for the multi-candidate
// preference-pair pipeline: batches, candidate and verification records,
// decisions, and the score-combination policies that rank candidates.
package domain

import (
	"time"
)

// BatchID is the opaque token minted once per incoming question. It scopes
// every event belonging to one multi-candidate request and is never
// interpreted beyond equality comparison.
type BatchID string

// BatchStatus tracks a batch through its lifecycle. A batch moves
// OPEN → COMPLETE → DECIDED exactly once, with a parallel edge to EXPIRED
// when the deadline passes before completeness.
type BatchStatus int

const (
	// BatchOpen indicates the batch is still collecting events.
	BatchOpen BatchStatus = iota

	// BatchComplete indicates every candidate index has both a candidate
	// and a verification record. This state is transient; the aggregator
	// transitions to BatchDecided in the same critical section.
	BatchComplete

	// BatchDecided indicates the decision engine has run and the terminal
	// record has been handed to persistence. Further events are no-ops.
	BatchDecided

	// BatchExpired indicates the batch missed its deadline before reaching
	// completeness and was evicted with an audit rejection.
	BatchExpired
)

// String returns the lowercase status name used in logs and metrics labels.
func (s BatchStatus) String() string {
	switch s {
	case BatchOpen:
		return "open"
	case BatchComplete:
		return "complete"
	case BatchDecided:
		return "decided"
	case BatchExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// SamplingParams describes how one candidate is sampled from the generator.
// A batch's sampling plan is a slice of these, one per candidate index.
type SamplingParams struct {
	// Label names the point in the plan, e.g. "conservative" or "creative".
	Label string `yaml:"label" json:"label" validate:"required"`

	// Temperature controls generation randomness (0.0-2.0).
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0.0,max=2.0"`

	// TopP optionally enables nucleus sampling. Nil uses the provider default.
	TopP *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty" validate:"omitempty,min=0.0,max=1.0"`

	// MaxTokens limits the length of the generated candidate.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"required,min=1"`
}

// CandidateRecord is one generated answer within a batch. It is created by
// the dispatcher and immutable afterwards. A record with Failed set carries
// no usable text; the decision engine scores it zero and never chooses it.
type CandidateRecord struct {
	// Index is the candidate's position in the batch, unique within 0..N-1.
	Index int `json:"index"`

	// Text is the generated answer. Empty when Failed is set.
	Text string `json:"text"`

	// Sampling records the parameters the candidate was generated with.
	Sampling SamplingParams `json:"sampling"`

	// Failed marks a generation failure placeholder. The batch still counts
	// the index toward completeness so it cannot stall.
	Failed bool `json:"failed,omitempty"`

	// FailureReason carries the generation error text for audit records.
	FailureReason string `json:"failure_reason,omitempty"`

	// ProducedAt is when the generator returned (or failed).
	ProducedAt time.Time `json:"produced_at"`
}

// ConfidenceLabel is the coarse bucket derived from a verification's
// combined score, carried through to persisted records.
type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "high"
	ConfidenceMedium ConfidenceLabel = "medium"
	ConfidenceLow    ConfidenceLabel = "low"
)

// Confidence bucket boundaries on the mean of the two sub-scores.
const (
	confidenceHighFloor   = 0.8
	confidenceMediumFloor = 0.5
)

// DeriveConfidenceLabel buckets the mean of faithfulness and relevancy into
// a coarse confidence label.
func DeriveConfidenceLabel(faithfulness, relevancy float64) ConfidenceLabel {
	mean := (faithfulness + relevancy) / 2
	switch {
	case mean >= confidenceHighFloor:
		return ConfidenceHigh
	case mean >= confidenceMediumFloor:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// VerificationRecord is the scoring outcome for one candidate. It is created
// by the verification consumer and immutable afterwards. It may arrive
// before its candidate record; the aggregator buffers it either way.
type VerificationRecord struct {
	// Index is the candidate index this verification refers to.
	Index int `json:"index"`

	// Faithfulness scores how grounded the candidate is in the retrieved
	// context, in [0,1].
	Faithfulness float64 `json:"faithfulness"`

	// Relevancy scores how well the candidate addresses the question, in [0,1].
	Relevancy float64 `json:"relevancy"`

	// Confidence is derived from the two sub-scores at creation time.
	Confidence ConfidenceLabel `json:"confidence"`

	// Failed marks a verification failure placeholder carrying zero scores,
	// published instead of dropping the event so completeness cannot deadlock.
	Failed bool `json:"failed,omitempty"`

	// FailureReason carries the verifier error text for audit records.
	FailureReason string `json:"failure_reason,omitempty"`

	// VerifiedAt is when the verifier returned (or failed).
	VerifiedAt time.Time `json:"verified_at"`
}

// BatchAggregate is the per-batch aggregation record. It is owned
// exclusively by the aggregator while OPEN and handed to the decision
// engine by value once COMPLETE; it is never mutated after DECIDED.
type BatchAggregate struct {
	// BatchID correlates every event of this batch.
	BatchID BatchID `json:"batch_id"`

	// CorrelationID is the request-scoped tracing identifier, distinct from
	// BatchID and never interpreted by the pipeline.
	CorrelationID string `json:"correlation_id"`

	// Question is the incoming question the candidates answer.
	Question string `json:"question"`

	// Context is the retrieved context the candidates were generated and
	// verified against.
	Context string `json:"context,omitempty"`

	// ExpectedCount is N, the number of candidate indices the batch waits for.
	ExpectedCount int `json:"expected_count"`

	// Candidates maps candidate index to its record. At most one record per
	// index; duplicate deliveries are merged first-write-wins.
	Candidates map[int]CandidateRecord `json:"candidates"`

	// Verifications maps candidate index to its verification record,
	// first-write-wins like Candidates.
	Verifications map[int]VerificationRecord `json:"verifications"`

	// Status is the batch's position in the lifecycle.
	Status BatchStatus `json:"status"`

	// CreatedAt is when the aggregator first saw an event for this batch.
	CreatedAt time.Time `json:"created_at"`

	// Deadline is the instant after which the batch expires if incomplete.
	Deadline time.Time `json:"deadline"`
}

// IsComplete reports whether every index in 0..ExpectedCount-1 has both a
// candidate and a verification record.
func (b *BatchAggregate) IsComplete() bool {
	if b.ExpectedCount < 1 {
		return false
	}
	if len(b.Candidates) < b.ExpectedCount || len(b.Verifications) < b.ExpectedCount {
		return false
	}
	for i := 0; i < b.ExpectedCount; i++ {
		if _, ok := b.Candidates[i]; !ok {
			return false
		}
		if _, ok := b.Verifications[i]; !ok {
			return false
		}
	}
	return true
}

// Snapshot returns a deep copy of the aggregate. The aggregator hands
// snapshots to the decision engine and sinks so the engine's input can never
// race with aggregator mutation.
func (b *BatchAggregate) Snapshot() BatchAggregate {
	cp := *b
	cp.Candidates = make(map[int]CandidateRecord, len(b.Candidates))
	for i, c := range b.Candidates {
		cp.Candidates[i] = c
	}
	cp.Verifications = make(map[int]VerificationRecord, len(b.Verifications))
	for i, v := range b.Verifications {
		cp.Verifications[i] = v
	}
	return cp
}
