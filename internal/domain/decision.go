package domain

import (
	"time"
)

// RejectionReason classifies why a completed batch did not yield a
// preference pair.
type RejectionReason string

const (
	// RejectionMarginTooSmall means best−worst was below the configured
	// minimum score difference.
	RejectionMarginTooSmall RejectionReason = "SCORE_MARGIN_TOO_SMALL"

	// RejectionBestTooLow means the best eligible candidate scored below
	// the configured minimum chosen score, or every candidate was a
	// failure placeholder.
	RejectionBestTooLow RejectionReason = "BEST_SCORE_TOO_LOW"

	// RejectionPairTooSimilar means the chosen and rejected texts were
	// near-identical, so the pair carries no training signal.
	RejectionPairTooSimilar RejectionReason = "PAIR_TOO_SIMILAR"

	// RejectionIncompleteOnExpiry means the batch missed its deadline
	// before every index had both records.
	RejectionIncompleteOnExpiry RejectionReason = "INCOMPLETE_ON_EXPIRY"
)

// ScoredCandidate pairs a candidate record with its verification and the
// combined overall score used for ranking.
type ScoredCandidate struct {
	Candidate    CandidateRecord    `json:"candidate"`
	Verification VerificationRecord `json:"verification"`
	// Score is the combined overall score. Zero for failed candidates.
	Score float64 `json:"score"`
}

// AcceptedPair is the positive decision outcome: the best- and
// worst-scoring candidates of a batch, ready for preference training.
type AcceptedPair struct {
	Question string          `json:"question"`
	Chosen   ScoredCandidate `json:"chosen"`
	Rejected ScoredCandidate `json:"rejected"`
	// Margin is Chosen.Score − Rejected.Score.
	Margin float64 `json:"margin"`
}

// Rejection is the negative decision outcome, carrying the observed values
// that tripped the policy so the audit log explains itself.
type Rejection struct {
	Question string          `json:"question"`
	Reason   RejectionReason `json:"reason"`

	// ObservedMargin and ObservedBest are the values the policy saw.
	// Only the field relevant to Reason is meaningful.
	ObservedMargin float64 `json:"observed_margin,omitempty"`
	ObservedBest   float64 `json:"observed_best,omitempty"`

	// Threshold is the configured limit the observation was compared against.
	Threshold float64 `json:"threshold,omitempty"`

	// MissingEvents counts how many of the 2N expected records never
	// arrived; only set for INCOMPLETE_ON_EXPIRY.
	MissingEvents int `json:"missing_events,omitempty"`
}

// Decision is the single terminal outcome of a batch: exactly one of Pair
// or Rejected is non-nil.
type Decision struct {
	BatchID       BatchID   `json:"batch_id"`
	CorrelationID string    `json:"correlation_id"`
	DecidedAt     time.Time `json:"decided_at"`

	Pair     *AcceptedPair `json:"pair,omitempty"`
	Rejected *Rejection    `json:"rejection,omitempty"`
}

// Accepted reports whether the decision produced a preference pair.
func (d *Decision) Accepted() bool { return d.Pair != nil }
