package application

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/ahrav/go-crucible/internal/domain"
)

// DecisionEngine applies the threshold policy to a complete batch and
// produces its single terminal decision. The engine is pure: it reads a
// batch snapshot and returns a value, with no I/O and no stored state
// beyond configuration, so the same input always yields the same
// decision.
type DecisionEngine struct {
	combiner       domain.ScoreCombiner
	minScoreDiff   float64
	minChosenScore float64
	qualityFilter  QualityFilterConfig
}

// NewDecisionEngine builds an engine from the decision policy
// configuration.
func NewDecisionEngine(policy PolicyConfig) (*DecisionEngine, error) {
	combiner, err := domain.NewScoreCombiner(policy.Combiner, policy.FaithfulnessWeight)
	if err != nil {
		return nil, err
	}
	return &DecisionEngine{
		combiner:       combiner,
		minScoreDiff:   policy.MinScoreDiff,
		minChosenScore: policy.MinChosenScore,
		qualityFilter:  policy.QualityFilter,
	}, nil
}

// Combiner returns the configured score combination strategy.
func (e *DecisionEngine) Combiner() domain.ScoreCombiner { return e.combiner }

// Decide ranks the batch's candidates and applies the policy checks in
// order: margin, best-score floor, then the near-duplicate filter.
// Exactly one of the returned decision's Pair or Rejected is set.
//
// Returns ErrBatchNotComplete when some index is missing either record.
func (e *DecisionEngine) Decide(batch *domain.BatchAggregate, now time.Time) (*domain.Decision, error) {
	if !batch.IsComplete() {
		return nil, domain.ErrBatchNotComplete
	}

	scored := e.score(batch)
	best, worst := rank(scored)

	decision := &domain.Decision{
		BatchID:       batch.BatchID,
		CorrelationID: batch.CorrelationID,
		DecidedAt:     now,
	}

	margin := best.Score - worst.Score
	if margin < e.minScoreDiff {
		decision.Rejected = &domain.Rejection{
			Question:       batch.Question,
			Reason:         domain.RejectionMarginTooSmall,
			ObservedMargin: margin,
			Threshold:      e.minScoreDiff,
		}
		return decision, nil
	}

	// A failed candidate carries no usable text, so even its zero score
	// topping the ranking cannot make it the chosen side.
	if best.Candidate.Failed || best.Score < e.minChosenScore {
		decision.Rejected = &domain.Rejection{
			Question:     batch.Question,
			Reason:       domain.RejectionBestTooLow,
			ObservedBest: best.Score,
			Threshold:    e.minChosenScore,
		}
		return decision, nil
	}

	if e.qualityFilter.Enabled {
		if sim := e.similarity(best.Candidate.Text, worst.Candidate.Text); sim > e.qualityFilter.MaxSimilarity {
			decision.Rejected = &domain.Rejection{
				Question:       batch.Question,
				Reason:         domain.RejectionPairTooSimilar,
				ObservedMargin: sim,
				Threshold:      e.qualityFilter.MaxSimilarity,
			}
			return decision, nil
		}
	}

	decision.Pair = &domain.AcceptedPair{
		Question: batch.Question,
		Chosen:   best,
		Rejected: worst,
		Margin:   margin,
	}
	return decision, nil
}

// Expire produces the terminal rejection for a batch whose deadline
// passed before completeness.
func (e *DecisionEngine) Expire(batch *domain.BatchAggregate, now time.Time) *domain.Decision {
	expected := 2 * batch.ExpectedCount
	received := len(batch.Candidates) + len(batch.Verifications)
	return &domain.Decision{
		BatchID:       batch.BatchID,
		CorrelationID: batch.CorrelationID,
		DecidedAt:     now,
		Rejected: &domain.Rejection{
			Question:      batch.Question,
			Reason:        domain.RejectionIncompleteOnExpiry,
			MissingEvents: expected - received,
		},
	}
}

// score combines each candidate's sub-scores into its overall score.
// Failed candidates and failed verifications score zero.
func (e *DecisionEngine) score(batch *domain.BatchAggregate) []domain.ScoredCandidate {
	scored := make([]domain.ScoredCandidate, 0, batch.ExpectedCount)
	for i := 0; i < batch.ExpectedCount; i++ {
		cand := batch.Candidates[i]
		verif := batch.Verifications[i]
		sc := domain.ScoredCandidate{Candidate: cand, Verification: verif}
		if !cand.Failed && !verif.Failed {
			sc.Score = e.combiner.Combine(verif.Faithfulness, verif.Relevancy)
		}
		scored = append(scored, sc)
	}
	return scored
}

// rank returns the best- and worst-scoring candidates. Ties resolve to
// the lowest candidate index on both sides (strict comparisons keep the
// first-seen candidate) so the decision is deterministic across runs
// and event orderings.
func rank(scored []domain.ScoredCandidate) (best, worst domain.ScoredCandidate) {
	best, worst = scored[0], scored[0]
	for _, sc := range scored[1:] {
		if sc.Score > best.Score {
			best = sc
		}
		if sc.Score < worst.Score {
			worst = sc
		}
	}
	return best, worst
}

// similarity returns the normalized Levenshtein similarity of two texts
// in [0,1], where 1 means identical.
func (e *DecisionEngine) similarity(a, b string) float64 {
	if !e.qualityFilter.CaseSensitive {
		// Casers are stateful, so a fresh one per comparison keeps Decide
		// safe for concurrent callers.
		folder := cases.Fold()
		a = folder.String(a)
		b = folder.String(b)
	}
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)

	if a == b {
		return 1.0
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
