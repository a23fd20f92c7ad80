package domain

import (
	"fmt"
)

// ScoreCombiner folds a verification's faithfulness and relevancy sub-scores
// into the single overall score candidates are ranked by. The combination is
// policy, not algorithm: deployments tune it without touching the decision
// engine, so it is a named, swappable strategy.
type ScoreCombiner interface {
	// Combine returns the overall score for one candidate, in [0,1] when
	// both inputs are in [0,1].
	Combine(faithfulness, relevancy float64) float64

	// Name returns the strategy's config name.
	Name() string
}

// MeanCombiner averages the two sub-scores. This is the default policy.
type MeanCombiner struct{}

func (MeanCombiner) Combine(faithfulness, relevancy float64) float64 {
	return (faithfulness + relevancy) / 2
}

func (MeanCombiner) Name() string { return "mean" }

// MaxCombiner takes the larger sub-score, favoring candidates that are
// strong on either dimension.
type MaxCombiner struct{}

func (MaxCombiner) Combine(faithfulness, relevancy float64) float64 {
	if faithfulness > relevancy {
		return faithfulness
	}
	return relevancy
}

func (MaxCombiner) Name() string { return "max" }

// WeightedCombiner computes a convex combination of the two sub-scores.
// FaithfulnessWeight must be in [0,1]; relevancy gets the remainder.
type WeightedCombiner struct {
	FaithfulnessWeight float64
}

func (w WeightedCombiner) Combine(faithfulness, relevancy float64) float64 {
	return w.FaithfulnessWeight*faithfulness + (1-w.FaithfulnessWeight)*relevancy
}

func (w WeightedCombiner) Name() string { return "weighted" }

// NewScoreCombiner builds the named combination strategy.
// faithfulnessWeight is only consulted for "weighted".
func NewScoreCombiner(name string, faithfulnessWeight float64) (ScoreCombiner, error) {
	switch name {
	case "", "mean":
		return MeanCombiner{}, nil
	case "max":
		return MaxCombiner{}, nil
	case "weighted":
		if faithfulnessWeight < 0 || faithfulnessWeight > 1 {
			return nil, fmt.Errorf("%w: faithfulness weight %.3f outside [0,1]",
				ErrInvalidCombiner, faithfulnessWeight)
		}
		return WeightedCombiner{FaithfulnessWeight: faithfulnessWeight}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidCombiner, name)
	}
}
