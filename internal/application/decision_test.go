package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crucible/internal/domain"
)

func defaultPolicy() PolicyConfig {
	return PolicyConfig{
		MinScoreDiff:   0.30,
		MinChosenScore: 0.70,
		Combiner:       "mean",
	}
}

// completeBatch builds a complete aggregate where candidate i carries
// text texts[i] and both sub-scores equal scores[i], so the mean
// combiner reproduces scores[i] as the overall score.
func completeBatch(scores []float64, texts ...string) *domain.BatchAggregate {
	now := time.Now().UTC()
	b := &domain.BatchAggregate{
		BatchID:       "batch-1",
		CorrelationID: "corr-1",
		Question:      "What causes tides?",
		ExpectedCount: len(scores),
		Candidates:    make(map[int]domain.CandidateRecord),
		Verifications: make(map[int]domain.VerificationRecord),
		Status:        domain.BatchOpen,
		CreatedAt:     now,
		Deadline:      now.Add(5 * time.Minute),
	}
	for i, score := range scores {
		text := "candidate answer"
		if i < len(texts) {
			text = texts[i]
		}
		b.Candidates[i] = domain.CandidateRecord{Index: i, Text: text, ProducedAt: now}
		b.Verifications[i] = domain.VerificationRecord{
			Index:        i,
			Faithfulness: score,
			Relevancy:    score,
			Confidence:   domain.DeriveConfidenceLabel(score, score),
			VerifiedAt:   now,
		}
	}
	return b
}

// TestDecisionEngine_Decide covers the threshold policy: acceptance,
// both rejection reasons, and the strict-less-than boundaries.
func TestDecisionEngine_Decide(t *testing.T) {
	tests := []struct {
		name            string
		policy          PolicyConfig
		scores          []float64
		wantAccepted    bool
		wantReason      domain.RejectionReason
		wantMargin      float64
		wantBest        float64
		wantChosenIndex int
		wantWorstIndex  int
	}{
		{
			name:            "clear winner above both thresholds is accepted",
			policy:          defaultPolicy(),
			scores:          []float64{0.92, 0.87, 0.54},
			wantAccepted:    true,
			wantMargin:      0.38,
			wantChosenIndex: 0,
			wantWorstIndex:  2,
		},
		{
			name:       "clustered scores rejected for margin",
			policy:     defaultPolicy(),
			scores:     []float64{0.65, 0.60, 0.58},
			wantReason: domain.RejectionMarginTooSmall,
			wantMargin: 0.07,
		},
		{
			name:       "wide margin but weak best rejected for best score",
			policy:     defaultPolicy(),
			scores:     []float64{0.55, 0.50, 0.10},
			wantReason: domain.RejectionBestTooLow,
			wantBest:   0.55,
		},
		{
			name:            "margin exactly at threshold is accepted",
			policy:          defaultPolicy(),
			scores:          []float64{0.80, 0.50},
			wantAccepted:    true,
			wantMargin:      0.30,
			wantChosenIndex: 0,
			wantWorstIndex:  1,
		},
		{
			name:            "best exactly at threshold is accepted",
			policy:          defaultPolicy(),
			scores:          []float64{0.70, 0.20},
			wantAccepted:    true,
			wantMargin:      0.50,
			wantChosenIndex: 0,
			wantWorstIndex:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := NewDecisionEngine(tt.policy)
			require.NoError(t, err)

			batch := completeBatch(tt.scores)
			decision, err := engine.Decide(batch, time.Now().UTC())
			require.NoError(t, err)
			require.Equal(t, batch.BatchID, decision.BatchID)
			require.Equal(t, batch.CorrelationID, decision.CorrelationID)

			if tt.wantAccepted {
				require.True(t, decision.Accepted())
				assert.InDelta(t, tt.wantMargin, decision.Pair.Margin, 1e-9)
				assert.Equal(t, tt.wantChosenIndex, decision.Pair.Chosen.Candidate.Index)
				assert.Equal(t, tt.wantWorstIndex, decision.Pair.Rejected.Candidate.Index)
				assert.Equal(t, batch.Question, decision.Pair.Question)
				return
			}

			require.False(t, decision.Accepted())
			require.NotNil(t, decision.Rejected)
			assert.Equal(t, tt.wantReason, decision.Rejected.Reason)
			switch tt.wantReason {
			case domain.RejectionMarginTooSmall:
				assert.InDelta(t, tt.wantMargin, decision.Rejected.ObservedMargin, 1e-9)
				assert.InDelta(t, tt.policy.MinScoreDiff, decision.Rejected.Threshold, 1e-9)
			case domain.RejectionBestTooLow:
				assert.InDelta(t, tt.wantBest, decision.Rejected.ObservedBest, 1e-9)
				assert.InDelta(t, tt.policy.MinChosenScore, decision.Rejected.Threshold, 1e-9)
			}
		})
	}
}

// TestDecisionEngine_Decide_TieBreak verifies identical overall scores
// resolve deterministically to the lowest candidate index.
func TestDecisionEngine_Decide_TieBreak(t *testing.T) {
	engine, err := NewDecisionEngine(defaultPolicy())
	require.NoError(t, err)

	decision, err := engine.Decide(completeBatch([]float64{0.90, 0.90, 0.40, 0.40}), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, decision.Accepted())

	assert.Equal(t, 0, decision.Pair.Chosen.Candidate.Index)
	assert.Equal(t, 2, decision.Pair.Rejected.Candidate.Index)
}

// TestDecisionEngine_Decide_FailedCandidates verifies failure
// placeholders score zero and can never be the chosen side.
func TestDecisionEngine_Decide_FailedCandidates(t *testing.T) {
	engine, err := NewDecisionEngine(defaultPolicy())
	require.NoError(t, err)

	t.Run("failed candidate becomes the rejected side", func(t *testing.T) {
		batch := completeBatch([]float64{0.90, 0.85, 0.80})
		cand := batch.Candidates[2]
		cand.Failed = true
		cand.Text = ""
		batch.Candidates[2] = cand

		decision, err := engine.Decide(batch, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, decision.Accepted())
		assert.Equal(t, 0, decision.Pair.Chosen.Candidate.Index)
		assert.Equal(t, 2, decision.Pair.Rejected.Candidate.Index)
		assert.InDelta(t, 0.90, decision.Pair.Margin, 1e-9)
	})

	t.Run("all candidates failed rejects for best score", func(t *testing.T) {
		batch := completeBatch([]float64{0, 0})
		for i := 0; i < 2; i++ {
			cand := batch.Candidates[i]
			cand.Failed = true
			batch.Candidates[i] = cand
			verif := batch.Verifications[i]
			verif.Failed = true
			batch.Verifications[i] = verif
		}
		// Zero margin trips the margin check before the best-score floor.
		decision, err := engine.Decide(batch, time.Now().UTC())
		require.NoError(t, err)
		require.False(t, decision.Accepted())
		assert.Equal(t, domain.RejectionMarginTooSmall, decision.Rejected.Reason)
	})

	t.Run("failed verification zeroes the score", func(t *testing.T) {
		batch := completeBatch([]float64{0.95, 0.90})
		verif := batch.Verifications[1]
		verif.Failed = true
		verif.Faithfulness = 0
		verif.Relevancy = 0
		batch.Verifications[1] = verif

		decision, err := engine.Decide(batch, time.Now().UTC())
		require.NoError(t, err)
		require.True(t, decision.Accepted())
		assert.InDelta(t, 0.95, decision.Pair.Margin, 1e-9)
	})
}

// TestDecisionEngine_Decide_QualityFilter verifies near-duplicate pairs
// are rejected when the filter is enabled.
func TestDecisionEngine_Decide_QualityFilter(t *testing.T) {
	policy := defaultPolicy()
	policy.QualityFilter = QualityFilterConfig{Enabled: true, MaxSimilarity: 0.9}

	engine, err := NewDecisionEngine(policy)
	require.NoError(t, err)

	t.Run("near-identical texts rejected as too similar", func(t *testing.T) {
		batch := completeBatch([]float64{0.95, 0.40},
			"The moon's gravity pulls the oceans.",
			"The moon's gravity pulls the oceans!")

		decision, err := engine.Decide(batch, time.Now().UTC())
		require.NoError(t, err)
		require.False(t, decision.Accepted())
		assert.Equal(t, domain.RejectionPairTooSimilar, decision.Rejected.Reason)
	})

	t.Run("case differences alone do not rescue a duplicate", func(t *testing.T) {
		batch := completeBatch([]float64{0.95, 0.40},
			"THE MOON'S GRAVITY PULLS THE OCEANS.",
			"the moon's gravity pulls the oceans.")

		decision, err := engine.Decide(batch, time.Now().UTC())
		require.NoError(t, err)
		require.False(t, decision.Accepted())
		assert.Equal(t, domain.RejectionPairTooSimilar, decision.Rejected.Reason)
	})

	t.Run("distinct texts pass the filter", func(t *testing.T) {
		batch := completeBatch([]float64{0.95, 0.40},
			"Tides are caused by the gravitational pull of the moon and sun on the oceans.",
			"I am not sure, maybe the wind moves the water around.")

		decision, err := engine.Decide(batch, time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, decision.Accepted())
	})

	t.Run("filter disabled accepts duplicates", func(t *testing.T) {
		plain, err := NewDecisionEngine(defaultPolicy())
		require.NoError(t, err)

		batch := completeBatch([]float64{0.95, 0.40},
			"The moon's gravity pulls the oceans.",
			"The moon's gravity pulls the oceans!")

		decision, err := plain.Decide(batch, time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, decision.Accepted())
	})
}

// TestDecisionEngine_Decide_Incomplete verifies Decide refuses aggregates
// that have not reached completeness.
func TestDecisionEngine_Decide_Incomplete(t *testing.T) {
	engine, err := NewDecisionEngine(defaultPolicy())
	require.NoError(t, err)

	batch := completeBatch([]float64{0.9, 0.5})
	delete(batch.Verifications, 1)

	_, err = engine.Decide(batch, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrBatchNotComplete)
}

// TestDecisionEngine_Expire verifies the expiry record counts missing
// events against the 2N expectation.
func TestDecisionEngine_Expire(t *testing.T) {
	engine, err := NewDecisionEngine(defaultPolicy())
	require.NoError(t, err)

	batch := completeBatch([]float64{0.9, 0.5, 0.4})
	delete(batch.Candidates, 2)
	delete(batch.Verifications, 1)
	delete(batch.Verifications, 2)

	decision := engine.Expire(batch, time.Now().UTC())
	require.False(t, decision.Accepted())
	assert.Equal(t, domain.RejectionIncompleteOnExpiry, decision.Rejected.Reason)
	assert.Equal(t, 3, decision.Rejected.MissingEvents)
	assert.Equal(t, batch.Question, decision.Rejected.Question)
}

// TestDecisionEngine_Combiners verifies the decision respects the
// injected combination strategy.
func TestDecisionEngine_Combiners(t *testing.T) {
	policy := defaultPolicy()
	policy.Combiner = "weighted"
	policy.FaithfulnessWeight = 1.0

	engine, err := NewDecisionEngine(policy)
	require.NoError(t, err)

	// Faithfulness-only weighting ranks index 1 on top despite its weak
	// relevancy.
	batch := completeBatch([]float64{0.6, 0.6})
	verifA := batch.Verifications[0]
	verifA.Faithfulness, verifA.Relevancy = 0.40, 0.95
	batch.Verifications[0] = verifA
	verifB := batch.Verifications[1]
	verifB.Faithfulness, verifB.Relevancy = 0.90, 0.10
	batch.Verifications[1] = verifB

	decision, err := engine.Decide(batch, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, decision.Accepted())
	assert.Equal(t, 1, decision.Pair.Chosen.Candidate.Index)
	assert.Equal(t, 0, decision.Pair.Rejected.Candidate.Index)
	assert.InDelta(t, 0.50, decision.Pair.Margin, 1e-9)
}
