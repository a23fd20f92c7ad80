package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregate(expected int) *BatchAggregate {
	now := time.Now().UTC()
	return &BatchAggregate{
		BatchID:       "batch-1",
		CorrelationID: "corr-1",
		Question:      "What is the boiling point of water?",
		ExpectedCount: expected,
		Candidates:    make(map[int]CandidateRecord),
		Verifications: make(map[int]VerificationRecord),
		Status:        BatchOpen,
		CreatedAt:     now,
		Deadline:      now.Add(5 * time.Minute),
	}
}

// TestBatchAggregate_IsComplete verifies completeness requires both a
// candidate and a verification record at every index.
func TestBatchAggregate_IsComplete(t *testing.T) {
	t.Run("empty batch is incomplete", func(t *testing.T) {
		assert.False(t, newTestAggregate(3).IsComplete())
	})

	t.Run("candidates without verifications are incomplete", func(t *testing.T) {
		b := newTestAggregate(2)
		b.Candidates[0] = CandidateRecord{Index: 0}
		b.Candidates[1] = CandidateRecord{Index: 1}
		assert.False(t, b.IsComplete())
	})

	t.Run("one missing verification is incomplete", func(t *testing.T) {
		b := newTestAggregate(2)
		b.Candidates[0] = CandidateRecord{Index: 0}
		b.Candidates[1] = CandidateRecord{Index: 1}
		b.Verifications[0] = VerificationRecord{Index: 0}
		assert.False(t, b.IsComplete())
	})

	t.Run("all indices with both records is complete", func(t *testing.T) {
		b := newTestAggregate(2)
		for i := 0; i < 2; i++ {
			b.Candidates[i] = CandidateRecord{Index: i}
			b.Verifications[i] = VerificationRecord{Index: i}
		}
		assert.True(t, b.IsComplete())
	})

	t.Run("failed records still count toward completeness", func(t *testing.T) {
		b := newTestAggregate(2)
		b.Candidates[0] = CandidateRecord{Index: 0, Failed: true, FailureReason: "timeout"}
		b.Candidates[1] = CandidateRecord{Index: 1, Text: "answer"}
		b.Verifications[0] = VerificationRecord{Index: 0, Failed: true}
		b.Verifications[1] = VerificationRecord{Index: 1, Faithfulness: 0.9, Relevancy: 0.8}
		assert.True(t, b.IsComplete())
	})

	t.Run("zero expected count is never complete", func(t *testing.T) {
		assert.False(t, newTestAggregate(0).IsComplete())
	})
}

// TestBatchAggregate_Snapshot verifies the snapshot is a deep copy that
// does not alias the live maps.
func TestBatchAggregate_Snapshot(t *testing.T) {
	b := newTestAggregate(2)
	b.Candidates[0] = CandidateRecord{Index: 0, Text: "original"}
	b.Verifications[0] = VerificationRecord{Index: 0, Faithfulness: 0.9}

	snap := b.Snapshot()
	require.Equal(t, b.BatchID, snap.BatchID)
	require.Equal(t, "original", snap.Candidates[0].Text)

	b.Candidates[0] = CandidateRecord{Index: 0, Text: "mutated"}
	b.Candidates[1] = CandidateRecord{Index: 1, Text: "late"}

	assert.Equal(t, "original", snap.Candidates[0].Text)
	assert.Len(t, snap.Candidates, 1)
}

// TestDeriveConfidenceLabel verifies the bucket boundaries on the mean of
// the two sub-scores.
func TestDeriveConfidenceLabel(t *testing.T) {
	tests := []struct {
		name         string
		faithfulness float64
		relevancy    float64
		expected     ConfidenceLabel
	}{
		{name: "high at boundary", faithfulness: 0.8, relevancy: 0.8, expected: ConfidenceHigh},
		{name: "high from mixed scores", faithfulness: 1.0, relevancy: 0.6, expected: ConfidenceHigh},
		{name: "medium just under high", faithfulness: 0.79, relevancy: 0.79, expected: ConfidenceMedium},
		{name: "medium at boundary", faithfulness: 0.5, relevancy: 0.5, expected: ConfidenceMedium},
		{name: "low below medium", faithfulness: 0.4, relevancy: 0.5, expected: ConfidenceLow},
		{name: "low at zero", faithfulness: 0, relevancy: 0, expected: ConfidenceLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveConfidenceLabel(tt.faithfulness, tt.relevancy))
		})
	}
}

// TestBatchStatus_String verifies the log label for each status.
func TestBatchStatus_String(t *testing.T) {
	assert.Equal(t, "open", BatchOpen.String())
	assert.Equal(t, "complete", BatchComplete.String())
	assert.Equal(t, "decided", BatchDecided.String())
	assert.Equal(t, "expired", BatchExpired.String())
	assert.Equal(t, "unknown", BatchStatus(99).String())
}
