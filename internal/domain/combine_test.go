package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewScoreCombiner verifies strategy construction by name, the mean
// default, and rejection of unknown strategies and bad weights.
func TestNewScoreCombiner(t *testing.T) {
	tests := []struct {
		name          string
		combiner      string
		weight        float64
		expectedName  string
		expectedError error
	}{
		{name: "empty name defaults to mean", combiner: "", expectedName: "mean"},
		{name: "mean by name", combiner: "mean", expectedName: "mean"},
		{name: "max by name", combiner: "max", expectedName: "max"},
		{name: "weighted with valid weight", combiner: "weighted", weight: 0.7, expectedName: "weighted"},
		{name: "unknown strategy fails", combiner: "median", expectedError: ErrInvalidCombiner},
		{name: "weighted with weight above one fails", combiner: "weighted", weight: 1.5, expectedError: ErrInvalidCombiner},
		{name: "weighted with negative weight fails", combiner: "weighted", weight: -0.1, expectedError: ErrInvalidCombiner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewScoreCombiner(tt.combiner, tt.weight)
			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedName, c.Name())
		})
	}
}

// TestScoreCombiner_Combine verifies each strategy's arithmetic.
func TestScoreCombiner_Combine(t *testing.T) {
	tests := []struct {
		name         string
		combiner     ScoreCombiner
		faithfulness float64
		relevancy    float64
		expected     float64
	}{
		{name: "mean averages both", combiner: MeanCombiner{}, faithfulness: 0.9, relevancy: 0.7, expected: 0.8},
		{name: "mean of equal scores", combiner: MeanCombiner{}, faithfulness: 0.5, relevancy: 0.5, expected: 0.5},
		{name: "max takes faithfulness when larger", combiner: MaxCombiner{}, faithfulness: 0.9, relevancy: 0.7, expected: 0.9},
		{name: "max takes relevancy when larger", combiner: MaxCombiner{}, faithfulness: 0.3, relevancy: 0.8, expected: 0.8},
		{name: "weighted favors faithfulness", combiner: WeightedCombiner{FaithfulnessWeight: 0.75}, faithfulness: 0.8, relevancy: 0.4, expected: 0.7},
		{name: "weighted zero weight is relevancy", combiner: WeightedCombiner{}, faithfulness: 0.9, relevancy: 0.4, expected: 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.combiner.Combine(tt.faithfulness, tt.relevancy)
			assert.InDelta(t, tt.expected, got, 1e-9)
		})
	}
}
