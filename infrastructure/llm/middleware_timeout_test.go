package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-crucible/internal/domain"
)

func TestTimeoutMiddleware_BoundsSlowProvider(t *testing.T) {
	mock := NewMockGenerator()
	mock.ResponseDelay = time.Second

	client := NewClientFromCore(mock, TimeoutMiddleware(10*time.Millisecond))

	start := time.Now()
	_, err := client.Generate(context.Background(), "q", domain.SamplingParams{Label: "l", MaxTokens: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTimeoutMiddleware_PassesThroughWhenFast(t *testing.T) {
	mock := NewMockGenerator()

	client := NewClientFromCore(mock, TimeoutMiddleware(time.Second))

	gen, err := client.Generate(context.Background(), "q", domain.SamplingParams{Label: "l", MaxTokens: 1})
	require.NoError(t, err)
	assert.Equal(t, "test response", gen.Text)
}

func TestTimeoutMiddleware_RespectsCallerDeadline(t *testing.T) {
	mock := NewMockGenerator()
	mock.ResponseDelay = time.Second

	client := NewClientFromCore(mock, TimeoutMiddleware(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "q", domain.SamplingParams{Label: "l", MaxTokens: 1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
