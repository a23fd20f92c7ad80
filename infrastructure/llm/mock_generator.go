package llm

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
)

// MockGenerator is a configurable CoreGenerator for tests: it controls
// response content, timing, and failure patterns so middleware and engine
// behavior can be exercised without a provider.
type MockGenerator struct {
	mu sync.Mutex

	// Response configuration.
	Response      string
	TokensIn      int
	TokensOut     int
	Err           error
	Model         string
	ResponseDelay time.Duration

	// FailUntilAttempt makes the first N calls fail, then succeed.
	FailUntilAttempt int

	// GenerateFunc, when set, overrides all other behavior.
	GenerateFunc func(ctx context.Context, prompt string, params domain.SamplingParams) (string, int, int, error)

	// Call tracking.
	CallCount  int
	LastPrompt string
	LastParams domain.SamplingParams
}

var _ CoreGenerator = (*MockGenerator)(nil)

// NewMockGenerator returns a mock with default successful behavior.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		Response:  "test response",
		TokensIn:  10,
		TokensOut: 20,
		Model:     "test-model",
	}
}

// Generate implements CoreGenerator with the configured behavior.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, params domain.SamplingParams) (string, int, int, error) {
	m.mu.Lock()
	m.CallCount++
	call := m.CallCount
	m.LastPrompt = prompt
	m.LastParams = params
	fn := m.GenerateFunc
	delay := m.ResponseDelay
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, params)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", 0, 0, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUntilAttempt > 0 && call <= m.FailUntilAttempt {
		return "", 0, 0, NewProviderError("mock", ErrorTypeServerError, 500, "transient failure", nil)
	}
	if m.Err != nil {
		return "", 0, 0, m.Err
	}
	return m.Response, m.TokensIn, m.TokensOut, nil
}

// Calls returns the number of Generate invocations so far.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// GetModel returns the configured mock model name.
func (m *MockGenerator) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// SetModel updates the mock model name.
func (m *MockGenerator) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Model = model
}
