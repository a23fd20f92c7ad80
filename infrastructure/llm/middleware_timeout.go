package llm

import (
	"context"
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
)

// timeoutGenerator enforces a per-call deadline so a hung provider can
// never hold a dispatch open. This timeout is independent of the batch
// completeness deadline.
type timeoutGenerator struct {
	next    CoreGenerator
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that bounds each generation call.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreGenerator) CoreGenerator {
		return &timeoutGenerator{next: next, timeout: timeout}
	}
}

// Generate runs the request under a deadline-bounded context.
func (t *timeoutGenerator) Generate(ctx context.Context, prompt string, params domain.SamplingParams) (string, int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, prompt, params)
}

// GetModel returns the model name from the wrapped implementation.
func (t *timeoutGenerator) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *timeoutGenerator) SetModel(m string) { t.next.SetModel(m) }
