package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-crucible/internal/domain"
)

// rateLimitedGenerator paces generation calls with a token bucket so
// concurrent dispatches cannot trip provider rate limits.
type rateLimitedGenerator struct {
	next    CoreGenerator
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces a sustained
// requests-per-second limit with a burst allowance.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next CoreGenerator) CoreGenerator {
		return &rateLimitedGenerator{next: next, limiter: limiter}
	}
}

// Generate blocks until a token is available, then forwards the request.
func (r *rateLimitedGenerator) Generate(ctx context.Context, prompt string, params domain.SamplingParams) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", 0, 0, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Generate(ctx, prompt, params)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedGenerator) GetModel() string { return r.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (r *rateLimitedGenerator) SetModel(m string) { r.next.SetModel(m) }
