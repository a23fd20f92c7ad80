// Package llm implements the generation collaborator: a provider-agnostic
// client for producing candidate answers from OpenAI, Anthropic, or Google
// Gemini models. Providers sit behind the CoreGenerator interface and a
// middleware chain layers cross-cutting concerns (timeouts, retries, rate
// limiting, metrics, tracing) without touching provider logic.
//
// Basic usage:
//
//	gen, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o-mini",
//	    Middleware: []llm.Middleware{
//	        llm.TimeoutMiddleware(30 * time.Second),
//	        llm.RetryMiddleware(3, 500*time.Millisecond, 10*time.Second),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// CoreGenerator is the minimal contract a provider must implement. The
// middleware chain wraps any conforming implementation.
type CoreGenerator interface {
	// Generate sends the prompt under the given sampling parameters and
	// returns the completion text plus prompt/completion token counts.
	Generate(ctx context.Context, prompt string, params domain.SamplingParams) (string, int, int, error)

	// GetModel returns the currently configured model name.
	GetModel() string

	// SetModel switches the model for subsequent requests.
	SetModel(model string)
}

// Middleware wraps a CoreGenerator to add cross-cutting behavior. Middleware
// composes; the first entry in ClientConfig.Middleware is outermost.
type Middleware func(CoreGenerator) CoreGenerator

// ClientConfig holds everything needed to construct a provider client.
type ClientConfig struct {
	// APIKey authenticates with the provider.
	APIKey string

	// Model names the model to request. Empty selects the provider default.
	Model string

	// BaseURL overrides the provider endpoint, e.g. for proxies. Empty uses
	// the provider default.
	BaseURL string

	// Timeout bounds the underlying HTTP client where the provider SDK
	// supports it. The per-call timeout is enforced by TimeoutMiddleware.
	Timeout time.Duration

	// Middleware is applied outermost-first around the provider.
	Middleware []Middleware
}

// Client adapts a middleware-wrapped CoreGenerator to ports.Generator.
type Client struct {
	core CoreGenerator
}

var _ ports.Generator = (*Client)(nil)

// NewClient builds a generator client for the named provider type
// ("openai", "anthropic", or "google") with the middleware chain applied.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", providerType, err)
	}

	// Reverse order so the first configured middleware is outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	return &Client{core: core}, nil
}

// NewClientFromCore wraps an existing CoreGenerator, bypassing the provider
// registry. Used by tests and custom providers.
func NewClientFromCore(core CoreGenerator, middleware ...Middleware) *Client {
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}
	return &Client{core: core}
}

// Generate implements ports.Generator.
func (c *Client) Generate(ctx context.Context, prompt string, params domain.SamplingParams) (ports.Generation, error) {
	text, tokensIn, tokensOut, err := c.core.Generate(ctx, prompt, params)
	if err != nil {
		return ports.Generation{}, err
	}
	return ports.Generation{Text: text, TokensIn: tokensIn, TokensOut: tokensOut}, nil
}

// Model returns the underlying provider's configured model name.
func (c *Client) Model() string { return c.core.GetModel() }

// ProviderFactory creates a CoreGenerator from configuration.
type ProviderFactory func(ClientConfig) (CoreGenerator, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider under a type name so custom
// providers can be added without modifying this package.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}
