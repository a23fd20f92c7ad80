// Package application implements the preference-pair pipeline: it
// dispatches parallel candidate generations for each question, aggregates
// asynchronous verification events into batch state, and applies the
// decision policy that turns complete batches into preference pairs.
package application

import (
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
)

// Config defines the complete runtime configuration for the pipeline
// and serves as the primary configuration entry point for the system.
type Config struct {
	// Provider configures the LLM backend used for candidate generation
	// and for the verification judge.
	Provider ProviderConfig `yaml:"provider" validate:"required"`
	// Sampling defines the per-candidate sampling plan. Each entry
	// produces one candidate per dispatched question, so the plan length
	// is the batch's expected candidate count.
	Sampling []domain.SamplingParams `yaml:"sampling" validate:"required,min=2,dive"`
	// Policy configures the threshold decision policy applied to
	// complete batches.
	Policy PolicyConfig `yaml:"policy" validate:"required"`
	// Batch configures batch lifecycle limits: expiry deadline, sweep
	// cadence, and store capacity.
	Batch BatchConfig `yaml:"batch" validate:"required"`
	// Output configures the append-only result streams.
	Output OutputConfig `yaml:"output" validate:"required"`
	// Bus configures the in-process event bus.
	Bus BusConfig `yaml:"bus"`
	// Server configures the HTTP ingress.
	Server ServerConfig `yaml:"server"`
}

// ProviderConfig identifies the LLM provider and model used by the
// generation and verification stages, plus client-level limits.
type ProviderConfig struct {
	// Type selects the provider implementation.
	Type string `yaml:"type" validate:"required,oneof=openai anthropic google"`
	// Model names the model to request. When empty, the provider's
	// default model is used.
	Model string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in configuration files.
	APIKeyEnv string `yaml:"api_key_env" validate:"required"`
	// BaseURL overrides the provider endpoint, typically for proxies
	// or compatible gateways.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// TimeoutSeconds bounds each generation call.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"omitempty,min=1,max=600"`
	// MaxRetries bounds retry attempts for transient provider failures.
	MaxRetries int `yaml:"max_retries" validate:"omitempty,min=0,max=10"`
	// RequestsPerSecond rate-limits outbound provider calls. Zero
	// disables rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"omitempty,min=0"`
}

// PolicyConfig holds the thresholds and scoring strategy of the
// decision policy.
type PolicyConfig struct {
	// MinScoreDiff is the minimum margin between the best and worst
	// candidate scores required to accept a pair. A margin strictly
	// below this threshold is rejected.
	MinScoreDiff float64 `yaml:"min_score_diff" validate:"min=0,max=1"`
	// MinChosenScore is the minimum score the best candidate must reach
	// for the pair to be accepted. A best score strictly below this
	// threshold is rejected.
	MinChosenScore float64 `yaml:"min_chosen_score" validate:"min=0,max=1"`
	// Combiner selects the strategy that folds per-candidate
	// verification sub-scores into a single comparable score.
	Combiner string `yaml:"combiner" validate:"omitempty,oneof=mean max weighted"`
	// FaithfulnessWeight is the faithfulness share used by the weighted
	// combiner. Ignored by other combiners.
	FaithfulnessWeight float64 `yaml:"faithfulness_weight" validate:"omitempty,min=0,max=1"`
	// QualityFilter configures the near-duplicate pair filter.
	QualityFilter QualityFilterConfig `yaml:"quality_filter"`
}

// QualityFilterConfig controls the lexical similarity filter that
// rejects pairs whose chosen and rejected texts are near-duplicates.
// Training on such pairs teaches nothing, so they are filtered out.
type QualityFilterConfig struct {
	// Enabled turns the filter on.
	Enabled bool `yaml:"enabled"`
	// MaxSimilarity is the normalized similarity above which a pair is
	// rejected as too similar.
	MaxSimilarity float64 `yaml:"max_similarity" validate:"omitempty,min=0,max=1"`
	// CaseSensitive compares texts without case folding when true.
	CaseSensitive bool `yaml:"case_sensitive"`
}

// BatchConfig bounds batch lifetime and store capacity.
type BatchConfig struct {
	// TimeoutMinutes is how long an incomplete batch may wait for its
	// remaining events before the sweep expires it.
	TimeoutMinutes int `yaml:"timeout_minutes" validate:"min=1,max=1440"`
	// SweepIntervalSeconds is the cadence of the expiry sweep.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" validate:"omitempty,min=1,max=3600"`
	// StoreCapacity caps the number of batches tracked concurrently.
	StoreCapacity int `yaml:"store_capacity" validate:"omitempty,min=1,max=1048576"`
}

// OutputConfig names the append-only JSONL streams.
type OutputConfig struct {
	// AuditPath receives every terminal batch outcome.
	AuditPath string `yaml:"audit_path" validate:"required"`
	// PairsPath receives accepted preference pairs only.
	PairsPath string `yaml:"pairs_path" validate:"required"`
	// MaxWriteRetries bounds retries for failed stream appends.
	MaxWriteRetries int `yaml:"max_write_retries" validate:"omitempty,min=0,max=10"`
}

// BusConfig tunes the in-process event bus.
type BusConfig struct {
	// BufferSize is the per-subscriber channel capacity. Publishers
	// block when a subscriber's buffer is full.
	BufferSize int `yaml:"buffer_size" validate:"omitempty,min=1,max=1048576"`
	// VerifierWorkers is the number of concurrent verification
	// consumers.
	VerifierWorkers int `yaml:"verifier_workers" validate:"omitempty,min=1,max=256"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
	// ShutdownSeconds bounds graceful shutdown.
	ShutdownSeconds int `yaml:"shutdown_seconds" validate:"omitempty,min=1,max=300"`
}

// Timeout returns the provider call timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// BatchTimeout returns the batch expiry deadline as a duration.
func (b BatchConfig) BatchTimeout() time.Duration {
	return time.Duration(b.TimeoutMinutes) * time.Minute
}

// SweepInterval returns the expiry sweep cadence as a duration.
func (b BatchConfig) SweepInterval() time.Duration {
	if b.SweepIntervalSeconds == 0 {
		return 30 * time.Second
	}
	return time.Duration(b.SweepIntervalSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound as a duration.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	if s.ShutdownSeconds == 0 {
		return 15 * time.Second
	}
	return time.Duration(s.ShutdownSeconds) * time.Second
}
