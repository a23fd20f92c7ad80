package application

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-crucible/internal/domain"
)

// Defaults applied to fields the configuration file omits. The sampling
// defaults span a deterministic, a mildly varied, and a diverse
// generation so batches contain genuine alternatives.
var defaultSamplingPlan = []struct {
	label       string
	temperature float64
}{
	{"deterministic", 0.0},
	{"moderate", 0.3},
	{"diverse", 0.7},
}

const (
	defaultMaxTokens       = 1024
	defaultMinScoreDiff    = 0.3
	defaultMinChosenScore  = 0.7
	defaultTimeoutMinutes  = 5
	defaultStoreCapacity   = 4096
	defaultBusBuffer       = 1024
	defaultVerifierWorkers = 4
	defaultMaxSimilarity   = 0.9
	defaultServerAddr      = ":8080"
)

// ErrAPIKeyNotSet reports that the environment variable named by
// api_key_env is unset or empty.
var ErrAPIKeyNotSet = errors.New("provider API key environment variable not set")

// ConfigLoader parses, defaults, and validates pipeline configuration
// files.
type ConfigLoader struct{ validator *validator.Validate }

// NewConfigLoader creates a loader with struct validation plus the
// pipeline's semantic validation rules registered.
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{validator: validator.New()}
}

// LoadFromFile reads, defaults, and validates a YAML configuration file.
func (cl *ConfigLoader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return cl.Load(data)
}

// Load parses and validates raw YAML configuration bytes.
func (cl *ConfigLoader) Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cl.applyDefaults(&cfg)

	if err := cl.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if err := validateSemantics(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills omitted fields before validation so a minimal
// configuration file still yields a runnable pipeline.
func (cl *ConfigLoader) applyDefaults(cfg *Config) {
	if len(cfg.Sampling) == 0 {
		for _, p := range defaultSamplingPlan {
			cfg.Sampling = append(cfg.Sampling, domain.SamplingParams{
				Label:       p.label,
				Temperature: p.temperature,
				MaxTokens:   defaultMaxTokens,
			})
		}
	}
	if cfg.Policy.MinScoreDiff == 0 {
		cfg.Policy.MinScoreDiff = defaultMinScoreDiff
	}
	if cfg.Policy.MinChosenScore == 0 {
		cfg.Policy.MinChosenScore = defaultMinChosenScore
	}
	if cfg.Policy.Combiner == "" {
		cfg.Policy.Combiner = "mean"
	}
	if cfg.Policy.QualityFilter.Enabled && cfg.Policy.QualityFilter.MaxSimilarity == 0 {
		cfg.Policy.QualityFilter.MaxSimilarity = defaultMaxSimilarity
	}
	if cfg.Batch.TimeoutMinutes == 0 {
		cfg.Batch.TimeoutMinutes = defaultTimeoutMinutes
	}
	if cfg.Batch.StoreCapacity == 0 {
		cfg.Batch.StoreCapacity = defaultStoreCapacity
	}
	if cfg.Bus.BufferSize == 0 {
		cfg.Bus.BufferSize = defaultBusBuffer
	}
	if cfg.Bus.VerifierWorkers == 0 {
		cfg.Bus.VerifierWorkers = defaultVerifierWorkers
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
}

// validateSemantics enforces rules that span fields and therefore cannot
// be expressed as struct tags.
func validateSemantics(cfg *Config) error {
	seen := make(map[string]struct{}, len(cfg.Sampling))
	for i, s := range cfg.Sampling {
		if s.Label == "" {
			return fmt.Errorf("sampling[%d]: label is required", i)
		}
		if _, dup := seen[s.Label]; dup {
			return fmt.Errorf("sampling[%d]: duplicate label %q", i, s.Label)
		}
		seen[s.Label] = struct{}{}
	}

	if cfg.Output.AuditPath == cfg.Output.PairsPath {
		return fmt.Errorf("output streams must use distinct paths")
	}

	return nil
}

// ResolveAPIKey reads the provider API key from the environment variable
// named in the configuration.
func (p ProviderConfig) ResolveAPIKey() (string, error) {
	key := os.Getenv(p.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrAPIKeyNotSet, p.APIKeyEnv)
	}
	return key, nil
}
