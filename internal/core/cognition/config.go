package cognition

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tuning constants of one agent. Every agent gets its own
// copy so independently tuned agents can share a process.
type Config struct {
	// ForgetThreshold is the forgetting score an edge must exceed to survive pruning.
	ForgetThreshold float64 `json:"forget_threshold" yaml:"forget_threshold"`
	// DecayWindow is the time constant of the exponential forgetting curve.
	DecayWindow time.Duration `json:"decay_window" yaml:"decay_window"`
	// ConfidenceThreshold is the confidence at or above which the chosen action is executed.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// MinExperience is the total usage below which low confidence still explores.
	MinExperience int `json:"min_experience" yaml:"min_experience"`
	// FallbackActions are proposed when a context has no open actions.
	FallbackActions []string `json:"fallback_actions" yaml:"fallback_actions"`

	SimulateTimeout time.Duration `json:"simulate_timeout" yaml:"simulate_timeout"`
	ExecuteTimeout  time.Duration `json:"execute_timeout" yaml:"execute_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ForgetThreshold:     0.05,
		DecayWindow:         time.Hour,
		ConfidenceThreshold: 0.65,
		MinExperience:       3,
		FallbackActions:     []string{ActionObserve, ActionAskClarification},
		SimulateTimeout:     2 * time.Second,
		ExecuteTimeout:      5 * time.Second,
	}
}

// Validate rejects values that would make scoring or decay meaningless.
// An empty FallbackActions list is accepted here and surfaces as
// ErrNoCandidateActions on the first cycle that needs it.
func (c Config) Validate() error {
	if c.ForgetThreshold < 0 {
		return fmt.Errorf("%w: forget_threshold must be >= 0, got %v", ErrInvalidConfig, c.ForgetThreshold)
	}
	if c.DecayWindow <= 0 {
		return fmt.Errorf("%w: decay_window must be positive, got %v", ErrInvalidConfig, c.DecayWindow)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold must be within [0,1], got %v", ErrInvalidConfig, c.ConfidenceThreshold)
	}
	if c.MinExperience < 0 {
		return fmt.Errorf("%w: min_experience must be >= 0, got %d", ErrInvalidConfig, c.MinExperience)
	}
	if c.SimulateTimeout < 0 || c.ExecuteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	for i, a := range c.FallbackActions {
		if a == "" {
			return fmt.Errorf("%w: fallback action %d is empty", ErrInvalidConfig, i)
		}
	}
	return nil
}

// Merge returns c with every non-zero field of override applied on top.
func (c Config) Merge(override Config) Config {
	if override.ForgetThreshold != 0 {
		c.ForgetThreshold = override.ForgetThreshold
	}
	if override.DecayWindow != 0 {
		c.DecayWindow = override.DecayWindow
	}
	if override.ConfidenceThreshold != 0 {
		c.ConfidenceThreshold = override.ConfidenceThreshold
	}
	if override.MinExperience != 0 {
		c.MinExperience = override.MinExperience
	}
	if override.FallbackActions != nil {
		c.FallbackActions = append([]string(nil), override.FallbackActions...)
	}
	if override.SimulateTimeout != 0 {
		c.SimulateTimeout = override.SimulateTimeout
	}
	if override.ExecuteTimeout != 0 {
		c.ExecuteTimeout = override.ExecuteTimeout
	}
	return c
}

// LoadConfigYAML reads a config document and layers it over DefaultConfig.
func LoadConfigYAML(r io.Reader) (Config, error) {
	var override Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&override); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("decode cognition config: %w", err)
	}
	cfg := DefaultConfig().Merge(override)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
