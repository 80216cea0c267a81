package config

import (
	"fmt"
	"net/url"

	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if err := c.Risk.validate(); err != nil {
		return rferrors.ConfigWrap(err, op, "invalid risk configuration")
	}
	if c.Planner.MaxFilesPerBatch < 1 {
		return rferrors.Config(op, "planner.max_files_per_batch must be at least 1")
	}
	if c.Planner.MaxLinesPerBatch < 1 {
		return rferrors.Config(op, "planner.max_lines_per_batch must be at least 1")
	}
	if c.Orchestrator.MaxConcurrentBatches < 1 {
		return rferrors.Config(op, "orchestrator.max_concurrent_batches must be at least 1")
	}
	if c.Orchestrator.ConsecutiveFailureLimit < 1 {
		return rferrors.Config(op, "orchestrator.consecutive_failure_limit must be at least 1")
	}
	if c.Orchestrator.TestTimeout <= 0 {
		return rferrors.Config(op, "orchestrator.test_timeout must be positive")
	}
	if c.Approval.Deadline <= 0 {
		return rferrors.Config(op, "approval.deadline must be positive")
	}
	for i := range c.Webhooks {
		if err := c.Webhooks[i].validate(); err != nil {
			return rferrors.ConfigWrap(err, op, fmt.Sprintf("invalid webhook %d", i))
		}
	}
	if c.FeatureFlags.Enabled {
		if c.FeatureFlags.BaseURL == "" {
			return rferrors.Config(op, "feature_flags.base_url is required when feature flags are enabled")
		}
		if c.FeatureFlags.InitialPercent < 0 || c.FeatureFlags.InitialPercent > 100 {
			return rferrors.Config(op, "feature_flags.initial_percent must be between 0 and 100")
		}
	}
	switch c.Output.Format {
	case "text", "json":
	default:
		return rferrors.Config(op, "output.format must be \"text\" or \"json\"")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if len(r.KindWeights) == 0 {
		return fmt.Errorf("kind_weights must not be empty")
	}
	for kind, weight := range r.KindWeights {
		if weight < 0 || weight > 100 {
			return fmt.Errorf("kind weight for %q must be between 0 and 100", kind)
		}
	}
	if r.LowCoverage < 0 || r.LowCoverage > 1 {
		return fmt.Errorf("low_coverage must be between 0 and 1")
	}
	if r.HighCoverage < 0 || r.HighCoverage > 1 {
		return fmt.Errorf("high_coverage must be between 0 and 1")
	}
	if r.LowCoverage >= r.HighCoverage {
		return fmt.Errorf("low_coverage must be below high_coverage")
	}
	if !(r.MediumCutoff < r.HighCutoff && r.HighCutoff < r.CriticalCutoff) {
		return fmt.Errorf("cutoffs must be strictly increasing: medium < high < critical")
	}
	return nil
}

func (w *WebhookConfig) validate() error {
	if w.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if w.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}
	return nil
}
