// Package config provides configuration management for Refactory.
package config

import (
	"time"
)

// Config is the root configuration for Refactory.
type Config struct {
	// Risk configures the risk assessor's weight table and cutoffs.
	Risk RiskConfig `mapstructure:"risk" json:"risk" yaml:"risk"`
	// Planner configures batch folding and wave grouping.
	Planner PlannerConfig `mapstructure:"planner" json:"planner" yaml:"planner"`
	// Orchestrator configures batch execution.
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" json:"orchestrator" yaml:"orchestrator"`
	// Approval configures the human approval gate.
	Approval ApprovalConfig `mapstructure:"approval" json:"approval" yaml:"approval"`
	// TestRunner configures the external test-runner collaborator.
	TestRunner TestRunnerConfig `mapstructure:"test_runner" json:"test_runner" yaml:"test_runner"`
	// Compat configures compatibility shim generation.
	Compat CompatConfig `mapstructure:"compat" json:"compat" yaml:"compat"`
	// Webhooks configures webhook notifications for engine events.
	Webhooks []WebhookConfig `mapstructure:"webhooks" json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
	// FeatureFlags configures the optional feature-flag rollout collaborator.
	FeatureFlags FeatureFlagConfig `mapstructure:"feature_flags" json:"feature_flags" yaml:"feature_flags"`
	// Storage configures where plans, checkpoints and approvals persist.
	Storage StorageConfig `mapstructure:"storage" json:"storage" yaml:"storage"`
	// Output configures CLI output settings.
	Output OutputConfig `mapstructure:"output" json:"output" yaml:"output"`
}

// RiskConfig exposes the risk-weight table and level cutoffs as explicit
// configuration so operators can tune sensitivity without code changes.
type RiskConfig struct {
	// KindWeights maps a transformation kind to its base score (0-100 scale).
	KindWeights map[string]float64 `mapstructure:"kind_weights" json:"kind_weights" yaml:"kind_weights"`
	// FilePenalty is the score added per affected file beyond the first.
	FilePenalty float64 `mapstructure:"file_penalty" json:"file_penalty" yaml:"file_penalty"`
	// FilePenaltyCap bounds the total files-affected penalty.
	FilePenaltyCap float64 `mapstructure:"file_penalty_cap" json:"file_penalty_cap" yaml:"file_penalty_cap"`
	// LowCoverage is the coverage fraction below which the full coverage
	// penalty applies.
	LowCoverage float64 `mapstructure:"low_coverage" json:"low_coverage" yaml:"low_coverage"`
	// HighCoverage is the coverage fraction above which no penalty applies.
	HighCoverage float64 `mapstructure:"high_coverage" json:"high_coverage" yaml:"high_coverage"`
	// CoveragePenalty is the full penalty for coverage below LowCoverage.
	CoveragePenalty float64 `mapstructure:"coverage_penalty" json:"coverage_penalty" yaml:"coverage_penalty"`
	// SecurityPenalty applies when security-sensitive patterns match.
	SecurityPenalty float64 `mapstructure:"security_penalty" json:"security_penalty" yaml:"security_penalty"`
	// DynamicLanguagePenalty applies when the language lacks static typing.
	DynamicLanguagePenalty float64 `mapstructure:"dynamic_language_penalty" json:"dynamic_language_penalty" yaml:"dynamic_language_penalty"`
	// MediumCutoff, HighCutoff, CriticalCutoff map the summed score to a
	// level: below medium is LOW, at or above critical is CRITICAL.
	MediumCutoff   float64 `mapstructure:"medium_cutoff" json:"medium_cutoff" yaml:"medium_cutoff"`
	HighCutoff     float64 `mapstructure:"high_cutoff" json:"high_cutoff" yaml:"high_cutoff"`
	CriticalCutoff float64 `mapstructure:"critical_cutoff" json:"critical_cutoff" yaml:"critical_cutoff"`
}

// PlannerConfig configures batch folding and wave grouping.
type PlannerConfig struct {
	// MaxFilesPerBatch is the hard cap on files in one batch.
	MaxFilesPerBatch int `mapstructure:"max_files_per_batch" json:"max_files_per_batch" yaml:"max_files_per_batch"`
	// MaxLinesPerBatch is the hard cap on estimated lines changed per batch.
	MaxLinesPerBatch int `mapstructure:"max_lines_per_batch" json:"max_lines_per_batch" yaml:"max_lines_per_batch"`
}

// OrchestratorConfig configures batch execution.
type OrchestratorConfig struct {
	// MaxConcurrentBatches bounds in-wave concurrency for batches with
	// plan-verified disjoint file sets. 1 (the default) means strictly
	// sequential, which is the safest configuration.
	MaxConcurrentBatches int `mapstructure:"max_concurrent_batches" json:"max_concurrent_batches" yaml:"max_concurrent_batches"`
	// ConsecutiveFailureLimit pauses a wave after this many consecutive
	// batch failures; remaining batches become blocked, not failed.
	ConsecutiveFailureLimit int `mapstructure:"consecutive_failure_limit" json:"consecutive_failure_limit" yaml:"consecutive_failure_limit"`
	// TestTimeout bounds a single test-runner invocation. A timeout is
	// treated identically to a test failure.
	TestTimeout time.Duration `mapstructure:"test_timeout" json:"test_timeout" yaml:"test_timeout"`
}

// ApprovalConfig configures the human approval gate.
type ApprovalConfig struct {
	// Deadline is how long an approval request stays open before expiring.
	Deadline time.Duration `mapstructure:"deadline" json:"deadline" yaml:"deadline"`
	// ExpiryApproves treats an expired request as approval. Never the
	// default: silent risk acceptance must be an explicit operator choice.
	ExpiryApproves bool `mapstructure:"expiry_approves" json:"expiry_approves" yaml:"expiry_approves"`
	// PollInterval is how often the gate re-checks a pending request when
	// no push notification arrives.
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
	// Audience is the notification audience for approval requests.
	Audience string `mapstructure:"audience" json:"audience" yaml:"audience"`
}

// TestRunnerConfig configures the external test-runner collaborator.
type TestRunnerConfig struct {
	// Command is the test command template. The affected paths are appended
	// as arguments unless FullSuite is requested.
	Command string `mapstructure:"command" json:"command" yaml:"command"`
	// FullSuiteCommand runs the entire suite for extended testing.
	FullSuiteCommand string `mapstructure:"full_suite_command" json:"full_suite_command" yaml:"full_suite_command"`
	// WorkDir is the directory the command runs in (default: codebase root).
	WorkDir string `mapstructure:"work_dir" json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// CompatConfig configures compatibility shim generation.
type CompatConfig struct {
	// Enabled turns shim generation on after a wave commits.
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// RegenerateOnPartialRollback controls whether partial rollback of a
	// committed batch regenerates shims for code that already depends on
	// the new symbols. Deliberately explicit: neither behavior is assumed.
	RegenerateOnPartialRollback bool `mapstructure:"regenerate_on_partial_rollback" json:"regenerate_on_partial_rollback" yaml:"regenerate_on_partial_rollback"`
	// ShimDir is the directory the shim manifest is kept in, relative to
	// the codebase root. Shim source files live beside the files they
	// forward for, so same-package references keep compiling.
	ShimDir string `mapstructure:"shim_dir" json:"shim_dir" yaml:"shim_dir"`
}

// WebhookConfig configures a webhook notification endpoint.
type WebhookConfig struct {
	// URL is the webhook endpoint.
	URL string `mapstructure:"url" json:"url" yaml:"url"`
	// Secret signs payloads with HMAC-SHA256 when set.
	Secret string `mapstructure:"secret" json:"secret,omitempty" yaml:"secret,omitempty"`
	// Events filters which event names are delivered; empty means all.
	Events []string `mapstructure:"events" json:"events,omitempty" yaml:"events,omitempty"`
	// Enabled toggles the endpoint.
	Enabled *bool `mapstructure:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// RetryCount is the number of delivery attempts.
	RetryCount int `mapstructure:"retry_count" json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	// RetryDelay is the initial delay between attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
}

// IsWebhookEnabled returns whether the endpoint is active (default true).
func (c *WebhookConfig) IsWebhookEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// FeatureFlagConfig configures the optional rollout collaborator.
type FeatureFlagConfig struct {
	// Enabled turns post-wave rollout calls on.
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// BaseURL is the feature-flag service endpoint.
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Token authenticates rollout calls.
	Token string `mapstructure:"token" json:"token,omitempty" yaml:"token,omitempty"`
	// InitialPercent is the rollout percentage set after a wave commits.
	InitialPercent int `mapstructure:"initial_percent" json:"initial_percent" yaml:"initial_percent"`
}

// StorageConfig configures engine state persistence.
type StorageConfig struct {
	// Dir is the root directory for plans, checkpoints and approvals
	// (default: .refactory under the codebase root).
	Dir string `mapstructure:"dir" json:"dir" yaml:"dir"`
}

// OutputConfig configures CLI output settings.
type OutputConfig struct {
	// Format is "text" or "json".
	Format string `mapstructure:"format" json:"format" yaml:"format"`
	// Color enables styled terminal output.
	Color bool `mapstructure:"color" json:"color" yaml:"color"`
	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose" json:"verbose" yaml:"verbose"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Risk: RiskConfig{
			KindWeights: map[string]float64{
				"formatting":           2,
				"documentation":        2,
				"import_cleanup":       5,
				"rename":               12,
				"dead_code_removal":    18,
				"function_extraction":  30,
				"complexity_reduction": 35,
				"api_migration":        40,
			},
			FilePenalty:            1.5,
			FilePenaltyCap:         15,
			LowCoverage:            0.3,
			HighCoverage:           0.7,
			CoveragePenalty:        25,
			SecurityPenalty:        30,
			DynamicLanguagePenalty: 10,
			MediumCutoff:           25,
			HighCutoff:             50,
			CriticalCutoff:         75,
		},
		Planner: PlannerConfig{
			MaxFilesPerBatch: 10,
			MaxLinesPerBatch: 500,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentBatches:    1,
			ConsecutiveFailureLimit: 3,
			TestTimeout:             10 * time.Minute,
		},
		Approval: ApprovalConfig{
			Deadline:       24 * time.Hour,
			ExpiryApproves: false,
			PollInterval:   15 * time.Second,
			Audience:       "approvers",
		},
		TestRunner: TestRunnerConfig{
			Command:          "go test",
			FullSuiteCommand: "go test ./...",
		},
		Compat: CompatConfig{
			Enabled:                     false,
			RegenerateOnPartialRollback: false,
			ShimDir:                     "compat",
		},
		FeatureFlags: FeatureFlagConfig{
			Enabled:        false,
			InitialPercent: 5,
		},
		Storage: StorageConfig{
			Dir: ".refactory",
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
	}
}
