package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	rferrors "github.com/refactory-tech/refactory/internal/errors"
)

// ConfigFileNames are the base names searched for a config file.
var ConfigFileNames = []string{".refactory", "refactory"}

// ConfigFileExtensions are the supported config file extensions.
var ConfigFileExtensions = []string{"yaml", "yml", "json", "toml"}

// Pre-compiled regex patterns for environment variable expansion.
var (
	// envVarPattern matches ${VAR} or ${VAR:-default} syntax
	envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)
)

// Loader handles configuration loading and merging.
type Loader struct {
	v           *viper.Viper
	configPath  string
	searchPaths []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix("REFACTORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return &Loader{
		v:           v,
		searchPaths: []string{"."},
	}
}

// WithConfigPath sets an explicit config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithSearchPaths adds directories to search for config files.
func (l *Loader) WithSearchPaths(paths ...string) *Loader {
	l.searchPaths = append(l.searchPaths, paths...)
	return l
}

// Load loads the configuration.
func (l *Loader) Load() (*Config, error) {
	const op = "config.Load"

	l.setDefaults()

	if err := l.loadConfigFile(); err != nil {
		return nil, rferrors.ConfigWrap(err, op, "failed to load config file")
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, rferrors.ConfigWrap(err, op, "failed to unmarshal config")
	}

	l.expandEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults sets default values using Viper.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Risk defaults
	l.v.SetDefault("risk.kind_weights", defaults.Risk.KindWeights)
	l.v.SetDefault("risk.file_penalty", defaults.Risk.FilePenalty)
	l.v.SetDefault("risk.file_penalty_cap", defaults.Risk.FilePenaltyCap)
	l.v.SetDefault("risk.low_coverage", defaults.Risk.LowCoverage)
	l.v.SetDefault("risk.high_coverage", defaults.Risk.HighCoverage)
	l.v.SetDefault("risk.coverage_penalty", defaults.Risk.CoveragePenalty)
	l.v.SetDefault("risk.security_penalty", defaults.Risk.SecurityPenalty)
	l.v.SetDefault("risk.dynamic_language_penalty", defaults.Risk.DynamicLanguagePenalty)
	l.v.SetDefault("risk.medium_cutoff", defaults.Risk.MediumCutoff)
	l.v.SetDefault("risk.high_cutoff", defaults.Risk.HighCutoff)
	l.v.SetDefault("risk.critical_cutoff", defaults.Risk.CriticalCutoff)

	// Planner defaults
	l.v.SetDefault("planner.max_files_per_batch", defaults.Planner.MaxFilesPerBatch)
	l.v.SetDefault("planner.max_lines_per_batch", defaults.Planner.MaxLinesPerBatch)

	// Orchestrator defaults
	l.v.SetDefault("orchestrator.max_concurrent_batches", defaults.Orchestrator.MaxConcurrentBatches)
	l.v.SetDefault("orchestrator.consecutive_failure_limit", defaults.Orchestrator.ConsecutiveFailureLimit)
	l.v.SetDefault("orchestrator.test_timeout", defaults.Orchestrator.TestTimeout)

	// Approval defaults
	l.v.SetDefault("approval.deadline", defaults.Approval.Deadline)
	l.v.SetDefault("approval.expiry_approves", defaults.Approval.ExpiryApproves)
	l.v.SetDefault("approval.poll_interval", defaults.Approval.PollInterval)
	l.v.SetDefault("approval.audience", defaults.Approval.Audience)

	// Test runner defaults
	l.v.SetDefault("test_runner.command", defaults.TestRunner.Command)
	l.v.SetDefault("test_runner.full_suite_command", defaults.TestRunner.FullSuiteCommand)

	// Compat defaults
	l.v.SetDefault("compat.enabled", defaults.Compat.Enabled)
	l.v.SetDefault("compat.regenerate_on_partial_rollback", defaults.Compat.RegenerateOnPartialRollback)
	l.v.SetDefault("compat.shim_dir", defaults.Compat.ShimDir)

	// Feature flag defaults
	l.v.SetDefault("feature_flags.enabled", defaults.FeatureFlags.Enabled)
	l.v.SetDefault("feature_flags.initial_percent", defaults.FeatureFlags.InitialPercent)

	// Storage defaults
	l.v.SetDefault("storage.dir", defaults.Storage.Dir)

	// Output defaults
	l.v.SetDefault("output.format", defaults.Output.Format)
	l.v.SetDefault("output.color", defaults.Output.Color)
	l.v.SetDefault("output.verbose", defaults.Output.Verbose)
}

// loadConfigFile reads the config file if one exists. A missing file is not
// an error; defaults and environment variables still apply.
func (l *Loader) loadConfigFile() error {
	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		return l.v.ReadInConfig()
	}

	for _, searchPath := range l.searchPaths {
		for _, name := range ConfigFileNames {
			for _, ext := range ConfigFileExtensions {
				configFile := filepath.Join(searchPath, name+"."+ext)
				if _, err := os.Stat(configFile); err == nil {
					l.v.SetConfigFile(configFile)
					return l.v.ReadInConfig()
				}
			}
		}
	}
	return nil
}

// expandEnvVars expands ${VAR} and ${VAR:-default} references in sensitive
// string fields.
func (l *Loader) expandEnvVars(cfg *Config) {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = expandEnv(cfg.Webhooks[i].URL)
		cfg.Webhooks[i].Secret = expandEnv(cfg.Webhooks[i].Secret)
	}
	cfg.FeatureFlags.BaseURL = expandEnv(cfg.FeatureFlags.BaseURL)
	cfg.FeatureFlags.Token = expandEnv(cfg.FeatureFlags.Token)
}

// expandEnv replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}
