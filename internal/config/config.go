// Package config loads and validates the run configuration. Configuration
// is an explicit value handed to the orchestrator's constructor; core logic
// never reads the environment or globals.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete run configuration.
type Config struct {
	// TargetDir is the sandbox root containing the code to repair.
	TargetDir string `yaml:"target_dir"`

	// MaxIterations bounds the per-file repair loop.
	MaxIterations int `yaml:"max_iterations"`

	// Selection thresholds: a file is repaired when its score is below
	// ScoreThreshold or its issue count exceeds IssueThreshold.
	ScoreThreshold float64 `yaml:"score_threshold"`
	IssueThreshold int     `yaml:"issue_threshold"`

	// External tool settings.
	PylintExecutable   string `yaml:"pylint_executable"`
	PytestExecutable   string `yaml:"pytest_executable"`
	LintTimeoutSeconds int    `yaml:"lint_timeout_seconds"`
	TestTimeoutSeconds int    `yaml:"test_timeout_seconds"`

	// Model settings. Role models fall back to Model when empty.
	Model             string `yaml:"model"`
	AuditorModel      string `yaml:"auditor_model"`
	FixerModel        string `yaml:"fixer_model"`
	JudgeModel        string `yaml:"judge_model"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`

	// AuditDB is the SQLite file for the audit trail. Retention bounds the
	// trail's size across runs; zero disables a rule.
	AuditDB            string `yaml:"audit_db"`
	AuditRetentionDays int    `yaml:"audit_retention_days"`
	AuditMaxEvents     int    `yaml:"audit_max_events"`

	// IgnoreFile optionally holds gitignore-style patterns excluded from
	// discovery.
	IgnoreFile string `yaml:"ignore_file"`

	// APIKey comes from the environment only, never from the config file.
	APIKey string `yaml:"-"`
}

// Default returns the baseline configuration before file and environment
// overrides.
func Default() Config {
	return Config{
		MaxIterations:      10,
		ScoreThreshold:     8.0,
		IssueThreshold:     5,
		PylintExecutable:   "pylint",
		PytestExecutable:   "pytest",
		LintTimeoutSeconds: 30,
		TestTimeoutSeconds: 60,
		AuditDB:            "logs/audit.db",
		AuditRetentionDays: 30,
		AuditMaxEvents:     100000,
	}
}

// Load builds a Config from defaults, an optional YAML file, and environment
// overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	if model := os.Getenv("FIXSMITH_MODEL"); model != "" {
		c.Model = model
	}
}

// Validate checks the startup-fatal conditions: a usable target directory
// and a credential. Everything else has a default.
func (c *Config) Validate() error {
	if c.TargetDir == "" {
		return fmt.Errorf("target directory is required")
	}
	fi, err := os.Stat(c.TargetDir)
	if err != nil {
		return fmt.Errorf("target directory %s does not exist: %w", c.TargetDir, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("target %s is not a directory", c.TargetDir)
	}
	if c.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	return nil
}

// LintTimeout returns the linter timeout as a duration.
func (c *Config) LintTimeout() time.Duration {
	return time.Duration(c.LintTimeoutSeconds) * time.Second
}

// TestTimeout returns the test-runner timeout as a duration.
func (c *Config) TestTimeout() time.Duration {
	return time.Duration(c.TestTimeoutSeconds) * time.Second
}
