package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"backforge/internal/runner"
	"backforge/internal/verification"
)

// Config holds all backforge configuration.
type Config struct {
	// Generation backend
	LLM LLMConfig `yaml:"llm"`

	// Attempt budget and output locations
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Price data sources
	Data DataConfig `yaml:"data"`

	// Candidate execution
	Executor ExecutorConfig `yaml:"executor"`

	// Result checks
	Verifier VerifierConfig `yaml:"verifier"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PipelineConfig configures the orchestrator and where it writes.
type PipelineConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	WorkDir     string `yaml:"work_dir"`   // candidate sources, one subdirectory per run
	ReportDir   string `yaml:"report_dir"` // summary_*.md and failure_*.md
	HistoryDB   string `yaml:"history_db"` // run history for eval/compare
}

// DataConfig configures the price loader.
type DataConfig struct {
	Dir             string `yaml:"dir"`
	CachePath       string `yaml:"cache_path"`
	AlphaVantageKey string `yaml:"alpha_vantage_key"`
	PreferSource    string `yaml:"prefer_source"` // disk, remote
	Timeout         string `yaml:"timeout"`
}

// ExecutorConfig bounds a single candidate run.
type ExecutorConfig struct {
	Timeout string `yaml:"timeout"`
}

// VerifierConfig holds the result-check thresholds plus named CEL
// expressions evaluated against the outcome metrics.
type VerifierConfig struct {
	verification.Thresholds `yaml:",inline"`
	ExtraChecks             map[string]string `yaml:"extra_checks,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "reference",
			Model:             "gpt-4o-mini",
			Timeout:           "120s",
			Temperature:       0.2,
			MaxTokens:         4096,
			RequestsPerMinute: 30,
		},

		Pipeline: PipelineConfig{
			MaxAttempts: 5,
			WorkDir:     "generated",
			ReportDir:   "reports",
			HistoryDB:   "data/runs.db",
		},

		Data: DataConfig{
			Dir:          "data/prices",
			CachePath:    "data/prices.db",
			PreferSource: "disk",
			Timeout:      "60s",
		},

		Executor: ExecutorConfig{
			Timeout: "60s",
		},

		Verifier: VerifierConfig{
			Thresholds: verification.DefaultThresholds(),
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file over the defaults. A missing
// file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	// An API key in the environment also selects its provider.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if url := os.Getenv("BACKFORGE_INFERENCE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("BACKFORGE_MODEL"); model != "" {
		c.LLM.Model = model
	}

	if key := os.Getenv("ALPHAVANTAGE_API_KEY"); key != "" {
		c.Data.AlphaVantageKey = key
	}

	if v := os.Getenv("BACKFORGE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BACKFORGE_MAX_ATTEMPTS: %w", err)
		}
		c.Pipeline.MaxAttempts = n
	}
	return nil
}

// GetDataTimeout returns the remote price fetch timeout.
func (c *Config) GetDataTimeout() time.Duration {
	return parseDuration(c.Data.Timeout, 60*time.Second)
}

// GetExecutorTimeout returns the per-candidate execution timeout.
func (c *Config) GetExecutorTimeout() time.Duration {
	return parseDuration(c.Executor.Timeout, runner.DefaultTimeout)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ValidSources lists the accepted data.prefer_source values.
var ValidSources = []string{"disk", "remote"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Data.PreferSource != "" && !contains(ValidSources, c.Data.PreferSource) {
		return fmt.Errorf("invalid data.prefer_source: %s (valid: %v)", c.Data.PreferSource, ValidSources)
	}
	return nil
}

// VerifierThresholds returns the configured result-check thresholds.
func (c *Config) VerifierThresholds() verification.Thresholds {
	return c.Verifier.Thresholds
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
