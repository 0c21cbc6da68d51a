package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backforge/internal/llm"
	"backforge/internal/runner"
	"backforge/internal/verification"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OPENAI_API_KEY", "GEMINI_API_KEY", "BACKFORGE_INFERENCE_URL",
		"BACKFORGE_MODEL", "ALPHAVANTAGE_API_KEY", "BACKFORGE_MAX_ATTEMPTS",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LLM.Provider != "reference" {
		t.Errorf("expected Provider=reference, got %s", cfg.LLM.Provider)
	}
	if cfg.Pipeline.MaxAttempts != 5 {
		t.Errorf("expected MaxAttempts=5, got %d", cfg.Pipeline.MaxAttempts)
	}
	assert.Equal(t, verification.DefaultThresholds(), cfg.VerifierThresholds())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "backforge.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "gemini"
	cfg.LLM.APIKey = "g-test"
	cfg.Pipeline.MaxAttempts = 3
	cfg.Verifier.SharpeBound = 4
	cfg.Verifier.ExtraChecks = map[string]string{"drawdown_cap": "max_dd > -0.3"}

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "backforge.yaml")
	body := "pipeline:\n  max_attempts: 2\nverifier:\n  turnover_ceiling: 3.5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "reports", cfg.Pipeline.ReportDir)
	assert.InDelta(t, 3.5, cfg.Verifier.TurnoverCeiling, 1e-12)
	assert.InDelta(t, 5.0, cfg.Verifier.SharpeBound, 1e-12)
}

func TestLoad_BadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "backforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: [unclosed"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("BACKFORGE_INFERENCE_URL", "http://localhost:8000/v1")
	t.Setenv("BACKFORGE_MODEL", "qwen-coder")
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-key")
	t.Setenv("BACKFORGE_MAX_ATTEMPTS", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "env-openai", cfg.LLM.APIKey)
	assert.Equal(t, "http://localhost:8000/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "qwen-coder", cfg.LLM.Model)
	assert.Equal(t, "av-key", cfg.Data.AlphaVantageKey)
	assert.Equal(t, 7, cfg.Pipeline.MaxAttempts)

	t.Setenv("GEMINI_API_KEY", "env-gemini")
	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider, "gemini key wins when both are set")

	t.Setenv("BACKFORGE_MAX_ATTEMPTS", "many")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "BACKFORGE_MAX_ATTEMPTS")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "anthropic" }, "invalid LLM provider"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }, "API key not configured"},
		{"openai self-hosted", func(c *Config) {
			c.LLM.Provider = "openai"
			c.LLM.BaseURL = "http://localhost:8000/v1"
		}, ""},
		{"gemini without key", func(c *Config) { c.LLM.Provider = "gemini" }, "API key not configured"},
		{"gemini with key", func(c *Config) {
			c.LLM.Provider = "gemini"
			c.LLM.APIKey = "k"
		}, ""},
		{"zero attempts", func(c *Config) { c.Pipeline.MaxAttempts = 0 }, "max_attempts"},
		{"bad source", func(c *Config) { c.Data.PreferSource = "ftp" }, "prefer_source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60*time.Second, cfg.GetExecutorTimeout())
	assert.Equal(t, 60*time.Second, cfg.GetDataTimeout())

	cfg.Executor.Timeout = "invalid"
	assert.Equal(t, runner.DefaultTimeout, cfg.GetExecutorTimeout())
	cfg.Executor.Timeout = "5s"
	assert.Equal(t, 5*time.Second, cfg.GetExecutorTimeout())

	cc := cfg.LLM.ClientConfig()
	assert.Equal(t, llm.ProviderReference, cc.Provider)
	assert.Equal(t, 120*time.Second, cc.Timeout)
	assert.Equal(t, 4096, cc.MaxTokens)

	cfg.Logging.Categories = map[string]bool{"runner": false}
	assert.False(t, cfg.Logging.IsCategoryEnabled("runner"))
	assert.True(t, cfg.Logging.IsCategoryEnabled("coder"))
	opts := cfg.Logging.Options()
	assert.Equal(t, "info", opts.Level)
	assert.Equal(t, cfg.Logging.Categories, opts.Categories)
}
