package config

import (
	"fmt"
	"time"

	"backforge/internal/llm"
)

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // openai, gemini, reference
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"` // OpenAI-compatible endpoint, e.g. a local vLLM
	Timeout           string  `yaml:"timeout"`
	Temperature       float32 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
}

// ValidProviders lists all supported generation backends.
var ValidProviders = []string{"openai", "gemini", "reference"}

// Validate checks the provider and, for remote providers, the API key.
// A custom base URL lets the openai provider run keyless against a
// self-hosted endpoint.
func (c LLMConfig) Validate() error {
	if !contains(ValidProviders, c.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.Provider, ValidProviders)
	}
	if c.Provider == "reference" || c.APIKey != "" {
		return nil
	}
	if c.Provider == "openai" && c.BaseURL != "" {
		return nil
	}
	return fmt.Errorf("LLM API key not configured for provider %s (set OPENAI_API_KEY or GEMINI_API_KEY)", c.Provider)
}

// GetTimeout returns the request timeout as a duration.
func (c LLMConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 120*time.Second)
}

// ClientConfig converts the section into an llm.Config.
func (c LLMConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider:          llm.Provider(c.Provider),
		APIKey:            c.APIKey,
		Model:             c.Model,
		BaseURL:           c.BaseURL,
		Timeout:           c.GetTimeout(),
		Temperature:       c.Temperature,
		MaxTokens:         c.MaxTokens,
		RequestsPerMinute: c.RequestsPerMinute,
	}
}
