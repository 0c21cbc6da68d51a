// Package llm provides the text-generation backends used to synthesize
// strategy candidates.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client is the generation capability consumed by the synthesizer.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider names a backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
	ProviderReference Provider = "reference"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Config selects and tunes a backend.
type Config struct {
	Provider          Provider
	APIKey            string
	Model             string
	BaseURL           string
	Timeout           time.Duration
	Temperature       float32
	MaxTokens         int
	RequestsPerMinute int
}

// NewClient creates a client for cfg.Provider, wrapped in a rate limiter
// when RequestsPerMinute is positive.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider requires an API key or a base URL")
		}
		client = NewOpenAIClient(cfg)
	case ProviderGemini:
		client, err = NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	case ProviderReference, "":
		client = NewReferenceClient()
	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: openai, gemini, reference)", cfg.Provider)
	}
	if cfg.RequestsPerMinute > 0 {
		client = NewRateLimitedClient(client, cfg.RequestsPerMinute)
	}
	return client, nil
}

// withTimeout applies d when ctx has no deadline of its own.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
