package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedClient paces calls to an underlying client.
type RateLimitedClient struct {
	underlying Client
	limiter    *rate.Limiter
}

// NewRateLimitedClient allows perMinute calls per minute with a burst of one.
func NewRateLimitedClient(underlying Client, perMinute int) *RateLimitedClient {
	return &RateLimitedClient{
		underlying: underlying,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// Complete waits for a token, then delegates.
func (c *RateLimitedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.underlying.Complete(ctx, prompt)
}

// CompleteWithSystem waits for a token, then delegates.
func (c *RateLimitedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.underlying.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}
