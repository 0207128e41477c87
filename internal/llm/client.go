// Package llm provides the model clients behind the routing tiers: an
// OpenAI chat-completions client (which also serves any OpenAI-compatible
// endpoint such as a local vLLM serving qwen), an Anthropic messages
// client, and a Gemini client on the official SDK. All transports share
// the same discipline: minimum spacing between requests, exponential
// backoff on rate limits, context-scoped timeouts.
package llm

import (
	"context"
	"time"
)

// Client is the interface every provider implements.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// Options configures a provider client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

func (o Options) withDefaults(model, baseURL string) Options {
	if o.Model == "" {
		o.Model = model
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// minRequestSpacing is the floor between consecutive requests per client.
const minRequestSpacing = 600 * time.Millisecond

// backoff waits 1s, 2s, 4s for attempt 1, 2, 3, or until ctx is done.
func backoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(1<<uint(attempt-1)) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
