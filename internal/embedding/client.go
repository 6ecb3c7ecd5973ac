// Package embedding wraps an embeddings.Provider with the per-request
// timeout, retry, and circuit-breaker policy used by the capture pipeline.
//
// Embedding failures never fail a chat request. The pipeline stores the
// message without a vector and logs a warning, so the policy here aims to
// bound how long a dead embedding endpoint can delay request handling.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/reservoir-ai/reservoir/internal/resilience"
	"github.com/reservoir-ai/reservoir/pkg/provider/embeddings"
)

// Client applies timeout, retry, and breaker policy around a Provider and
// L2-normalizes every returned vector. Safe for concurrent use.
type Client struct {
	provider embeddings.Provider
	timeout  time.Duration
	retry    resilience.RetryConfig
	breaker  *resilience.Breaker
}

// Config tunes a Client.
type Config struct {
	// Timeout bounds each individual provider call. Default: 15s.
	Timeout time.Duration

	// MaxAttempts is the retry budget per Embed call. Default: 3.
	MaxAttempts int
}

// New wraps provider with the given policy.
func New(provider embeddings.Provider, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		provider: provider,
		timeout:  cfg.Timeout,
		retry: resilience.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   100 * time.Millisecond,
		},
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name: "embeddings/" + provider.ModelID(),
		}),
	}
}

// Embed computes the normalized embedding for text. Returns an error when the
// provider is unreachable past the retry budget, the breaker is open, or the
// vector length disagrees with the provider's declared dimensions.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := c.breaker.Do(func() error {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			var err error
			vec, err = c.provider.Embed(callCtx, text)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if want := c.provider.Dimensions(); want > 0 && len(vec) != want {
		return nil, fmt.Errorf("embedding: got %d dimensions, want %d", len(vec), want)
	}
	return embeddings.Normalize(vec), nil
}

// EmbedBatch computes normalized embeddings for texts in one provider call,
// under the same timeout, retry, and breaker policy as Embed. The result has
// one vector per input, index-aligned.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vecs [][]float32
	err := c.breaker.Do(func() error {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			var err error
			vecs, err = c.provider.EmbedBatch(callCtx, texts)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(vecs), len(texts))
	}
	want := c.provider.Dimensions()
	for i, vec := range vecs {
		if want > 0 && len(vec) != want {
			return nil, fmt.Errorf("embedding: vector %d has %d dimensions, want %d", i, len(vec), want)
		}
		vecs[i] = embeddings.Normalize(vec)
	}
	return vecs, nil
}

// Dimensions returns the provider's declared vector length.
func (c *Client) Dimensions() int {
	return c.provider.Dimensions()
}

// ModelID returns the underlying provider's model identifier.
func (c *Client) ModelID() string {
	return c.provider.ModelID()
}

// Healthy reports whether the breaker currently admits calls.
func (c *Client) Healthy() bool {
	return !c.breaker.Open()
}
