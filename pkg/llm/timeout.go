package llm

import (
	"context"
	"time"
)

// timeoutClient bounds every chat and embedding call with its own deadline.
// A unit that times out is skipped for the cycle and picked up on the next
// scheduled run.
type timeoutClient struct {
	inner   LLMClient
	timeout time.Duration
}

var _ LLMClient = (*timeoutClient)(nil)

// WithTimeout wraps client so each call carries a per-call deadline. A zero
// or negative timeout returns client unchanged.
func WithTimeout(client LLMClient, timeout time.Duration) LLMClient {
	if timeout <= 0 {
		return client
	}
	return &timeoutClient{inner: client, timeout: timeout}
}

// GenerateResponse implements LLMClient.
func (c *timeoutClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.GenerateResponse(ctx, prompt, systemMessage, temperature)
}

// CreateEmbedding implements LLMClient.
func (c *timeoutClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.CreateEmbedding(ctx, input, model)
}

// GetModel implements LLMClient.
func (c *timeoutClient) GetModel() string { return c.inner.GetModel() }

// GetEndpoint implements LLMClient.
func (c *timeoutClient) GetEndpoint() string { return c.inner.GetEndpoint() }
