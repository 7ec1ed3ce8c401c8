package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/config"
)

// NewFromConfig builds the chat client and the embedding client selected by
// configuration. Backends are chosen here, never by call-site branching: the
// rest of the engine only sees LLMClient.
func NewFromConfig(cfg *config.AIConfig, logger *zap.Logger) (chat LLMClient, embed LLMClient, err error) {
	openaiClient, err := NewClient(&Config{
		Endpoint: cfg.OpenAIBaseURL,
		Model:    cfg.OpenAIModel,
		APIKey:   cfg.OpenAIAPIKey,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create openai client: %w", err)
	}

	switch cfg.EnrichmentBackend {
	case "openai":
		chat = openaiClient
	case "anthropic":
		anthropicClient, err := NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create anthropic client: %w", err)
		}
		chat = anthropicClient
	default:
		return nil, nil, fmt.Errorf("unknown enrichment backend %q", cfg.EnrichmentBackend)
	}

	// Embeddings always go through the OpenAI-compatible endpoint. Every
	// call carries its own deadline so a stalled backend cannot hold a batch
	// unit open.
	timeout := time.Duration(cfg.EnrichmentTimeoutSeconds) * time.Second
	return WithTimeout(chat, timeout), WithTimeout(openaiClient, timeout), nil
}
