package llm

import (
	"fmt"

	"github.com/scrypster/riya/internal/config"
)

// NewTextGenerator creates the TextGenerator selected by cfg.Provider.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel, Timeout: cfg.Timeout}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel, Timeout: cfg.Timeout}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.OllamaModel, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator for cfg.
// Returns (nil, nil) when embeddings are disabled (no EmbeddingModel) or the
// provider has no embeddings endpoint (Anthropic).
func NewEmbeddingGenerator(cfg config.LLMConfig) (EmbeddingGenerator, error) {
	if cfg.EmbeddingModel == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.OpenAIAPIKey, Model: cfg.EmbeddingModel}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.OllamaURL, Model: cfg.EmbeddingModel, Timeout: cfg.Timeout}), nil
	default:
		return nil, nil
	}
}
