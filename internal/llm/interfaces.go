package llm

import "context"

// TextGenerator is the interface for LLM text completion. The system prompt
// carries fixed instructions; prompt carries the per-call input.
type TextGenerator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
