package solace

import (
	"context"
	"net/http"
)

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces the auto-detected
// OpenAI/Ollama/noop provider. Uses []float32 (not pgvector.Vector) so that
// embedders do not need the pgvector dependency; New wraps it in an adapter
// for internal use. A provider that returns zero vectors disables semantic
// retrieval.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// AdviceGenerator completes a counselling prompt.
// When provided via WithAdviceGenerator, replaces the auto-detected
// OpenRouter/Ollama/noop generator. Errors are absorbed on problem creation
// (the stored advice becomes a fallback message) and surfaced as 502 on
// regeneration.
type AdviceGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
