package embedding

import "context"

// TaskSemanticSimilarity is the task hint for symmetric comparisons. Snippets
// and stored summaries are embedded with the same hint so their distances
// are comparable. Providers without task types ignore it.
const TaskSemanticSimilarity = "SEMANTIC_SIMILARITY"

type EmbeddingResponseEmbedding struct {
	Values []float32 `json:"values"`
}

type EmbeddingResponse struct {
	Embedding EmbeddingResponseEmbedding `json:"embedding"`
}

// EmbeddingProvider defines the interface for generating text embeddings
type EmbeddingProvider interface {
	Generate(ctx context.Context, text string, taskType string) (*EmbeddingResponse, error)
}
