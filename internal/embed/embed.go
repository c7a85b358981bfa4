// Package embed provides text embedding generation and similarity
// computation behind a narrow provider interface, so hosted and local
// models swap without touching retrieval logic.
package embed

import (
	"context"
	"math"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Name identifies the provider for error reporting.
	Name() string
	// Model returns the model identifier vectors are keyed under.
	Model() string
	// Available returns true if the embedding service is accessible.
	Available() bool
	// Embed generates a vector embedding for a passage of text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedQuery generates a vector for a search query. Providers that
	// distinguish query and passage tasks use the query task here.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder extends Embedder with batch support. When EmbedBatch
// returns nil error the result slice has the same length as texts, with
// result[i] corresponding to texts[i].
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CosineSimilarity computes similarity between two embeddings: 1 for
// identical direction, 0 for orthogonal. Mismatched lengths and zero
// vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
