// Package embedding provides vector embedding generation for caption search.
// Supports two backends: Google GenAI (cloud) and Ollama (local).
package embedding

import (
	"context"
	"math"

	"piclocate/internal/apperr"
	"piclocate/internal/config"
	"piclocate/internal/logging"
)

// Engine generates dense vectors for captions and queries. Documents and
// queries use asymmetric task types where the backend supports them.
type Engine interface {
	// EmbedDocument embeds a caption for storage.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds a normalized search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// Name returns the engine name for logs.
	Name() string
}

// NewEngine creates an engine from configuration.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	logging.Embedding("creating embedding engine: provider=%s model=%s dims=%d", cfg.Provider, cfg.Model, cfg.Dims)

	switch cfg.Provider {
	case "genai":
		return NewGenAIEngine(cfg)
	case "ollama":
		return NewOllamaEngine(cfg)
	default:
		return nil, apperr.Newf(apperr.KindInput, "unsupported embedding provider: %s (use genai or ollama)", cfg.Provider)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 for zero-magnitude or mismatched vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
