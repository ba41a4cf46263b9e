package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"piclocate/internal/apperr"
	"piclocate/internal/config"
)

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGenAIEngine creates a GenAI embedding engine.
func NewGenAIEngine(cfg config.EmbeddingConfig) (*GenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindInput, "GenAI API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{client: client, model: model, dims: cfg.Dims}, nil
}

// Task types understood by the embedding endpoint.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// EmbedDocument embeds a caption with the retrieval-document task type.
func (e *GenAIEngine) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalDocument)
}

// EmbedQuery embeds a query with the retrieval-query task type.
func (e *GenAIEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, taskRetrievalQuery)
}

func (e *GenAIEngine) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: taskType,
		},
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "GenAI embed failed")
	}
	if len(result.Embeddings) == 0 {
		return nil, apperr.New(apperr.KindParse, "no embeddings returned")
	}

	vec := result.Embeddings[0].Values
	if e.dims > 0 && len(vec) != e.dims {
		return nil, apperr.Newf(apperr.KindFatal, "embedding dimension mismatch: got %d, store expects %d", len(vec), e.dims)
	}
	return vec, nil
}

// Dimensions returns the configured vector dimensionality.
func (e *GenAIEngine) Dimensions() int {
	if e.dims > 0 {
		return e.dims
	}
	return 768
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

var _ Engine = (*GenAIEngine)(nil)
