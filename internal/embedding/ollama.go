package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"piclocate/internal/apperr"
	"piclocate/internal/config"
)

// OllamaEngine generates embeddings using a local Ollama server. Ollama has no
// task-type distinction, so documents and queries share one code path.
type OllamaEngine struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// NewOllamaEngine creates an Ollama embedding engine.
func NewOllamaEngine(cfg config.EmbeddingConfig) (*OllamaEngine, error) {
	endpoint := cfg.ModelURL
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "embeddinggemma"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &OllamaEngine{
		endpoint: endpoint,
		model:    model,
		dims:     cfg.Dims,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedDocument embeds a caption.
func (e *OllamaEngine) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedQuery embeds a query.
func (e *OllamaEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OllamaEngine) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "ollama request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Newf(apperr.KindTransient, "ollama returned status %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, err, "failed to decode ollama response")
	}
	if e.dims > 0 && len(result.Embedding) != e.dims {
		return nil, apperr.Newf(apperr.KindFatal, "embedding dimension mismatch: got %d, store expects %d", len(result.Embedding), e.dims)
	}
	return result.Embedding, nil
}

// Dimensions returns the configured vector dimensionality.
func (e *OllamaEngine) Dimensions() int {
	if e.dims > 0 {
		return e.dims
	}
	return 768
}

// Name returns the engine name.
func (e *OllamaEngine) Name() string {
	return fmt.Sprintf("ollama:%s", e.model)
}

var _ Engine = (*OllamaEngine)(nil)
