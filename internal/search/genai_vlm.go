package search

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"piclocate/internal/apperr"
	"piclocate/internal/config"
)

// GenAIGenerator calls the Gemini API for multimodal verification. Images are
// sent inline when bytes are available, otherwise as URL text references the
// model can cite.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates the Gemini-backed generator.
func NewGenAIGenerator(cfg config.VLMConfig) (*GenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, apperr.New(apperr.KindInput, "VLM API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-3-flash-preview"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

// ModelID returns the model name used in cache keys.
func (g *GenAIGenerator) ModelID() string { return g.model }

// Generate sends one batch prompt and returns the raw model text.
func (g *GenAIGenerator) Generate(ctx context.Context, system, user string, images []ImageRef) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(user)}
	for _, img := range images {
		if len(img.Bytes) > 0 {
			parts = append(parts, genai.NewPartFromBytes(img.Bytes, img.MIME))
			continue
		}
		parts = append(parts, genai.NewPartFromText(fmt.Sprintf("[image %s at %s]", img.ImageID, img.SignedURL)))
	}

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, err, "VLM call failed")
	}

	text := result.Text()
	if text == "" {
		return "", apperr.New(apperr.KindParse, "empty VLM response")
	}
	return text, nil
}

var _ Generator = (*GenAIGenerator)(nil)
