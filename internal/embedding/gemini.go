package embedding

import (
	"context"
	"errors"
	"fmt"

	"esg-mcp/internal/resilience"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no embedding model is configured.
const DefaultGeminiModel = "gemini-embedding-001"

// GeminiEmbedder calls the Gemini embedding endpoint.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

// NewGeminiEmbedder creates a client for the Gemini API backend.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dim: dim}, nil
}

func (g *GeminiEmbedder) Dimension() int { return g.dim }
func (g *GeminiEmbedder) Model() string  { return g.model }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return Vector{}, err
	}
	return vs[0], nil
}

func (g *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			return nil, resilience.Permanent(ErrEmptyText)
		}
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: t}}})
	}

	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if g.dim > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(g.dim))
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([]Vector, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini returned an empty embedding at index %d", i)
		}
		v := make([]float32, len(e.Values))
		copy(v, e.Values)
		Normalize(v)
		out[i] = Vector{Values: v, Model: g.model}
	}
	return out, nil
}

// classifyError maps API status codes onto the retry policy's error kinds.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &resilience.RateLimitError{Err: err}
		case apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 408:
			return resilience.Permanent(fmt.Errorf("gemini embedding rejected: %w", err))
		}
	}
	if resilience.IsRateLimit(err) {
		return &resilience.RateLimitError{Err: err}
	}
	return fmt.Errorf("gemini embedding failed: %w", err)
}
