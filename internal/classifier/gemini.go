package classifier

import (
	"context"
	"fmt"

	"esg-mcp/internal/resilience"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no classifier model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini classifies with a generative Gemini model in JSON mode.
type Gemini struct {
	client *genai.Client
	model  string
	policy resilience.Policy
}

// NewGemini creates a classifier for the Gemini API backend.
func NewGemini(ctx context.Context, apiKey, model string, policy resilience.Policy) (*Gemini, error) {
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
	return &Gemini{client: client, model: model, policy: policy}, nil
}

func (g *Gemini) Classify(ctx context.Context, summary string, names []string) (Suggestion, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(0.1)),
		ResponseMIMEType: "application/json",
	}
	prompt := BuildPrompt(summary, names)

	var text string
	_, err := g.policy.Do(ctx, "classify", func(ctx context.Context) error {
		result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
		if err != nil {
			if resilience.IsRateLimit(err) {
				return &resilience.RateLimitError{Err: err}
			}
			return fmt.Errorf("gemini generation failed: %w", err)
		}
		text = result.Text()
		return nil
	})
	if err != nil {
		resilience.Report(ctx, "classifier", "classify", err)
		return Suggestion{}, err
	}

	s, err := ParseSuggestion(text, names)
	if err != nil {
		log.Debug().Err(err).Str("reply", text).Msg("Classifier reply discarded")
		return Suggestion{}, err
	}
	return s, nil
}
