// Package llm implements the language-model brain: answer synthesis over an
// evidence bundle and fallback intent classification.
package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/nancy-core/nancy/pkg/brains"
)

// Generator is the narrow completion surface the brain needs. Production uses
// the Gemini API; tests substitute a scripted fake.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
	Name() string
}

// GenAIGenerator completes prompts through the Gemini API.
type GenAIGenerator struct {
	client *genai.Client
	model  string
}

// NewGenAIGenerator creates a generator for the given model. An empty model
// selects gemini-2.0-flash.
func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("LLM API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}
	var config *genai.GenerateContentConfig
	if system != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: %v", brains.ErrModelUnavailable, err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", brains.ErrSafetyRefusal)
	}
	return text, nil
}

func (g *GenAIGenerator) Name() string { return "genai:" + g.model }

// UnavailableGenerator stands in when no LLM is configured. Every call fails
// with the transient model-unavailable error, so synthesis falls back to
// extraction and intent detection stays rule-based.
type UnavailableGenerator struct{}

func (UnavailableGenerator) Generate(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: no LLM configured", brains.ErrModelUnavailable)
}

func (UnavailableGenerator) Name() string { return "unavailable" }
