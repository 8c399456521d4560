package generate

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini performs text generation via the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewGemini creates a Gemini model client.
func NewGemini(ctx context.Context, apiKey, model string, maxTokens int, temperature float64) (*Gemini, error) {
	client, err := newGenaiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: model, maxTokens: maxTokens, temperature: temperature}, nil
}

func newGenaiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return client, nil
}

// Invoke generates content for p and returns the response text.
func (g *Gemini) Invoke(ctx context.Context, p Prompt) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(g.temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if p.System != "" {
		config.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(p.User), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no text content in response")
	}
	return text, nil
}
