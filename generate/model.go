// Package generate talks to the external language models that produce
// suggestions, refinements and image vocabulary.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lightart "github.com/Paranoid-AF/lightart"
)

// ErrNotConfigured is returned when no model can be built from the config.
var ErrNotConfigured = errors.New("generation model not configured; set LIGHTART_GENERATION_API_KEY or edit config.toml")

// Prompt is one model invocation: a system prompt and a user message.
type Prompt struct {
	System    string
	User      string
	MaxTokens int // 0 selects the model default
}

// Model produces text for a prompt. Implementations must honour ctx.
type Model interface {
	Invoke(ctx context.Context, p Prompt) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, p Prompt) (string, error)

// Invoke calls f.
func (f ModelFunc) Invoke(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// NewModel builds the configured provider, wrapped in the configured rate limiter.
func NewModel(ctx context.Context, cfg *lightart.Config) (Model, error) {
	if cfg == nil {
		cfg = lightart.DefaultConfig()
	}
	gen := cfg.Generation
	model := lightart.ResolveGenerationModel(cfg)

	var m Model
	switch provider := lightart.ResolveGenerationProvider(cfg); provider {
	case lightart.ProviderOpenAI, "":
		baseURL := lightart.ResolveGenerationBaseURL(cfg)
		apiKey := lightart.ResolveGenerationAPIKey(cfg)
		if baseURL == "" && apiKey == "" {
			return nil, ErrNotConfigured
		}
		m = NewOpenAI(baseURL, apiKey, model, gen.MaxTokens, gen.Temperature)
	case lightart.ProviderGemini:
		apiKey := lightart.ResolveGenerationAPIKey(cfg)
		if apiKey == "" {
			return nil, ErrNotConfigured
		}
		g, err := NewGemini(ctx, apiKey, model, gen.MaxTokens, gen.Temperature)
		if err != nil {
			return nil, err
		}
		m = g
	case lightart.ProviderBedrock:
		b, err := NewBedrock(ctx, gen.Region, model, gen.MaxTokens, gen.Temperature)
		if err != nil {
			return nil, err
		}
		m = b
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}

	slog.Info("generation model ready", "provider", lightart.ResolveGenerationProvider(cfg), "model", model)
	return NewLimited(m, cfg.Engine.RateLimit, cfg.Engine.RateBurst), nil
}
