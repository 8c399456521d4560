package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	defaults "github.com/Paranoid-AF/lightart/default"
)

// NormalSuggestionCount is the number of general suggestions kept per image.
const NormalSuggestionCount = 15

// MainSuggestions holds one high-level suggestion per category.
type MainSuggestions struct {
	MovieStyle string `json:"movie_style_suggestion"`
	Mood       string `json:"mood_suggestion"`
	ColorFocus string `json:"color_focus_suggestion"`
	Other      string `json:"other_main_suggestion"`
}

// StyleSuggestions is the analyzer's answer for one image.
type StyleSuggestions struct {
	Main   MainSuggestions `json:"main_suggestions"`
	Normal []string        `json:"normal_suggestions"`
}

// Vocabulary flattens the suggestions, main ones first, skipping empty entries.
func (s *StyleSuggestions) Vocabulary() []string {
	all := append([]string{s.Main.MovieStyle, s.Main.Mood, s.Main.ColorFocus, s.Main.Other}, s.Normal...)
	out := make([]string, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, v := range all {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// contentGenerator is the subset of the genai models service used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Analyzer asks a multimodal Gemini model for style suggestions for an image.
// Image bytes are forwarded as-is and never decoded.
type Analyzer struct {
	models contentGenerator
	model  string
}

// NewAnalyzer creates an analyzer backed by the Gemini API.
func NewAnalyzer(ctx context.Context, apiKey, model string) (*Analyzer, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := newGenaiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &Analyzer{models: client.Models, model: model}, nil
}

// Analyze returns style suggestions for the image. An empty mimeType is sniffed.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, mimeType string) (*StyleSuggestions, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(defaults.AnalyzePrompt),
		genai.NewPartFromBytes(image, mimeType),
	}, genai.RoleUser)}

	resp, err := a.models.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	return parseStyleSuggestions(resp.Text())
}

// parseStyleSuggestions decodes the analyzer output, tolerating code fences.
func parseStyleSuggestions(raw string) (*StyleSuggestions, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	var s StyleSuggestions
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to parse suggestions: %w", err)
	}
	if len(s.Vocabulary()) == 0 {
		return nil, fmt.Errorf("analyzer returned no suggestions")
	}
	if len(s.Normal) > NormalSuggestionCount {
		s.Normal = s.Normal[:NormalSuggestionCount]
	}
	return &s, nil
}
