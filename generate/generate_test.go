package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"google.golang.org/genai"

	lightart "github.com/Paranoid-AF/lightart"
	defaults "github.com/Paranoid-AF/lightart/default"
)

// --- OpenAI-compatible provider ---

func TestOpenAIInvoke(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected Authorization header %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"[\"warmer tones\"]"}}]}`))
	}))
	defer srv.Close()

	m := NewOpenAI(srv.URL, "test-key", "test-model", 40, 0.2)
	out, err := m.Invoke(context.Background(), Prompt{System: "sys", User: "soften the", MaxTokens: 12})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `["warmer tones"]` {
		t.Errorf("unexpected output %q", out)
	}
	if got.Model != "test-model" {
		t.Errorf("expected model test-model, got %q", got.Model)
	}
	if got.MaxTokens != 12 {
		t.Errorf("expected per-prompt max_tokens 12, got %d", got.MaxTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "soften the" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
}

func TestOpenAIInvokeNoSystemPrompt(t *testing.T) {
	var roles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		for _, m := range body.Messages {
			roles = append(roles, m.Role)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	m := NewOpenAI(srv.URL, "", "m", 0, 0)
	if _, err := m.Invoke(context.Background(), Prompt{User: "hi"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roles) != 1 || roles[0] != "user" {
		t.Errorf("expected a single user message, got %v", roles)
	}
}

func TestOpenAIInvokeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	m := NewOpenAI(srv.URL, "k", "m", 0, 0)
	if _, err := m.Invoke(context.Background(), Prompt{User: "hi"}); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestOpenAIInvokeNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	m := NewOpenAI(srv.URL, "k", "m", 0, 0)
	_, err := m.Invoke(context.Background(), Prompt{User: "hi"})
	if err == nil || !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("expected no choices error, got %v", err)
	}
}

// --- Bedrock provider ---

type stubConverser struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (s *stubConverser) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.input = params
	return s.out, s.err
}

func TestBedrockInvoke(t *testing.T) {
	stub := &stubConverser{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role: types.ConversationRoleAssistant,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: "warm "},
				&types.ContentBlockMemberText{Value: "and soft"},
			},
		}},
	}}
	b := &Bedrock{client: stub, model: "anthropic.test", maxTokens: 40, temperature: 0.2}

	out, err := b.Invoke(context.Background(), Prompt{System: "sys", User: "make it"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "warm and soft" {
		t.Errorf("unexpected output %q", out)
	}
	if *stub.input.ModelId != "anthropic.test" {
		t.Errorf("unexpected model id %q", *stub.input.ModelId)
	}
	if len(stub.input.System) != 1 {
		t.Errorf("expected system block, got %d", len(stub.input.System))
	}
	if *stub.input.InferenceConfig.MaxTokens != 40 {
		t.Errorf("expected default max tokens 40, got %d", *stub.input.InferenceConfig.MaxTokens)
	}
}

func TestBedrockInvokeError(t *testing.T) {
	stub := &stubConverser{err: errors.New("throttled")}
	b := &Bedrock{client: stub, model: "m"}
	_, err := b.Invoke(context.Background(), Prompt{User: "x"})
	if err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

// --- Rate limiting ---

func TestNewLimitedDisabled(t *testing.T) {
	m := ModelFunc(func(ctx context.Context, p Prompt) (string, error) { return "ok", nil })
	if _, ok := NewLimited(m, 0, 0).(*Limited); ok {
		t.Error("expected zero rate to return the model unwrapped")
	}
}

func TestLimitedHonoursContext(t *testing.T) {
	calls := 0
	m := ModelFunc(func(ctx context.Context, p Prompt) (string, error) {
		calls++
		return "ok", nil
	})
	l := NewLimited(m, 0.001, 1)

	if _, err := l.Invoke(context.Background(), Prompt{}); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Invoke(ctx, Prompt{}); err == nil {
		t.Fatal("expected second call to fail waiting for a token")
	}
	if calls != 1 {
		t.Errorf("expected 1 model call, got %d", calls)
	}
}

// --- Factory ---

func TestNewModelNotConfigured(t *testing.T) {
	t.Setenv("LIGHTART_GENERATION_API_BASE_URL", "")
	t.Setenv("LIGHTART_GENERATION_API_KEY", "")
	t.Setenv("LIGHTART_GENERATION_PROVIDER", "")
	cfg := lightart.DefaultConfig()
	cfg.Generation.BaseURL = ""
	if _, err := NewModel(context.Background(), cfg); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNewModelUnknownProvider(t *testing.T) {
	t.Setenv("LIGHTART_GENERATION_PROVIDER", "carrier-pigeon")
	if _, err := NewModel(context.Background(), lightart.DefaultConfig()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewModelOpenAIDefault(t *testing.T) {
	t.Setenv("LIGHTART_GENERATION_PROVIDER", "")
	m, err := NewModel(context.Background(), lightart.DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l, ok := m.(*Limited)
	if !ok {
		t.Fatalf("expected rate limited model, got %T", m)
	}
	if _, ok := l.model.(*OpenAI); !ok {
		t.Errorf("expected OpenAI model, got %T", l.model)
	}
}

// --- Prompt templates ---

func TestSuggestPromptDefault(t *testing.T) {
	tmpl := NewTemplates("", "")
	out := tmpl.Suggest(SuggestData{Vocabulary: []string{"moody teal shadows"}, MaxWords: 6, MaxCandidates: 5})
	if !strings.Contains(out, "- moody teal shadows") {
		t.Errorf("expected vocabulary bullet, got:\n%s", out)
	}
	if !strings.Contains(out, "up to 5 continuations") {
		t.Errorf("expected candidate count, got:\n%s", out)
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("expected trailing whitespace trimmed")
	}
}

func TestSuggestPromptNoVocabulary(t *testing.T) {
	out := NewTemplates("", "").Suggest(SuggestData{MaxWords: 6, MaxCandidates: 3})
	if strings.Contains(out, "Prefer these style phrases") {
		t.Errorf("expected vocabulary section omitted, got:\n%s", out)
	}
}

func TestRefinePromptCustom(t *testing.T) {
	out := NewTemplates("", "Limit {{.MaxLength}}: {{join .Vocabulary \", \"}}").Refine(RefineData{
		Vocabulary: []string{"a", "b"},
		MaxLength:  500,
	})
	if out != "Limit 500: a, b" {
		t.Errorf("unexpected custom prompt %q", out)
	}
}

func TestPromptFallbackOnParseError(t *testing.T) {
	out := NewTemplates("{{.Broken", "").Suggest(SuggestData{MaxWords: 6, MaxCandidates: 2})
	if !strings.Contains(out, "AUTOCOMPLETE assistant") {
		t.Errorf("expected fallback to built-in prompt, got:\n%s", out)
	}
}

func TestPromptFallbackOnExecuteError(t *testing.T) {
	out := NewTemplates("{{.Missing}}", "").Suggest(SuggestData{MaxWords: 6, MaxCandidates: 2})
	if !strings.Contains(out, "AUTOCOMPLETE assistant") {
		t.Errorf("expected fallback to built-in prompt, got:\n%s", out)
	}
}

func TestLoadTemplatesCustomFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LIGHTART_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, "refine.md"), []byte("custom {{.MaxLength}}"), 0644); err != nil {
		t.Fatal(err)
	}
	tmpl := LoadTemplates()
	if got := tmpl.Refine(RefineData{MaxLength: 9}); got != "custom 9" {
		t.Errorf("expected custom refine prompt, got %q", got)
	}
	if got := tmpl.Suggest(SuggestData{MaxCandidates: 1}); !strings.Contains(got, "AUTOCOMPLETE") {
		t.Errorf("expected default suggest prompt, got %q", got)
	}
}

// --- Analyzer ---

type stubGenerator struct {
	contents []*genai.Content
	text     string
	err      error
}

func (s *stubGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.contents = contents
	if s.err != nil {
		return nil, s.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: s.text}}},
	}}}, nil
}

const analyzerOutput = "```json\n" + `{"main_suggestions":{"movie_style_suggestion":"Give it a dark cinematic grade","mood_suggestion":"Make it feel calm","color_focus_suggestion":"Deepen the blues","other_main_suggestion":"Classic portrait finish"},"normal_suggestions":["Lift the shadows a little","Warm up the whites","Deepen the blues"]}` + "\n```"

func TestAnalyzerAnalyze(t *testing.T) {
	stub := &stubGenerator{text: analyzerOutput}
	a := &Analyzer{models: stub, model: "gemini-test"}

	png := []byte("\x89PNG\r\n\x1a\n0000")
	s, err := a.Analyze(context.Background(), png, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Main.Mood != "Make it feel calm" {
		t.Errorf("unexpected mood %q", s.Main.Mood)
	}

	parts := stub.contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected prompt and image parts, got %d", len(parts))
	}
	if parts[0].Text != defaults.AnalyzePrompt {
		t.Error("expected analyze prompt as first part")
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MIMEType != "image/png" {
		t.Errorf("expected sniffed image/png inline data, got %+v", parts[1].InlineData)
	}

	vocab := s.Vocabulary()
	if len(vocab) != 6 {
		t.Errorf("expected 6 unique phrases, got %d: %v", len(vocab), vocab)
	}
	if vocab[0] != "Give it a dark cinematic grade" {
		t.Errorf("expected main suggestions first, got %q", vocab[0])
	}
}

func TestAnalyzerEmptyImage(t *testing.T) {
	a := &Analyzer{models: &stubGenerator{}, model: "m"}
	if _, err := a.Analyze(context.Background(), nil, "image/jpeg"); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestParseStyleSuggestionsInvalid(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"normal_suggestions":[]}`} {
		if _, err := parseStyleSuggestions(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}

func TestParseStyleSuggestionsCapsNormal(t *testing.T) {
	normal := make([]string, 20)
	for i := range normal {
		normal[i] = strings.Repeat("x", i+1)
	}
	data, _ := json.Marshal(StyleSuggestions{Normal: normal})
	s, err := parseStyleSuggestions(string(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Normal) != NormalSuggestionCount {
		t.Errorf("expected %d normal suggestions, got %d", NormalSuggestionCount, len(s.Normal))
	}
}

func TestNewAnalyzerRequiresKey(t *testing.T) {
	if _, err := NewAnalyzer(context.Background(), "", "m"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
