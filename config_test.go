package lightart

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigEngineDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Engine.Debounce() != 250*time.Millisecond {
		t.Errorf("expected 250ms debounce, got %s", cfg.Engine.Debounce())
	}
	if cfg.Engine.MaxSuggestions != 5 {
		t.Errorf("expected max_suggestions 5, got %d", cfg.Engine.MaxSuggestions)
	}
	if cfg.Engine.MaxRefinementLength != 500 {
		t.Errorf("expected max_refinement_length 500, got %d", cfg.Engine.MaxRefinementLength)
	}
	if cfg.Engine.RequestTimeout() != 10*time.Second {
		t.Errorf("expected 10s timeout, got %s", cfg.Engine.RequestTimeout())
	}
	if cfg.Engine.MaxContextEdits != 10 {
		t.Errorf("expected max_context_edits 10, got %d", cfg.Engine.MaxContextEdits)
	}
	if cfg.Generation.Provider != ProviderOpenAI {
		t.Errorf("expected openai provider, got %q", cfg.Generation.Provider)
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("LIGHTART_CONFIG_DIR", t.TempDir())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxSuggestions != DefaultConfig().Engine.MaxSuggestions {
		t.Errorf("expected defaults, got %+v", cfg.Engine)
	}
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LIGHTART_CONFIG_DIR", dir)
	content := `
[engine]
debounce_ms = 100
max_suggestions = 0

[generation]
provider = "gemini"
model = "gemini-2.5-flash"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.DebounceMs != 100 {
		t.Errorf("expected debounce 100, got %d", cfg.Engine.DebounceMs)
	}
	// Zeroed values fall back to defaults.
	if cfg.Engine.MaxSuggestions != 5 {
		t.Errorf("expected max_suggestions default 5, got %d", cfg.Engine.MaxSuggestions)
	}
	if cfg.Engine.MaxRefinementLength != 500 {
		t.Errorf("expected untouched default 500, got %d", cfg.Engine.MaxRefinementLength)
	}
	if cfg.Generation.Provider != ProviderGemini || cfg.Generation.Model != "gemini-2.5-flash" {
		t.Errorf("unexpected generation config: %+v", cfg.Generation)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LIGHTART_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[engine\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("LIGHTART_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := ConfigDir(); got != "/xdg/lightart" {
		t.Errorf("expected /xdg/lightart, got %s", got)
	}
	t.Setenv("LIGHTART_CONFIG_DIR", "/custom")
	if got := ConfigDir(); got != "/custom" {
		t.Errorf("expected /custom, got %s", got)
	}
}

func TestJournalPath(t *testing.T) {
	t.Setenv("LIGHTART_DATA_DIR", "/data")
	if got := JournalPath(DefaultConfig()); got != "/data/journal.db" {
		t.Errorf("expected /data/journal.db, got %s", got)
	}
	cfg := DefaultConfig()
	cfg.Journal.Path = "/elsewhere/j.db"
	if got := JournalPath(cfg); got != "/elsewhere/j.db" {
		t.Errorf("expected explicit path, got %s", got)
	}
}

func TestResolveGenerationEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("LIGHTART_GENERATION_API_KEY", "env-key")
	t.Setenv("LIGHTART_GENERATION_MODEL", "env-model")
	t.Setenv("LIGHTART_GENERATION_PROVIDER", "bedrock")
	if got := ResolveGenerationAPIKey(cfg); got != "env-key" {
		t.Errorf("expected env-key, got %s", got)
	}
	if got := ResolveGenerationModel(cfg); got != "env-model" {
		t.Errorf("expected env-model, got %s", got)
	}
	if got := ResolveGenerationProvider(cfg); got != ProviderBedrock {
		t.Errorf("expected bedrock, got %s", got)
	}
}

func TestValidateConfigWarnings(t *testing.T) {
	t.Setenv("LIGHTART_GENERATION_PROVIDER", "")
	t.Setenv("LIGHTART_EMBEDDING_API_KEY", "")
	t.Setenv("LIGHTART_EMBEDDING_API_BASE_URL", "")

	if w := ValidateConfig(DefaultConfig()); len(w) != 0 {
		t.Errorf("expected no warnings for defaults, got %v", w)
	}

	cfg := DefaultConfig()
	cfg.Generation.Provider = "mystery"
	cfg.Engine.MaxRefinementLength = 10
	cfg.Embedding.BaseURL = "http://embed"
	w := ValidateConfig(cfg)
	joined := strings.Join(w, "\n")
	for _, want := range []string{"unknown generation provider", "max_refinement_length", "embedding base_url"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected warning containing %q, got %v", want, w)
		}
	}

	if w := ValidateConfig(nil); len(w) != 0 {
		t.Errorf("expected no warnings for nil config, got %v", w)
	}
}

func TestEmbeddingEnabled(t *testing.T) {
	t.Setenv("LIGHTART_EMBEDDING_API_KEY", "")
	t.Setenv("LIGHTART_EMBEDDING_API_BASE_URL", "")
	cfg := DefaultConfig()
	if EmbeddingEnabled(cfg) {
		t.Error("expected embedding disabled by default")
	}
	cfg.Embedding.BaseURL = "http://embed"
	cfg.Embedding.APIKey = "k"
	if !EmbeddingEnabled(cfg) {
		t.Error("expected embedding enabled")
	}
	if EmbeddingEnabled(nil) {
		t.Error("expected nil config to disable embedding")
	}
}

func TestResolveAnalyzeAPIKey(t *testing.T) {
	t.Setenv("LIGHTART_ANALYZE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LIGHTART_GENERATION_PROVIDER", "")
	t.Setenv("LIGHTART_GENERATION_API_KEY", "")

	cfg := DefaultConfig()
	cfg.Generation.APIKey = "gen-key"
	if got := ResolveAnalyzeAPIKey(cfg); got != "" {
		t.Errorf("expected no analyze key for openai provider, got %q", got)
	}
	cfg.Generation.Provider = ProviderGemini
	if got := ResolveAnalyzeAPIKey(cfg); got != "gen-key" {
		t.Errorf("expected generation key for gemini provider, got %q", got)
	}
	t.Setenv("GEMINI_API_KEY", "gemini-env")
	if got := ResolveAnalyzeAPIKey(cfg); got != "gemini-env" {
		t.Errorf("expected GEMINI_API_KEY, got %q", got)
	}
	t.Setenv("LIGHTART_ANALYZE_API_KEY", "analyze-env")
	if got := ResolveAnalyzeAPIKey(cfg); got != "analyze-env" {
		t.Errorf("expected LIGHTART_ANALYZE_API_KEY, got %q", got)
	}
}
