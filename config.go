package lightart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/lightart/default"
)

// Supported generation providers.
const (
	ProviderOpenAI  = "openai"
	ProviderGemini  = "gemini"
	ProviderBedrock = "bedrock"
)

// Config represents the user's lightart configuration.
type Config struct {
	Version    int              `toml:"version" json:"version"`
	Engine     EngineConfig     `toml:"engine" json:"engine"`
	Generation GenerationConfig `toml:"generation" json:"generation"`
	Embedding  EmbeddingConfig  `toml:"embedding" json:"embedding"`
	Journal    JournalConfig    `toml:"journal" json:"journal"`
	Server     ServerConfig     `toml:"server" json:"server"`
}

// EngineConfig holds the suggestion/refinement pipeline settings.
type EngineConfig struct {
	DebounceMs          int     `toml:"debounce_ms" json:"debounce_ms"`
	MaxSuggestions      int     `toml:"max_suggestions" json:"max_suggestions"`
	MaxRefinementLength int     `toml:"max_refinement_length" json:"max_refinement_length"`
	RequestTimeoutMs    int     `toml:"request_timeout_ms" json:"request_timeout_ms"`
	MaxContextEdits     int     `toml:"max_context_edits" json:"max_context_edits"`
	MaxVocabulary       int     `toml:"max_vocabulary" json:"max_vocabulary"`
	CacheTTLSeconds     int     `toml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	RateLimit           float64 `toml:"rate_limit" json:"rate_limit"` // model calls per second, 0 = unlimited
	RateBurst           int     `toml:"rate_burst" json:"rate_burst"`
}

// GenerationConfig holds settings for the generation API.
type GenerationConfig struct {
	Provider        string  `toml:"provider" json:"provider"`
	BaseURL         string  `toml:"base_url" json:"base_url"`
	APIKey          string  `toml:"api_key" json:"api_key"`
	Model           string  `toml:"model" json:"model"`
	Region          string  `toml:"region" json:"region,omitempty"`
	MaxTokens       int     `toml:"max_tokens" json:"max_tokens,omitempty"`
	RefineMaxTokens int     `toml:"refine_max_tokens" json:"refine_max_tokens,omitempty"`
	Temperature     float64 `toml:"temperature" json:"temperature,omitempty"`
	AnalyzeModel    string  `toml:"analyze_model" json:"analyze_model,omitempty"`
}

// EmbeddingConfig holds settings for the embedding API used by the vocabulary index.
type EmbeddingConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`
	APIKey  string `toml:"api_key" json:"api_key"`
	Model   string `toml:"model" json:"model"`
	TopK    int    `toml:"top_k" json:"top_k,omitempty"`
}

// JournalConfig holds settings for the applied-edit journal.
type JournalConfig struct {
	Path     string `toml:"path" json:"path,omitempty"`
	Disabled bool   `toml:"disabled" json:"disabled,omitempty"`
}

// ServerConfig holds settings for the daemon's optional HTTP listener.
type ServerConfig struct {
	HTTPAddr string `toml:"http_addr" json:"http_addr,omitempty"`
	// CORSOrigins lists origins allowed to call the HTTP API from a
	// browser. Empty allows every origin.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins,omitempty"`
}

// Debounce returns the debounce delay.
func (e EngineConfig) Debounce() time.Duration {
	return time.Duration(e.DebounceMs) * time.Millisecond
}

// RequestTimeout returns the per-call timeout.
func (e EngineConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMs) * time.Millisecond
}

// CacheTTL returns the suggestion cache TTL.
func (e EngineConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSeconds) * time.Second
}

// ConfigDir returns the config directory path.
// Resolution order: $LIGHTART_CONFIG_DIR > $XDG_CONFIG_HOME/lightart > ~/.config/lightart
func ConfigDir() string {
	if dir := os.Getenv("LIGHTART_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "lightart")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "lightart-config")
	}
	return filepath.Join(home, ".config", "lightart")
}

// DataDir returns the directory for persistent state such as the journal.
// Resolution order: $LIGHTART_DATA_DIR > $XDG_DATA_HOME/lightart > ~/.local/share/lightart
func DataDir() string {
	if dir := os.Getenv("LIGHTART_DATA_DIR"); dir != "" {
		return dir
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "lightart")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "lightart-data")
	}
	return filepath.Join(home, ".local", "share", "lightart")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// SuggestPromptPath returns the custom suggestion prompt path.
func SuggestPromptPath() string {
	return filepath.Join(ConfigDir(), "suggest.md")
}

// RefinePromptPath returns the custom refinement prompt path.
func RefinePromptPath() string {
	return filepath.Join(ConfigDir(), "refine.md")
}

// JournalPath returns the journal database path.
func JournalPath(cfg *Config) string {
	if cfg != nil && cfg.Journal.Path != "" {
		return cfg.Journal.Path
	}
	return filepath.Join(DataDir(), "journal.db")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("lightart: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
// Values missing from the file keep their defaults.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from the given path, layered over the defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	applyEngineDefaults(&cfg.Engine)
	return cfg, nil
}

// applyEngineDefaults restores defaults for engine values a file zeroed out.
func applyEngineDefaults(e *EngineConfig) {
	d := DefaultConfig().Engine
	if e.DebounceMs <= 0 {
		e.DebounceMs = d.DebounceMs
	}
	if e.MaxSuggestions <= 0 {
		e.MaxSuggestions = d.MaxSuggestions
	}
	if e.MaxRefinementLength <= 0 {
		e.MaxRefinementLength = d.MaxRefinementLength
	}
	if e.RequestTimeoutMs <= 0 {
		e.RequestTimeoutMs = d.RequestTimeoutMs
	}
	if e.MaxContextEdits <= 0 {
		e.MaxContextEdits = d.MaxContextEdits
	}
	if e.MaxVocabulary <= 0 {
		e.MaxVocabulary = d.MaxVocabulary
	}
	if e.CacheTTLSeconds < 0 {
		e.CacheTTLSeconds = d.CacheTTLSeconds
	}
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	provider := ResolveGenerationProvider(cfg)
	switch provider {
	case ProviderOpenAI, ProviderGemini:
		if ResolveGenerationAPIKey(cfg) == "" && ResolveGenerationBaseURL(cfg) == "" {
			warnings = append(warnings, "generation api_key is not configured; suggestions and refinement are disabled")
		}
	case ProviderBedrock:
		if cfg.Generation.Region == "" && os.Getenv("AWS_REGION") == "" {
			warnings = append(warnings, "bedrock provider selected but no region configured; relying on the AWS default chain")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("unknown generation provider %q", provider))
	}
	if cfg.Engine.MaxRefinementLength > 0 && cfg.Engine.MaxRefinementLength < 40 {
		warnings = append(warnings, "max_refinement_length below 40 characters will truncate most refinements")
	}
	if cfg.Engine.RateLimit < 0 {
		warnings = append(warnings, "rate_limit is negative and will be treated as unlimited")
	}
	if ResolveEmbeddingBaseURL(cfg) != "" && ResolveEmbeddingAPIKey(cfg) == "" {
		warnings = append(warnings, "embedding base_url is set but api_key is not; vocabulary search is disabled")
	}
	return warnings
}

// ResolveGenerationProvider returns the generation provider.
// Priority: $LIGHTART_GENERATION_PROVIDER env > config value.
func ResolveGenerationProvider(cfg *Config) string {
	if p := os.Getenv("LIGHTART_GENERATION_PROVIDER"); p != "" {
		return p
	}
	if cfg != nil {
		return cfg.Generation.Provider
	}
	return ""
}

// ResolveGenerationBaseURL returns the generation API base URL.
// Priority: $LIGHTART_GENERATION_API_BASE_URL env > config value.
func ResolveGenerationBaseURL(cfg *Config) string {
	if url := os.Getenv("LIGHTART_GENERATION_API_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Generation.BaseURL
	}
	return ""
}

// ResolveGenerationAPIKey returns the generation API key.
// Priority: $LIGHTART_GENERATION_API_KEY env > config value.
func ResolveGenerationAPIKey(cfg *Config) string {
	if key := os.Getenv("LIGHTART_GENERATION_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Generation.APIKey
	}
	return ""
}

// ResolveGenerationModel returns the generation model name.
// Priority: $LIGHTART_GENERATION_MODEL env > config value.
func ResolveGenerationModel(cfg *Config) string {
	if model := os.Getenv("LIGHTART_GENERATION_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Generation.Model
	}
	return ""
}

// ResolveAnalyzeAPIKey returns the Gemini API key used for image analysis.
// Priority: $LIGHTART_ANALYZE_API_KEY env > $GEMINI_API_KEY env > the
// generation key when the generation provider is gemini.
func ResolveAnalyzeAPIKey(cfg *Config) string {
	if key := os.Getenv("LIGHTART_ANALYZE_API_KEY"); key != "" {
		return key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	if ResolveGenerationProvider(cfg) == ProviderGemini {
		return ResolveGenerationAPIKey(cfg)
	}
	return ""
}

// ResolveEmbeddingBaseURL returns the embedding API base URL.
// Priority: $LIGHTART_EMBEDDING_API_BASE_URL env > config value.
func ResolveEmbeddingBaseURL(cfg *Config) string {
	if url := os.Getenv("LIGHTART_EMBEDDING_API_BASE_URL"); url != "" {
		return url
	}
	if cfg != nil {
		return cfg.Embedding.BaseURL
	}
	return ""
}

// ResolveEmbeddingAPIKey returns the embedding API key.
// Priority: $LIGHTART_EMBEDDING_API_KEY env > config value.
func ResolveEmbeddingAPIKey(cfg *Config) string {
	if key := os.Getenv("LIGHTART_EMBEDDING_API_KEY"); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Embedding.APIKey
	}
	return ""
}

// ResolveEmbeddingModel returns the embedding model name.
// Priority: $LIGHTART_EMBEDDING_MODEL env > config value.
func ResolveEmbeddingModel(cfg *Config) string {
	if model := os.Getenv("LIGHTART_EMBEDDING_MODEL"); model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Embedding.Model
	}
	return ""
}

// EmbeddingEnabled returns true when both base_url and api_key are configured for embedding.
func EmbeddingEnabled(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return ResolveEmbeddingBaseURL(cfg) != "" && ResolveEmbeddingAPIKey(cfg) != ""
}
