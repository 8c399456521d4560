// Package defaults provides embedded default assets (prompt templates and config).
package defaults

import _ "embed"

//go:embed default_config.toml
var DefaultConfigTOML string

//go:embed suggest_prompt.md
var SuggestPrompt string

//go:embed refine_prompt.md
var RefinePrompt string

//go:embed analyze_prompt.md
var AnalyzePrompt string
