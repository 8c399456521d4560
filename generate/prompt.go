package generate

import (
	"log/slog"
	"os"
	"strings"
	"text/template"

	lightart "github.com/Paranoid-AF/lightart"
	defaults "github.com/Paranoid-AF/lightart/default"
)

// SuggestData holds the data passed to the suggestion prompt template.
type SuggestData struct {
	Vocabulary    []string
	MaxWords      int
	MaxCandidates int
}

// RefineData holds the data passed to the refinement prompt template.
type RefineData struct {
	Vocabulary []string
	MaxLength  int
}

var promptFuncs = template.FuncMap{
	"bullet": func(items []string) string {
		if len(items) == 0 {
			return ""
		}
		var sb strings.Builder
		for _, item := range items {
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
		return strings.TrimSuffix(sb.String(), "\n")
	},
	"join": func(items []string, sep string) string {
		return strings.Join(items, sep)
	},
}

// Templates renders system prompts from custom or built-in templates.
type Templates struct {
	suggest string // custom template source, empty = built-in
	refine  string
}

// LoadTemplates loads custom prompt templates from the config directory.
// Missing files select the built-in defaults.
func LoadTemplates() *Templates {
	return &Templates{
		suggest: loadCustomPrompt(lightart.SuggestPromptPath()),
		refine:  loadCustomPrompt(lightart.RefinePromptPath()),
	}
}

// NewTemplates creates templates from source strings. Empty strings select
// the built-in defaults.
func NewTemplates(suggest, refine string) *Templates {
	return &Templates{suggest: suggest, refine: refine}
}

func loadCustomPrompt(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	slog.Info("loaded custom prompt", "path", path)
	return string(data)
}

// Suggest renders the suggestion system prompt.
func (t *Templates) Suggest(data SuggestData) string {
	return render("suggest", t.suggest, defaults.SuggestPrompt, data)
}

// Refine renders the refinement system prompt.
func (t *Templates) Refine(data RefineData) string {
	return render("refine", t.refine, defaults.RefinePrompt, data)
}

// render executes src, falling back to fallback when src is empty or broken.
func render(name, src, fallback string, data any) string {
	if src == "" {
		src = fallback
	}

	t, err := template.New(name).Funcs(promptFuncs).Parse(src)
	if err != nil {
		slog.Warn("failed to parse prompt template, falling back to default", "template", name, "error", err)
		t = template.Must(template.New(name).Funcs(promptFuncs).Parse(fallback))
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		slog.Warn("failed to execute prompt template, falling back to default", "template", name, "error", err)
		t = template.Must(template.New(name).Funcs(promptFuncs).Parse(fallback))
		buf.Reset()
		t.Execute(&buf, data)
	}

	return strings.TrimRight(buf.String(), " \t\n")
}
