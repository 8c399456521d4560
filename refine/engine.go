// Package refine expands a short user instruction into a detailed editing
// instruction.
//
// Refinement is not idempotent: the model may answer the same prompt
// differently on each call.
package refine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/coord"
	"github.com/Paranoid-AF/lightart/editctx"
	"github.com/Paranoid-AF/lightart/generate"
)

// DefaultMaxLength caps refined text, in runes, when no limit is configured.
const DefaultMaxLength = 500

// Options configures an Engine. Zero values select defaults.
type Options struct {
	MaxLength int
	MaxTokens int
	Templates *generate.Templates
}

// Engine submits refinement requests.
type Engine struct {
	coord     *coord.Coordinator
	model     generate.Model
	templates *generate.Templates
	maxLength int
	maxTokens int
}

// New creates an engine that submits through c and calls m.
func New(c *coord.Coordinator, m generate.Model, opts Options) *Engine {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.Templates == nil {
		opts.Templates = generate.NewTemplates("", "")
	}
	return &Engine{
		coord:     c,
		model:     m,
		templates: opts.Templates,
		maxLength: opts.MaxLength,
		maxTokens: opts.MaxTokens,
	}
}

// MaxLength returns the configured maximum refined length in runes.
func (e *Engine) MaxLength() int { return e.maxLength }

// Refine validates prompt and submits a refinement request for the session,
// superseding any in-flight refinement. Empty prompts fail with a
// *lightart.ValidationError and never reach the model.
func (e *Engine) Refine(sessionID, prompt string, ec lightart.EditContext) (*coord.Handle, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, &lightart.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}

	p := generate.Prompt{
		System: e.templates.Refine(generate.RefineData{
			Vocabulary: ec.Vocabulary,
			MaxLength:  e.maxLength,
		}),
		User:      buildUserMessage(prompt, ec),
		MaxTokens: e.maxTokens,
	}

	return e.coord.Submit(sessionID, lightart.KindRefinement, func(ctx context.Context) (string, error) {
		slog.Debug("refine prompt", "session", sessionID, "system", p.System, "user", p.User)
		out, err := e.model.Invoke(ctx, p)
		if err != nil {
			return "", err
		}
		out = cleanOutput(out)
		if out == "" {
			return "", &lightart.ValidationError{Field: "response", Reason: "model returned empty text"}
		}
		return out, nil
	}), nil
}

// RefineSync submits a refinement and waits for it.
func (e *Engine) RefineSync(ctx context.Context, sessionID, prompt string, ec lightart.EditContext) (lightart.RefinementResult, error) {
	start := time.Now()
	h, err := e.Refine(sessionID, prompt, ec)
	if err != nil {
		return lightart.RefinementResult{}, err
	}
	out, err := h.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			h.Cancel()
		}
		return lightart.RefinementResult{}, err
	}
	return e.finish(sessionID, h.ID, out, time.Since(start)), nil
}

// Result converts an applied coordinator outcome into a RefinementResult,
// applying the length limit.
func (e *Engine) Result(o coord.Outcome) lightart.RefinementResult {
	return e.finish(o.SessionID, o.RequestID, o.Output, o.Latency)
}

func (e *Engine) finish(sessionID string, requestID uint64, out string, latency time.Duration) lightart.RefinementResult {
	text, truncated := Truncate(out, e.maxLength)
	if truncated {
		slog.Debug("refinement truncated", "session", sessionID, "request_id", requestID, "max_length", e.maxLength)
	}
	return lightart.RefinementResult{
		SessionID: sessionID,
		RequestID: requestID,
		Text:      text,
		Truncated: truncated,
		Latency:   latency,
	}
}

func buildUserMessage(prompt string, ec lightart.EditContext) string {
	var sb strings.Builder
	if desc := editctx.Describe(ec); desc != "" {
		sb.WriteString(desc)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Refine: ")
	sb.WriteString(prompt)
	return sb.String()
}

// cleanOutput strips quotes and code fences models sometimes wrap text in.
func cleanOutput(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
