// Package suggest produces debounced autocomplete suggestions ("ghost text")
// for the prompt a user is typing.
package suggest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jellydator/ttlcache/v3"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/coord"
	"github.com/Paranoid-AF/lightart/editctx"
	"github.com/Paranoid-AF/lightart/generate"
	"github.com/Paranoid-AF/lightart/index"
)

const (
	// DefaultDebounce is the quiet period before a suggestion request is sent.
	DefaultDebounce = 250 * time.Millisecond

	maxContinuationWords = 8
)

// timer is the part of *time.Timer the engine uses.
type timer interface {
	Stop() bool
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Debounce       time.Duration
	MaxSuggestions int
	MaxTokens      int
	CacheTTL       time.Duration // 0 disables the result cache
	VocabularyTopK int
	Templates      *generate.Templates
	Catalog        *index.Catalog // nil disables vocabulary narrowing
}

// Engine turns input changes into suggestion requests.
type Engine struct {
	coord     *coord.Coordinator
	model     generate.Model
	templates *generate.Templates
	catalog   *index.Catalog
	cache     *ttlcache.Cache[string, []string]

	debounce       time.Duration
	maxSuggestions int
	maxTokens      int
	vocabularyTopK int

	afterFunc func(time.Duration, func()) timer

	mu      sync.Mutex
	pending map[string]*pendingInput
	gen     uint64
}

// pendingInput is the debounce state of one session.
type pendingInput struct {
	gen   uint64
	timer timer
}

// New creates an engine that submits through c and calls m.
func New(c *coord.Coordinator, m generate.Model, opts Options) *Engine {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = DefaultMaxSuggestions
	}
	if opts.Templates == nil {
		opts.Templates = generate.NewTemplates("", "")
	}
	e := &Engine{
		coord:          c,
		model:          m,
		templates:      opts.Templates,
		catalog:        opts.Catalog,
		debounce:       opts.Debounce,
		maxSuggestions: opts.MaxSuggestions,
		maxTokens:      opts.MaxTokens,
		vocabularyTopK: opts.VocabularyTopK,
		pending:        make(map[string]*pendingInput),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	if opts.CacheTTL > 0 {
		e.cache = ttlcache.New[string, []string](
			ttlcache.WithTTL[string, []string](opts.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, []string](),
		)
		go e.cache.Start()
	}
	return e
}

// Close stops pending timers and the cache expiration loop.
func (e *Engine) Close() {
	e.mu.Lock()
	for id, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if e.cache != nil {
		e.cache.Stop()
	}
}

// OnInputChanged restarts the session's debounce timer. When the timer fires
// without further input, a suggestion request is submitted. Whitespace-only
// input stops the timer and cancels the in-flight suggestion instead.
func (e *Engine) OnInputChanged(in lightart.InputState, ec lightart.EditContext) {
	if strings.TrimSpace(in.Text) == "" {
		e.Cancel(in.SessionID)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	gen := e.gen
	if p, ok := e.pending[in.SessionID]; ok {
		p.timer.Stop()
	}
	p := &pendingInput{gen: gen}
	p.timer = e.afterFunc(e.debounce, func() { e.fire(in, ec, gen) })
	e.pending[in.SessionID] = p
}

// fire submits the debounced input if no newer input arrived meanwhile.
func (e *Engine) fire(in lightart.InputState, ec lightart.EditContext, gen uint64) {
	e.mu.Lock()
	p, ok := e.pending[in.SessionID]
	if !ok || p.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.pending, in.SessionID)
	e.mu.Unlock()

	e.submit(in, ec)
}

// Cancel drops the session's pending timer and in-flight suggestion.
func (e *Engine) Cancel(sessionID string) {
	e.mu.Lock()
	if p, ok := e.pending[sessionID]; ok {
		p.timer.Stop()
		delete(e.pending, sessionID)
	}
	e.mu.Unlock()
	e.coord.Cancel(sessionID, lightart.KindSuggestion)
}

// Suggest submits immediately, without debounce, and waits for the result.
// It returns coord.ErrSuperseded if a newer request for the session replaced it.
func (e *Engine) Suggest(ctx context.Context, in lightart.InputState, ec lightart.EditContext) (lightart.SuggestionResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return lightart.SuggestionResult{}, &lightart.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	e.mu.Lock()
	if p, ok := e.pending[in.SessionID]; ok {
		p.timer.Stop()
		delete(e.pending, in.SessionID)
	}
	e.mu.Unlock()

	start := time.Now()
	h := e.submit(in, ec)
	out, err := h.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			h.Cancel()
		}
		return lightart.SuggestionResult{}, err
	}
	return lightart.SuggestionResult{
		SessionID:  in.SessionID,
		RequestID:  h.ID,
		Candidates: e.decodeCandidates(out),
		Latency:    time.Since(start),
	}, nil
}

// Result converts an applied coordinator outcome into a SuggestionResult.
func (e *Engine) Result(o coord.Outcome) lightart.SuggestionResult {
	return lightart.SuggestionResult{
		SessionID:  o.SessionID,
		RequestID:  o.RequestID,
		Candidates: e.decodeCandidates(o.Output),
		Latency:    o.Latency,
	}
}

func (e *Engine) submit(in lightart.InputState, ec lightart.EditContext) *coord.Handle {
	return e.coord.Submit(in.SessionID, lightart.KindSuggestion, func(ctx context.Context) (string, error) {
		candidates, err := e.candidates(ctx, in, ec)
		if err != nil {
			return "", err
		}
		// Candidates may span lines, so they travel as a JSON array.
		data, err := json.Marshal(candidates)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
}

// candidates returns ranked full-text candidates for the input.
func (e *Engine) candidates(ctx context.Context, in lightart.InputState, ec lightart.EditContext) ([]string, error) {
	before, after := splitAtCursor(in.Text, in.CursorPos)
	key := before + "\x00" + after + "\x00" + editctx.Key(ec)
	query := before
	if strings.TrimSpace(query) == "" {
		query = after
	}

	if e.cache != nil {
		if item := e.cache.Get(key); item != nil {
			slog.Debug("suggestion cache hit", "session", in.SessionID)
			return item.Value(), nil
		}
	}

	vocabulary := ec.Vocabulary
	if e.catalog.Enabled() && e.vocabularyTopK > 0 {
		vocabulary = e.catalog.Narrow(ctx, query, vocabulary, e.vocabularyTopK)
	}

	prompt := generate.Prompt{
		System: e.templates.Suggest(generate.SuggestData{
			Vocabulary:    vocabulary,
			MaxWords:      maxContinuationWords,
			MaxCandidates: e.maxSuggestions,
		}),
		User:      buildUserMessage(before, after, ec),
		MaxTokens: e.maxTokens,
	}
	slog.Debug("suggest prompt", "system", prompt.System, "user", prompt.User)

	output, err := e.model.Invoke(ctx, prompt)
	if err != nil {
		return nil, err
	}

	conts := parseContinuations(output)
	full := make([]string, 0, len(conts))
	for _, c := range conts {
		full = append(full, joinContinuation(before, after, c))
	}
	ranked := Rank(full, e.maxSuggestions)

	if e.cache != nil && len(ranked) > 0 {
		e.cache.Set(key, ranked, ttlcache.DefaultTTL)
	}
	return ranked, nil
}

// buildUserMessage renders the edit context and the typed text. A cursor
// inside the text is marked with █.
func buildUserMessage(before, after string, ec lightart.EditContext) string {
	var sb strings.Builder
	if desc := editctx.Describe(ec); desc != "" {
		sb.WriteString(desc)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Complete: ")
	sb.WriteString(before)
	if after != "" {
		sb.WriteString("█")
		sb.WriteString(after)
	}
	return sb.String()
}

// splitAtCursor splits text at the cursor. The cursor is clamped into the
// text; a cursor inside a rune moves back to its start.
func splitAtCursor(text string, cursor int) (string, string) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(text) {
		cursor = len(text)
	}
	for cursor < len(text) && cursor > 0 && !utf8.RuneStart(text[cursor]) {
		cursor--
	}
	return text[:cursor], text[cursor:]
}

// decodeCandidates reads the JSON array produced by submit and ranks it
// again, so a result is deduplicated and capped whatever path produced it.
func (e *Engine) decodeCandidates(out string) []string {
	var list []string
	if out != "" {
		if err := json.Unmarshal([]byte(out), &list); err != nil {
			slog.Warn("undecodable suggestion result", "error", err)
		}
	}
	return Rank(list, e.maxSuggestions)
}
