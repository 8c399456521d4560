// Command lightart-repl is an interactive test REPL for lightart suggestions
// and refinements. It uses raw terminal input so every keystroke flows through
// a real session, renders suggestions as ghost text, and writes structured
// TOML transcripts to stdout.
//
// Usage:
//
//	./lightart-repl             # interactive, TOML on screen
//	./lightart-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mvdan.cc/sh/v3/shell"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/generate"
	"github.com/Paranoid-AF/lightart/index"
	"github.com/Paranoid-AF/lightart/journal"
	"github.com/Paranoid-AF/lightart/session"
)

const prompt = "> "

const help = `commands:
  :image <id> [tag ...]     set the image being edited
  :tags <tag ...>           replace the image tags
  :vocab <phrase ...>       replace the style vocabulary (quote multi-word phrases)
  :analyze <file>           derive vocabulary from an image (needs a Gemini key)
  :apply [kind=<k>] [text]  apply text, or the last refinement
  :cancel                   cancel in-flight requests
  :quit                     exit
typing shows suggestions as ghost text (tab accepts); enter refines the line
`

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := lightart.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	model, err := generate.NewModel(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	opts := session.Options{Config: cfg, Model: model, Templates: generate.LoadTemplates()}

	// Embedding cache in project root .cache/
	var catalog *index.Catalog
	if lightart.EmbeddingEnabled(cfg) {
		cwd, _ := os.Getwd()
		cachePath := filepath.Join(cwd, ".cache", "vocabulary.json")
		catalog = index.NewCatalog(index.NewEmbedder(
			lightart.ResolveEmbeddingBaseURL(cfg),
			lightart.ResolveEmbeddingAPIKey(cfg),
			lightart.ResolveEmbeddingModel(cfg),
		))
		if err := catalog.LoadCache(cachePath); err != nil {
			slog.Debug("no vocabulary cache loaded", "error", err)
		}
		defer func() {
			if err := catalog.SaveCache(cachePath); err != nil {
				slog.Warn("failed to save vocabulary cache", "error", err)
			}
		}()
		opts.Catalog = catalog
	}
	if !cfg.Journal.Disabled {
		if j, err := journal.Open(lightart.JournalPath(cfg)); err == nil {
			defer j.Close()
			opts.Journal = j
		}
	}

	mgr := session.NewManager(opts)
	defer mgr.Close()

	r := newREPL(mgr, editor, termWriter(os.Stdout), cfg.Engine.RequestTimeout())
	if key := lightart.ResolveAnalyzeAPIKey(cfg); key != "" {
		if a, err := generate.NewAnalyzer(ctx, key, cfg.Generation.AnalyzeModel); err == nil {
			r.analyzer = a
		}
	}
	go r.renderSuggestions(editor)

	editor.Printf("\033[2J\033[H") // clear screen
	editor.Printf("lightart repl  session %s\r\n\r\n", r.sess.ID)
	editor.Printf("%s\r\n", strings.ReplaceAll(help, "\n", "\r\n"))

	for {
		text, cursor, err := editor.ReadLine(prompt, r.sess)
		if err == io.EOF || errors.Is(err, ErrInterrupt) {
			break
		}
		if err != nil {
			editor.Printf("read error: %v\r\n", err)
			break
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		if quit := r.handleLine(ctx, text, cursor); quit {
			break
		}
	}
}

// printer is where the REPL reports to the user.
type printer interface {
	Printf(format string, args ...any)
}

// outcome is a refinement result or failure delivered to the REPL.
type outcome struct {
	refinement *lightart.RefinementResult
	failed     *lightart.RequestFailed
}

func (o outcome) requestID() uint64 {
	if o.refinement != nil {
		return o.refinement.RequestID
	}
	return o.failed.RequestID
}

// replListener forwards session results to channels without blocking.
type replListener struct {
	suggestions chan lightart.SuggestionResult
	outcomes    chan outcome
}

func (l *replListener) OnSuggestions(r lightart.SuggestionResult) {
	select {
	case l.suggestions <- r:
	default:
	}
}

func (l *replListener) OnRefinement(r lightart.RefinementResult) {
	select {
	case l.outcomes <- outcome{refinement: &r}:
	default:
	}
}

func (l *replListener) OnFailed(f *lightart.RequestFailed) {
	if f.Kind == lightart.KindSuggestion {
		slog.Debug("suggestion failed", "error", f)
		return
	}
	select {
	case l.outcomes <- outcome{failed: f}:
	default:
	}
}

type repl struct {
	mgr      *session.Manager
	sess     *session.Session
	listener *replListener
	analyzer interface {
		Analyze(ctx context.Context, image []byte, mimeType string) (*generate.StyleSuggestions, error)
	}
	ui      printer
	out     io.Writer
	timeout time.Duration

	image lightart.ImageState

	mu              sync.Mutex
	lastSuggestions []string
	lastRefinement  string
}

func newREPL(mgr *session.Manager, ui printer, out io.Writer, timeout time.Duration) *repl {
	l := &replListener{
		suggestions: make(chan lightart.SuggestionResult, 8),
		outcomes:    make(chan outcome, 8),
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &repl{
		mgr:      mgr,
		sess:     mgr.Open("", l),
		listener: l,
		ui:       ui,
		out:      out,
		timeout:  timeout + time.Second,
	}
}

// renderSuggestions shows suggestion results as they arrive.
func (r *repl) renderSuggestions(e *Editor) {
	for res := range r.listener.suggestions {
		r.mu.Lock()
		r.lastSuggestions = res.Candidates
		r.mu.Unlock()
		e.ShowSuggestions(res.Candidates)
	}
}

// handleLine runs a command or refines text. It reports whether to quit.
func (r *repl) handleLine(ctx context.Context, text string, cursor int) bool {
	if strings.HasPrefix(text, ":") {
		return r.command(ctx, text)
	}
	r.refine(text, cursor)
	return false
}

func (r *repl) command(ctx context.Context, line string) bool {
	args, err := shell.Fields(line, nil)
	if err != nil || len(args) == 0 {
		r.ui.Printf("error: %v\r\n", err)
		return false
	}
	name, args := args[0], args[1:]

	switch name {
	case ":quit", ":q":
		return true

	case ":help", ":h":
		r.ui.Printf("%s\r\n", strings.ReplaceAll(help, "\n", "\r\n"))

	case ":image":
		if len(args) == 0 {
			r.ui.Printf("usage: :image <id> [tag ...]\r\n")
			return false
		}
		r.image = lightart.ImageState{ImageID: args[0], Tags: args[1:]}
		r.setImage(ctx)

	case ":tags":
		r.image.Tags = args
		r.setImage(ctx)

	case ":vocab":
		r.image.Vocabulary = args
		r.setImage(ctx)

	case ":analyze":
		if len(args) != 1 {
			r.ui.Printf("usage: :analyze <file>\r\n")
			return false
		}
		r.analyze(ctx, args[0])

	case ":apply":
		r.apply(ctx, args)

	case ":cancel":
		r.sess.Cancel("")
		r.ui.Printf("cancelled\r\n\r\n")

	default:
		r.ui.Printf("unknown command %s (try :help)\r\n", name)
	}
	return false
}

// setImage pushes the REPL's image state, keeping edits applied so far.
func (r *repl) setImage(ctx context.Context) {
	r.image.Edits = r.sess.Context().RecentEdits
	ec := r.sess.SetImage(ctx, r.image)
	r.image.Vocabulary = ec.Vocabulary
	r.ui.Printf("image %q tags=%v vocabulary=%d applied=%d\r\n\r\n",
		ec.ImageID, ec.ImageTags, len(ec.Vocabulary), len(ec.RecentEdits))
}

func (r *repl) analyze(ctx context.Context, path string) {
	if r.analyzer == nil {
		r.ui.Printf("error: image analysis needs LIGHTART_ANALYZE_API_KEY or GEMINI_API_KEY\r\n")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.ui.Printf("error: %v\r\n", err)
		return
	}
	actx, cancel := context.WithTimeout(ctx, 2*r.timeout)
	defer cancel()
	s, err := r.analyzer.Analyze(actx, data, "")
	if err != nil {
		r.ui.Printf("error: %v\r\n", err)
		return
	}
	if r.image.ImageID == "" {
		r.image.ImageID = filepath.Base(path)
	}
	r.image.Vocabulary = s.Vocabulary()
	r.mgr.RememberVocabulary(r.image.ImageID, r.image.Vocabulary)
	for _, v := range r.image.Vocabulary {
		r.ui.Printf("  - %s\r\n", v)
	}
	r.setImage(ctx)
}

func (r *repl) apply(ctx context.Context, args []string) {
	var kind string
	if len(args) > 0 && strings.HasPrefix(args[0], "kind=") {
		kind = strings.TrimPrefix(args[0], "kind=")
		args = args[1:]
	}
	instruction := strings.Join(args, " ")
	if instruction == "" {
		r.mu.Lock()
		instruction = r.lastRefinement
		r.mu.Unlock()
	}
	ec, err := r.sess.Apply(ctx, kind, instruction)
	if err != nil {
		r.ui.Printf("error: %v\r\n", err)
		return
	}
	r.image.Edits = ec.RecentEdits
	r.ui.Printf("applied (%d edits in context)\r\n\r\n", len(ec.RecentEdits))
}

// refine submits text for refinement and waits for the outcome.
func (r *repl) refine(text string, cursor int) {
	r.mu.Lock()
	shown := r.lastSuggestions
	r.mu.Unlock()

	t := transcript{
		Request: requestEntry{
			Timestamp: time.Now(),
			SessionID: r.sess.ID,
			Input:     text,
			CursorPos: cursor,
		},
		Context:     newContextEntry(r.sess.Context()),
		Suggestions: shown,
	}

	id, err := r.sess.Refine(text)
	if err != nil {
		we := lightart.ToWireError(err)
		r.ui.Printf("error [%s]: %s\r\n\r\n", we.Code, we.Message)
		t.Error = &errorEntry{Code: we.Code, Message: we.Message}
		r.writeTranscript(t)
		return
	}

	o, ok := r.await(id)
	switch {
	case !ok:
		r.ui.Printf("error: no refinement within %s\r\n\r\n", r.timeout)
		t.Error = &errorEntry{Code: lightart.CodeTimeout, Message: "no refinement received"}
	case o.failed != nil:
		we := lightart.ToWireError(o.failed)
		r.ui.Printf("error [%s]: %s\r\n\r\n", we.Code, we.Message)
		t.Error = &errorEntry{Code: we.Code, Message: we.Message}
	default:
		res := o.refinement
		r.mu.Lock()
		r.lastRefinement = res.Text
		r.mu.Unlock()
		mark := ""
		if res.Truncated {
			mark = " (truncated)"
		}
		r.ui.Printf("  %s%s\r\n  [%dms]\r\n\r\n", res.Text, mark, res.Latency.Milliseconds())
		t.Refinement = &refinementEntry{
			RequestID: res.RequestID,
			Text:      res.Text,
			Truncated: res.Truncated,
			LatencyMs: res.Latency.Milliseconds(),
		}
	}
	r.writeTranscript(t)
}

// await waits for the outcome of request id, skipping older ones.
func (r *repl) await(id uint64) (outcome, bool) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	for {
		select {
		case o := <-r.listener.outcomes:
			if o.requestID() == id {
				return o, true
			}
		case <-timer.C:
			return outcome{}, false
		}
	}
}

func (r *repl) writeTranscript(t transcript) {
	if err := writeEntry(r.out, t); err != nil {
		slog.Warn("failed to write transcript", "error", err)
	}
}
