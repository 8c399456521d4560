// Package session owns the per-user editing sessions: their input buffer,
// image context and the routing of suggestion and refinement results back to
// the UI.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/coord"
	"github.com/Paranoid-AF/lightart/editctx"
	"github.com/Paranoid-AF/lightart/generate"
	"github.com/Paranoid-AF/lightart/index"
	"github.com/Paranoid-AF/lightart/refine"
	"github.com/Paranoid-AF/lightart/suggest"
)

const (
	journalTimeout = 2 * time.Second
	indexTimeout   = 30 * time.Second

	// oneShotPrefix namespaces the coordinator ids of one-shot requests so
	// they never supersede, or report to, an open session with the same id.
	oneShotPrefix = "oneshot:"
)

// Listener receives results for one session. Calls happen on coordinator
// goroutines while the coordinator is locked, so implementations must return
// quickly and must not call back into the session.
type Listener interface {
	OnSuggestions(lightart.SuggestionResult)
	OnRefinement(lightart.RefinementResult)
	OnFailed(*lightart.RequestFailed)
}

// Journal persists applied edits per image.
type Journal interface {
	Record(ctx context.Context, imageID, sessionID string, e lightart.EditDescriptor) error
	Recent(ctx context.Context, imageID string, limit int) ([]lightart.EditDescriptor, error)
}

// Options configures a Manager.
type Options struct {
	Config    *lightart.Config
	Model     generate.Model
	Templates *generate.Templates
	Catalog   *index.Catalog // nil disables vocabulary narrowing
	Journal   Journal        // nil disables persistence
}

// Manager owns the sessions and the shared request pipeline.
type Manager struct {
	cfg       *lightart.Config
	coord     *coord.Coordinator
	suggest   *suggest.Engine
	refine    *refine.Engine
	extractor *editctx.Extractor
	snapshots *editctx.Cache
	catalog   *index.Catalog
	journal   Journal

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager wires the coordinator and engines from opts.
func NewManager(opts Options) *Manager {
	cfg := opts.Config
	if cfg == nil {
		cfg = lightart.DefaultConfig()
	}
	m := &Manager{
		cfg:       cfg,
		extractor: editctx.NewExtractor(cfg.Engine.MaxContextEdits, cfg.Engine.MaxVocabulary),
		snapshots: editctx.NewCache(0),
		catalog:   opts.Catalog,
		journal:   opts.Journal,
		sessions:  make(map[string]*Session),
	}
	m.coord = coord.New(cfg.Engine.RequestTimeout(), m.dispatch)
	m.suggest = suggest.New(m.coord, opts.Model, suggest.Options{
		Debounce:       cfg.Engine.Debounce(),
		MaxSuggestions: cfg.Engine.MaxSuggestions,
		MaxTokens:      cfg.Generation.MaxTokens,
		CacheTTL:       cfg.Engine.CacheTTL(),
		VocabularyTopK: cfg.Embedding.TopK,
		Templates:      opts.Templates,
		Catalog:        opts.Catalog,
	})
	m.refine = refine.New(m.coord, opts.Model, refine.Options{
		MaxLength: cfg.Engine.MaxRefinementLength,
		MaxTokens: cfg.Generation.RefineMaxTokens,
		Templates: opts.Templates,
	})
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *lightart.Config { return m.cfg }

// dispatch routes an applied outcome to its session's listener.
func (m *Manager) dispatch(o coord.Outcome) {
	m.mu.RLock()
	s, ok := m.sessions[o.SessionID]
	var l Listener
	if ok {
		l = s.listener
	}
	m.mu.RUnlock()
	if l == nil {
		return
	}

	if o.Err != nil {
		var rf *lightart.RequestFailed
		if errors.As(o.Err, &rf) {
			l.OnFailed(rf)
		}
		return
	}
	switch o.Kind {
	case lightart.KindSuggestion:
		l.OnSuggestions(m.suggest.Result(o))
	case lightart.KindRefinement:
		l.OnRefinement(m.refine.Result(o))
	}
}

// Open returns the session with id, creating it if needed, and attaches l.
// An empty id, or one in the one-shot namespace, creates a session with a
// fresh UUID. Reopening an existing id keeps its buffer and context and
// replaces the listener.
func (m *Manager) Open(id string, l Listener) *Session {
	if id == "" || strings.HasPrefix(id, oneShotPrefix) {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.listener = l
		return s
	}
	s := &Session{ID: id, m: m, listener: l}
	m.sessions[id] = s
	slog.Debug("session opened", "session", id)
	return s
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) closeSession(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.suggest.Cancel(id)
	m.coord.CloseSession(id)
	slog.Debug("session closed", "session", id)
}

// Snapshot derives an EditContext for img, filling in remembered edits and
// vocabulary for known images.
func (m *Manager) Snapshot(ctx context.Context, img lightart.ImageState) lightart.EditContext {
	if img.ImageID != "" {
		if len(img.Edits) == 0 && m.journal != nil {
			jctx, cancel := context.WithTimeout(ctx, journalTimeout)
			edits, err := m.journal.Recent(jctx, img.ImageID, m.cfg.Engine.MaxContextEdits)
			cancel()
			if err != nil {
				slog.Warn("failed to read journal", "image", img.ImageID, "error", err)
			}
			img.Edits = edits
		}
		if len(img.Vocabulary) == 0 {
			if prev, ok := m.snapshots.Get(img.ImageID); ok {
				img.Vocabulary = prev.Vocabulary
			}
		}
	}
	ec := m.extractor.Snapshot(img)
	m.snapshots.Put(ec)
	m.indexVocabulary(ec.Vocabulary)
	return ec
}

// indexVocabulary embeds unseen phrases in the background so later
// suggestions can narrow the vocabulary to the typed text.
func (m *Manager) indexVocabulary(vocabulary []string) {
	if !m.catalog.Enabled() || len(vocabulary) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := m.catalog.Add(ctx, vocabulary); err != nil {
			slog.Warn("failed to index vocabulary", "error", err)
		}
	}()
}

// RememberVocabulary stores vocabulary for imageID so later snapshots of the
// image pick it up.
func (m *Manager) RememberVocabulary(imageID string, vocabulary []string) {
	if imageID == "" {
		return
	}
	prev, _ := m.snapshots.Get(imageID)
	img := lightart.ImageState{
		ImageID:    imageID,
		Tags:       prev.ImageTags,
		Edits:      prev.RecentEdits,
		Vocabulary: vocabulary,
	}
	ec := m.extractor.Snapshot(img)
	m.snapshots.Put(ec)
	m.indexVocabulary(ec.Vocabulary)
}

// Autocomplete answers a one-shot suggestion request outside any open session.
// Requests that share sessionID supersede each other, but never touch the
// open session of that id.
func (m *Manager) Autocomplete(ctx context.Context, sessionID, sentence string, img lightart.ImageState) (lightart.SuggestionResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ec := m.Snapshot(ctx, img)
	in := lightart.InputState{SessionID: oneShotPrefix + sessionID, Text: sentence, CursorPos: len(sentence)}
	res, err := m.suggest.Suggest(ctx, in, ec)
	res.SessionID = sessionID
	return res, err
}

// RefineOnce answers a one-shot refinement request outside any open session.
func (m *Manager) RefineOnce(ctx context.Context, sessionID, prompt string, img lightart.ImageState) (lightart.RefinementResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ec := m.Snapshot(ctx, img)
	res, err := m.refine.RefineSync(ctx, oneShotPrefix+sessionID, prompt, ec)
	res.SessionID = sessionID
	return res, err
}

// InFlight returns the number of tracked external requests.
func (m *Manager) InFlight() int {
	return m.coord.InFlight()
}

// Close closes every session and stops the pipeline.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.closeSession(id)
	}
	m.coord.Close()
	m.suggest.Close()
	m.snapshots.Close()
}
