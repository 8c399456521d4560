package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	lightart "github.com/Paranoid-AF/lightart"
)

// Session is one user's editing session.
type Session struct {
	ID string

	m        *Manager
	listener Listener // guarded by m.mu

	mu    sync.Mutex
	buf   Buffer
	image lightart.ImageState
	ec    lightart.EditContext
}

// State returns the current input state.
func (s *Session) State() lightart.InputState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.State(s.ID)
}

// Context returns the current edit context snapshot.
func (s *Session) Context() lightart.EditContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ec
}

// SetInput replaces the input text and cursor and schedules suggestions.
func (s *Session) SetInput(text string, cursor int) {
	s.edit(func(b *Buffer) { b.SetText(text, cursor) })
}

// Type inserts text at the cursor and schedules suggestions.
func (s *Session) Type(text string) {
	s.edit(func(b *Buffer) { b.Insert(text) })
}

// Backspace deletes the rune before the cursor and schedules suggestions.
func (s *Session) Backspace() {
	s.edit(func(b *Buffer) { b.Backspace() })
}

// MoveCursor moves the cursor and schedules suggestions for the new position.
func (s *Session) MoveCursor(pos int) {
	s.edit(func(b *Buffer) { b.MoveCursor(pos) })
}

func (s *Session) edit(f func(*Buffer)) {
	s.mu.Lock()
	f(&s.buf)
	state := s.buf.State(s.ID)
	ec := s.ec
	s.mu.Unlock()

	s.m.suggest.OnInputChanged(state, ec)
}

// SetImage replaces the image state. Known images are completed from the
// journal and the snapshot cache. Pending suggestions are rescheduled with
// the new context.
func (s *Session) SetImage(ctx context.Context, img lightart.ImageState) lightart.EditContext {
	ec := s.m.Snapshot(ctx, img)

	s.mu.Lock()
	img.Edits = ec.RecentEdits
	if len(img.Vocabulary) == 0 {
		img.Vocabulary = ec.Vocabulary
	}
	s.image = img
	s.ec = ec
	state := s.buf.State(s.ID)
	s.mu.Unlock()

	if strings.TrimSpace(state.Text) != "" {
		s.m.suggest.OnInputChanged(state, ec)
	}
	return ec
}

// Refine submits a refinement of prompt, or of the current input when prompt
// is empty. It returns the request id, or a *lightart.ValidationError when
// there is nothing to refine.
func (s *Session) Refine(prompt string) (uint64, error) {
	s.mu.Lock()
	if strings.TrimSpace(prompt) == "" {
		prompt = s.buf.Text()
	}
	ec := s.ec
	s.mu.Unlock()

	h, err := s.m.refine.Refine(s.ID, prompt, ec)
	if err != nil {
		return 0, err
	}
	return h.ID, nil
}

// Apply records that instruction was applied to the image: the edit is
// journaled, appended to the context, and the input is cleared.
func (s *Session) Apply(ctx context.Context, kind, instruction string) (lightart.EditContext, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return lightart.EditContext{}, &lightart.ValidationError{Field: "instruction", Reason: "must not be empty"}
	}
	e := lightart.EditDescriptor{Kind: strings.TrimSpace(kind), Instruction: instruction, AppliedAt: time.Now()}

	s.mu.Lock()
	imageID := s.image.ImageID
	s.mu.Unlock()

	if imageID != "" && s.m.journal != nil {
		jctx, cancel := context.WithTimeout(ctx, journalTimeout)
		err := s.m.journal.Record(jctx, imageID, s.ID, e)
		cancel()
		if err != nil {
			slog.Warn("failed to record edit", "session", s.ID, "image", imageID, "error", err)
		}
	}

	s.m.suggest.Cancel(s.ID)

	s.mu.Lock()
	edits := append(append([]lightart.EditDescriptor(nil), s.image.Edits...), e)
	if limit := s.m.cfg.Engine.MaxContextEdits; limit > 0 && len(edits) > limit {
		edits = edits[len(edits)-limit:]
	}
	s.image.Edits = edits
	s.ec = s.m.extractor.Snapshot(s.image)
	s.buf.Clear()
	ec := s.ec
	s.mu.Unlock()

	s.m.snapshots.Put(ec)
	return ec, nil
}

// Cancel cancels in-flight requests of kind, or of every kind when kind is empty.
func (s *Session) Cancel(kind string) {
	switch kind {
	case lightart.KindSuggestion:
		s.m.suggest.Cancel(s.ID)
	case lightart.KindRefinement:
		s.m.coord.Cancel(s.ID, lightart.KindRefinement)
	default:
		s.m.suggest.Cancel(s.ID)
		s.m.coord.Cancel(s.ID, lightart.KindRefinement)
	}
}

// Close cancels the session's requests and forgets it.
func (s *Session) Close() {
	s.m.closeSession(s.ID)
}
