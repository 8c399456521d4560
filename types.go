package lightart

import "time"

// Request kinds tracked independently per session.
const (
	KindSuggestion = "suggestion"
	KindRefinement = "refinement"
)

// InputState is the evolving prompt text of one session.
type InputState struct {
	Text      string `json:"text"`
	CursorPos int    `json:"cursor_pos"`
	SessionID string `json:"session_id"`
}

// EditDescriptor describes one edit applied to an image.
type EditDescriptor struct {
	// Kind is a short category such as "exposure" or "grade".
	Kind string `json:"kind"`
	// Instruction is the natural-language instruction that produced the edit.
	Instruction string `json:"instruction"`
	// AppliedAt is when the edit was applied. Zero when unknown.
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

// ImageState is the raw image state supplied by the UI layer.
type ImageState struct {
	ImageID    string
	Tags       []string
	Edits      []EditDescriptor // oldest first
	Vocabulary []string
}

// EditContext is an immutable, bounded snapshot of the editing state used to
// condition model requests. Treat it as a value: never mutate its slices.
type EditContext struct {
	ImageID     string           `json:"image_id,omitempty"`
	ImageTags   []string         `json:"image_tags,omitempty"`   // sorted, unique
	RecentEdits []EditDescriptor `json:"recent_edits,omitempty"` // most recent last
	Vocabulary  []string         `json:"vocabulary,omitempty"`
}

// SuggestionRequest is one autocomplete request for a session.
type SuggestionRequest struct {
	SessionID     string
	InputSnapshot string
	Context       EditContext
	RequestID     uint64
}

// SuggestionResult carries ranked candidates for an applied suggestion request.
type SuggestionResult struct {
	SessionID  string
	RequestID  uint64
	Candidates []string // best first
	Latency    time.Duration
}

// RefinementRequest is one expand-prompt request for a session.
type RefinementRequest struct {
	SessionID string
	Prompt    string
	Context   EditContext
	RequestID uint64
}

// RefinementResult carries the refined prompt for an applied refinement request.
type RefinementResult struct {
	SessionID string
	RequestID uint64
	Text      string
	Truncated bool
	Latency   time.Duration
}
