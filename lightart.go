// Package lightart defines the data model and the IPC message types for the
// lightart prompt refinement daemon.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
// A connection carries one editing session: the client streams Events and the
// daemon streams Signals back as results arrive.
package lightart

// Event types sent from the client to the daemon.
const (
	EventHello  = "hello"
	EventInput  = "input"
	EventImage  = "image"
	EventRefine = "refine"
	EventApply  = "apply"
	EventCancel = "cancel"
	EventConfig = "config"
)

// Signal types sent from the daemon to the client.
const (
	SignalSession     = "session"
	SignalSuggestions = "suggestions"
	SignalRefinement  = "refinement"
	SignalFailed      = "failed"
	SignalConfig      = "config"
	SignalError       = "error"
)

// Event is sent from the UI client to the daemon.
// Only the fields relevant to Type are set.
type Event struct {
	// Type selects the event kind (see the Event* constants).
	Type string `json:"type"`
	// SessionID optionally resumes a session on "hello".
	SessionID string `json:"session_id,omitempty"`

	// Text is the current prompt content ("input").
	Text string `json:"text,omitempty"`
	// CursorPos is the byte offset of the cursor within Text ("input").
	// When omitted the cursor is at the end of Text.
	CursorPos *int `json:"cursor_pos,omitempty"`

	// ImageID identifies the image being edited ("image").
	ImageID string `json:"image_id,omitempty"`
	// Tags describe the image content ("image").
	Tags []string `json:"tags,omitempty"`
	// Edits are edits the client already applied ("image").
	Edits []EditDescriptor `json:"edits,omitempty"`
	// Vocabulary lists style phrases allowed for the image ("image").
	Vocabulary []string `json:"vocabulary,omitempty"`

	// Prompt is the short prompt to expand ("refine").
	Prompt string `json:"prompt,omitempty"`

	// Kind is the edit kind ("apply"), the request kind ("cancel") or the
	// template to return for action "default_prompt" ("config").
	Kind string `json:"kind,omitempty"`
	// Instruction is the edit instruction that was applied ("apply").
	Instruction string `json:"instruction,omitempty"`

	// Action is the config operation: "get", "defaults", "validate" or
	// "default_prompt" ("config").
	Action string `json:"action,omitempty"`
}

// Cursor returns the cursor position of an "input" event.
func (e Event) Cursor() int {
	if e.CursorPos == nil {
		return len(e.Text)
	}
	return *e.CursorPos
}

// CursorAt returns pos as an Event.CursorPos value.
func CursorAt(pos int) *int { return &pos }

// Signal is sent from the daemon back to the UI client.
type Signal struct {
	// Type selects the signal kind (see the Signal* constants).
	Type string `json:"type"`
	// SessionID is the session the signal belongs to.
	SessionID string `json:"session_id,omitempty"`
	// RequestID echoes the coordinator request id the signal answers.
	RequestID uint64 `json:"request_id,omitempty"`
	// Kind is the request kind for "failed" signals.
	Kind string `json:"kind,omitempty"`

	// Candidates are ranked suggestions, best first ("suggestions").
	Candidates []string `json:"candidates,omitempty"`
	// Text is the refined prompt ("refinement").
	Text string `json:"text,omitempty"`
	// Truncated reports whether Text was shortened ("refinement").
	Truncated bool `json:"truncated,omitempty"`
	// LatencyMs is the external call latency in milliseconds.
	LatencyMs int64 `json:"latency_ms,omitempty"`

	// Config is the configuration ("config").
	Config *Config `json:"config,omitempty"`
	// Prompt is a default prompt template ("config", action "default_prompt").
	Prompt string `json:"prompt,omitempty"`
	// Warnings contains configuration warnings ("config", action "validate").
	Warnings []string `json:"warnings,omitempty"`

	// Error is set on "failed" and "error" signals.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "validation_error", "request_failed").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// AutocompleteRequest is the body of the HTTP autocomplete and refine endpoints.
type AutocompleteRequest struct {
	// SessionID scopes supersession; requests without one never supersede each other.
	SessionID string `json:"session_id,omitempty"`
	// ImageID identifies the image so applied edits can be recalled.
	ImageID string `json:"image_id,omitempty"`
	// Sentence is the text typed so far.
	Sentence string `json:"sentence"`
	// Suggestions lists the style phrases the model may draw from.
	Suggestions []string `json:"suggestions,omitempty"`
	// ImageTags describe the image being edited.
	ImageTags []string `json:"image_tags,omitempty"`
	// RecentEdits are edits already applied to the image.
	RecentEdits []EditDescriptor `json:"recent_edits,omitempty"`
}

// AutocompleteResponse is returned by the HTTP autocomplete endpoint.
type AutocompleteResponse struct {
	RequestID  uint64   `json:"request_id"`
	Candidates []string `json:"candidates"`
	LatencyMs  int64    `json:"latency_ms"`
	Error      *Error   `json:"error,omitempty"`
}

// RefineResponse is returned by the HTTP refine endpoint.
type RefineResponse struct {
	RequestID uint64 `json:"request_id"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
	LatencyMs int64  `json:"latency_ms"`
	Error     *Error `json:"error,omitempty"`
}
