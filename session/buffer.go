package session

import (
	"unicode/utf8"

	lightart "github.com/Paranoid-AF/lightart"
)

// Buffer holds the evolving prompt text and cursor of one session.
// The cursor is a byte offset that always sits on a rune boundary within
// [0, len(text)]. Buffer is not safe for concurrent use.
type Buffer struct {
	text   string
	cursor int
}

// SetText replaces the text and clamps cursor into range.
func (b *Buffer) SetText(text string, cursor int) {
	b.text = text
	b.cursor = clampCursor(text, cursor)
}

// Insert inserts s at the cursor and moves the cursor past it.
func (b *Buffer) Insert(s string) {
	b.text = b.text[:b.cursor] + s + b.text[b.cursor:]
	b.cursor += len(s)
}

// Backspace deletes the rune before the cursor. It reports whether anything
// was deleted.
func (b *Buffer) Backspace() bool {
	if b.cursor == 0 {
		return false
	}
	_, size := utf8.DecodeLastRuneInString(b.text[:b.cursor])
	b.text = b.text[:b.cursor-size] + b.text[b.cursor:]
	b.cursor -= size
	return true
}

// MoveCursor moves the cursor to pos, clamped into range.
func (b *Buffer) MoveCursor(pos int) {
	b.cursor = clampCursor(b.text, pos)
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.text = ""
	b.cursor = 0
}

// Text returns the current text.
func (b *Buffer) Text() string { return b.text }

// Cursor returns the cursor offset.
func (b *Buffer) Cursor() int { return b.cursor }

// State returns a snapshot of the buffer for sessionID.
func (b *Buffer) State(sessionID string) lightart.InputState {
	return lightart.InputState{Text: b.text, CursorPos: b.cursor, SessionID: sessionID}
}

func clampCursor(text string, cursor int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > len(text) {
		return len(text)
	}
	for cursor > 0 && cursor < len(text) && !utf8.RuneStart(text[cursor]) {
		cursor--
	}
	return cursor
}
