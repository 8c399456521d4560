package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"

	lightart "github.com/Paranoid-AF/lightart"
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// LineSession is the input side of an editing session. Every keystroke is
// forwarded so the session can schedule suggestions.
type LineSession interface {
	State() lightart.InputState
	SetInput(text string, cursor int)
	Type(text string)
	Backspace()
	MoveCursor(pos int)
}

// Editor is a raw-mode line editor that renders the session's top suggestion
// as dim ghost text after the cursor. Tab accepts it.
// It reads from /dev/tty so it works even when stdout is redirected.
type Editor struct {
	tty      *os.File
	oldState *term.State

	mu     sync.Mutex // guards the fields below and writes to tty
	prompt string
	text   string
	cursor int
	ghost  string // full-text suggestion extending text, or ""
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Editor{tty: tty, oldState: old}, nil
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Printf writes to the terminal without tearing the line being edited.
func (e *Editor) Printf(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.tty, format, args...)
}

// ShowSuggestions sets the ghost text from ranked candidates. Candidates that
// do not extend the current text are ignored.
func (e *Editor) ShowSuggestions(candidates []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prompt == "" {
		return // not reading a line
	}
	e.ghost = ""
	for _, c := range candidates {
		if len(c) > len(e.text) && strings.HasPrefix(c, e.text) {
			e.ghost = c
			break
		}
	}
	e.redrawLocked()
}

// ReadLine reads one line, forwarding every edit to s. It returns the final
// text and cursor. io.EOF is returned on Ctrl-D with empty input.
func (e *Editor) ReadLine(prompt string, s LineSession) (string, int, error) {
	s.SetInput("", 0)
	e.sync(prompt, s)
	defer func() {
		e.mu.Lock()
		e.prompt = ""
		e.mu.Unlock()
	}()

	for {
		var b [1]byte
		if _, err := e.tty.Read(b[:]); err != nil {
			return "", 0, err
		}

		switch b[0] {
		case 3: // Ctrl-C
			e.Printf("\r\n")
			return "", 0, ErrInterrupt

		case 4: // Ctrl-D
			if s.State().Text == "" {
				e.Printf("\r\n")
				return "", 0, io.EOF
			}

		case 13, 10: // Enter
			e.mu.Lock()
			e.ghost = ""
			e.redrawLocked()
			e.mu.Unlock()
			e.Printf("\r\n")
			st := s.State()
			return st.Text, st.CursorPos, nil

		case 9: // Tab accepts the ghost text
			e.mu.Lock()
			ghost := e.ghost
			e.mu.Unlock()
			if ghost != "" {
				s.SetInput(ghost, len(ghost))
			}

		case 127, 8: // Backspace / Ctrl-H
			s.Backspace()

		case 1: // Ctrl-A (Home)
			s.MoveCursor(0)

		case 5: // Ctrl-E (End)
			s.MoveCursor(len(s.State().Text))

		case 21: // Ctrl-U (clear line)
			s.SetInput("", 0)

		case 27: // Escape sequence
			e.readEscape(s)

		default: // Printable character
			if b[0] >= 32 {
				ch := []byte{b[0]}
				if n := runeLen(b[0]); n > 1 {
					tmp := make([]byte, n-1)
					e.tty.Read(tmp)
					ch = append(ch, tmp...)
				}
				s.Type(string(ch))
			}
		}

		e.sync(prompt, s)
	}
}

// readEscape handles cursor movement and delete sequences.
func (e *Editor) readEscape(s LineSession) {
	var esc [3]byte
	if n, _ := e.tty.Read(esc[:1]); n == 0 || esc[0] != '[' {
		return
	}
	if n, _ := e.tty.Read(esc[1:2]); n == 0 {
		return
	}
	st := s.State()
	switch esc[1] {
	case 'D': // Left
		if st.CursorPos > 0 {
			_, size := utf8.DecodeLastRuneInString(st.Text[:st.CursorPos])
			s.MoveCursor(st.CursorPos - size)
		}
	case 'C': // Right
		if st.CursorPos < len(st.Text) {
			_, size := utf8.DecodeRuneInString(st.Text[st.CursorPos:])
			s.MoveCursor(st.CursorPos + size)
		}
	case 'H': // Home
		s.MoveCursor(0)
	case 'F': // End
		s.MoveCursor(len(st.Text))
	case '3': // Delete key: \x1b[3~
		e.tty.Read(esc[2:3])
		if st.CursorPos < len(st.Text) {
			_, size := utf8.DecodeRuneInString(st.Text[st.CursorPos:])
			s.SetInput(st.Text[:st.CursorPos]+st.Text[st.CursorPos+size:], st.CursorPos)
		}
	case '1': // Home: \x1b[1~
		e.tty.Read(esc[2:3])
		s.MoveCursor(0)
	case '4': // End: \x1b[4~
		e.tty.Read(esc[2:3])
		s.MoveCursor(len(st.Text))
	}
}

// sync copies the session state and redraws. Ghost text that no longer
// extends the text is dropped.
func (e *Editor) sync(prompt string, s LineSession) {
	st := s.State()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prompt = prompt
	e.text = st.Text
	e.cursor = st.CursorPos
	if !strings.HasPrefix(e.ghost, e.text) || len(e.ghost) <= len(e.text) {
		e.ghost = ""
	}
	e.redrawLocked()
}

func (e *Editor) redrawLocked() {
	var tail string
	if e.ghost != "" && e.cursor == len(e.text) {
		tail = e.ghost[len(e.text):]
	}
	// \r = carriage return, \x1b[K = clear to end of line, \x1b[2m = dim
	fmt.Fprintf(e.tty, "\r\x1b[K%s%s", e.prompt, e.text)
	if tail != "" {
		fmt.Fprintf(e.tty, "\x1b[2m%s\x1b[0m", tail)
	}

	// Move cursor back to the edit position
	if back := utf8.RuneCountInString(e.text[e.cursor:]) + utf8.RuneCountInString(tail); back > 0 {
		fmt.Fprintf(e.tty, "\x1b[%dD", back)
	}
}

// runeLen returns the expected byte length of a UTF-8 sequence from its
// leading byte.
func runeLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	default:
		return 4
	}
}
