package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	lightart "github.com/Paranoid-AF/lightart"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// transcript is one REPL round: the input, the context it was interpreted
// in, the last suggestions shown and the refinement.
type transcript struct {
	Request     requestEntry     `toml:"request"`
	Context     *contextEntry    `toml:"context,omitempty"`
	Suggestions []string         `toml:"suggestions,omitempty"`
	Refinement  *refinementEntry `toml:"refinement,omitempty"`
	Error       *errorEntry      `toml:"error,omitempty"`
}

type requestEntry struct {
	Timestamp time.Time `toml:"timestamp"`
	SessionID string    `toml:"session_id"`
	Input     string    `toml:"input"`
	CursorPos int       `toml:"cursor_pos"`
}

type contextEntry struct {
	ImageID    string   `toml:"image_id,omitempty"`
	Tags       []string `toml:"tags,omitempty"`
	Applied    []string `toml:"applied,omitempty"`
	Vocabulary []string `toml:"vocabulary,omitempty"`
}

type refinementEntry struct {
	RequestID uint64 `toml:"request_id"`
	Text      string `toml:"text"`
	Truncated bool   `toml:"truncated"`
	LatencyMs int64  `toml:"latency_ms"`
}

type errorEntry struct {
	Code    string `toml:"code"`
	Message string `toml:"message"`
}

func newContextEntry(ec lightart.EditContext) *contextEntry {
	if ec.ImageID == "" && len(ec.ImageTags) == 0 && len(ec.RecentEdits) == 0 && len(ec.Vocabulary) == 0 {
		return nil
	}
	c := &contextEntry{ImageID: ec.ImageID, Tags: ec.ImageTags, Vocabulary: ec.Vocabulary}
	for _, e := range ec.RecentEdits {
		if e.Kind != "" {
			c.Applied = append(c.Applied, e.Kind+": "+e.Instruction)
		} else {
			c.Applied = append(c.Applied, e.Instruction)
		}
	}
	return c
}

// writeEntry appends t to w as one [[round]] element, so a redirected
// transcript stays a valid TOML document.
func writeEntry(w io.Writer, t transcript) error {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	doc := struct {
		Round []transcript `toml:"round"`
	}{Round: []transcript{t}}
	if err := toml.NewEncoder(w).Encode(doc); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}
