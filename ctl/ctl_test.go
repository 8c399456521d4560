package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lightart "github.com/Paranoid-AF/lightart"
)

var sockCounter atomic.Int64

func init() {
	color.NoColor = true
}

// fakeDaemon answers each event with the signals reply returns and records
// every event it saw.
type fakeDaemon struct {
	path  string
	reply func(ev lightart.Event) []lightart.Signal

	mu     sync.Mutex
	events []lightart.Event
}

func startFakeDaemon(t *testing.T, reply func(ev lightart.Event) []lightart.Signal) *fakeDaemon {
	t.Helper()
	path := fmt.Sprintf("/tmp/lightart-ctl-t%d.sock", sockCounter.Add(1))
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() {
		ln.Close()
		os.Remove(path)
	})

	d := &fakeDaemon{path: path, reply: reply}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.serve(conn)
		}
	}()
	return d
}

func (d *fakeDaemon) serve(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var ev lightart.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return
		}
		d.mu.Lock()
		d.events = append(d.events, ev)
		d.mu.Unlock()

		if ev.Type == lightart.EventHello {
			enc.Encode(lightart.Signal{Type: lightart.SignalSession, SessionID: "s-1"})
			continue
		}
		for _, sig := range d.reply(ev) {
			enc.Encode(sig)
		}
	}
}

func (d *fakeDaemon) seen() []lightart.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]lightart.Event(nil), d.events...)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSuggest(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		if ev.Type != lightart.EventInput {
			return nil
		}
		return []lightart.Signal{
			{Type: lightart.SignalSuggestions, Candidates: []string{ev.Text + " shadows", ev.Text + " highlights"}, LatencyMs: 42},
		}
	})

	out, err := run(t, "--socket", d.path, "suggest", "--image", "img-1", "--tag", "portrait", "--vocab", "golden hour", "warm", "the")
	require.NoError(t, err)
	assert.Contains(t, out, "1. warm the shadows")
	assert.Contains(t, out, "2. warm the highlights")
	assert.Contains(t, out, "[42ms]")

	events := d.seen()
	require.Len(t, events, 3)
	assert.Equal(t, lightart.EventImage, events[1].Type)
	assert.Equal(t, "img-1", events[1].ImageID)
	assert.Equal(t, []string{"portrait"}, events[1].Tags)
	assert.Equal(t, []string{"golden hour"}, events[1].Vocabulary)
	assert.Equal(t, "warm the", events[2].Text)
	require.NotNil(t, events[2].CursorPos)
	assert.Equal(t, len("warm the"), *events[2].CursorPos)
}

func TestSuggestWithoutImageSkipsImageEvent(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		return []lightart.Signal{{Type: lightart.SignalSuggestions}}
	})

	out, err := run(t, "--socket", d.path, "suggest", "moody")
	require.NoError(t, err)
	assert.Contains(t, out, "(no suggestions)")

	events := d.seen()
	require.Len(t, events, 2)
	assert.Equal(t, lightart.EventInput, events[1].Type)
}

func TestRefine(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		if ev.Type != lightart.EventRefine {
			return nil
		}
		return []lightart.Signal{
			// Suggestions for the same session are skipped while waiting.
			{Type: lightart.SignalSuggestions, Candidates: []string{"noise"}},
			{Type: lightart.SignalRefinement, Text: "Lift the shadows and cool the midtones", Truncated: true},
		}
	})

	out, err := run(t, "--socket", d.path, "refine", "cinematic", "teal")
	require.NoError(t, err)
	assert.Contains(t, out, "Lift the shadows and cool the midtones")
	assert.Contains(t, out, "(truncated)")
	assert.NotContains(t, out, "noise")
	assert.Equal(t, "cinematic teal", d.seen()[1].Prompt)
}

func TestRefineFailed(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		return []lightart.Signal{{
			Type:  lightart.SignalFailed,
			Kind:  lightart.KindRefinement,
			Error: &lightart.Error{Code: lightart.CodeTimeout, Message: "model did not answer"},
		}}
	})

	_, err := run(t, "--socket", d.path, "refine", "warmer")
	var de *daemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, lightart.CodeTimeout, de.Code)
	assert.EqualError(t, err, "timeout: model did not answer")
}

func TestApply(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		if ev.Type == lightart.EventConfig {
			return []lightart.Signal{{Type: lightart.SignalConfig, Config: lightart.DefaultConfig()}}
		}
		return nil
	})

	out, err := run(t, "--socket", d.path, "apply", "--image", "img-7", "--kind", "color", "cool", "the", "shadows")
	require.NoError(t, err)
	assert.Contains(t, out, "applied to img-7")

	events := d.seen()
	require.Len(t, events, 4)
	assert.Equal(t, lightart.EventApply, events[2].Type)
	assert.Equal(t, "color", events[2].Kind)
	assert.Equal(t, "cool the shadows", events[2].Instruction)
}

func TestApplyRejected(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		if ev.Type == lightart.EventApply {
			return []lightart.Signal{{Type: lightart.SignalError, Error: &lightart.Error{Code: lightart.CodeValidation, Message: "invalid instruction"}}}
		}
		return []lightart.Signal{{Type: lightart.SignalConfig}}
	})

	_, err := run(t, "--socket", d.path, "apply", "--image", "img-7", " ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid instruction")
}

func TestApplyRequiresImage(t *testing.T) {
	_, err := run(t, "--socket", "/nonexistent.sock", "apply", "something")
	assert.EqualError(t, err, "--image is required")
}

func TestConfigCommands(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		sig := lightart.Signal{Type: lightart.SignalConfig}
		switch ev.Action {
		case "get", "defaults":
			sig.Config = lightart.DefaultConfig()
		case "validate":
			sig.Warnings = []string{"generation.api_key is empty"}
		case "default_prompt":
			sig.Prompt = "template for " + ev.Kind
		}
		return []lightart.Signal{sig}
	})

	out, err := run(t, "--socket", d.path, "config", "get")
	require.NoError(t, err)
	var cfg lightart.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, lightart.DefaultConfig().Engine.DebounceMs, cfg.Engine.DebounceMs)

	out, err = run(t, "--socket", d.path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "warning: generation.api_key is empty")

	out, err = run(t, "--socket", d.path, "config", "prompt", "--refine")
	require.NoError(t, err)
	assert.Equal(t, "template for "+lightart.KindRefinement, out)

	// Config requests do not open a session.
	for _, ev := range d.seen() {
		assert.NotEqual(t, lightart.EventHello, ev.Type)
	}
}

func TestConfigValidateClean(t *testing.T) {
	d := startFakeDaemon(t, func(ev lightart.Event) []lightart.Signal {
		return []lightart.Signal{{Type: lightart.SignalConfig}}
	})
	out, err := run(t, "--socket", d.path, "config", "validate")
	require.NoError(t, err)
	assert.Equal(t, "config ok\n", out)
}

func TestDaemonNotRunning(t *testing.T) {
	_, err := run(t, "--socket", "/tmp/lightart-ctl-missing.sock", "suggest", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to lightartd")
}

func TestDaemonHangsUp(t *testing.T) {
	path := fmt.Sprintf("/tmp/lightart-ctl-t%d.sock", sockCounter.Add(1))
	os.Remove(path)
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer os.Remove(path)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	_, err = run(t, "--socket", path, "suggest", "x")
	require.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	var gotQuery, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		gotQuery = r.URL.Query().Get("image_id")
		gotType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"main_suggestions":{"movie_style_suggestion":"blade runner neon"},"normal_suggestions":["wet streets"]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644))

	out, err := run(t, "analyze", "--http", strings.TrimPrefix(srv.URL, "http://"), "--image", "img 3", path)
	require.NoError(t, err)
	assert.Equal(t, "- blade runner neon\n- wet streets\n", out)
	assert.Equal(t, "img 3", gotQuery)
	assert.Equal(t, "image/png", gotType)
}

func TestAnalyzeNotConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":"not_configured","message":"image analysis requires a Gemini API key"}}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "shot.jpg")
	require.NoError(t, os.WriteFile(path, []byte("\xff\xd8\xff"), 0o644))

	_, err := run(t, "analyze", "--http", strings.TrimPrefix(srv.URL, "http://"), path)
	var de *daemonError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, lightart.CodeNotConfigured, de.Code)
}

func TestResolveSocketPath(t *testing.T) {
	t.Setenv("LIGHTART_SOCKET", "/run/custom.sock")
	assert.Equal(t, "/run/custom.sock", resolveSocketPath())

	t.Setenv("LIGHTART_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/lightart.sock", resolveSocketPath())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Equal(t, fmt.Sprintf("/tmp/lightart-%d.sock", os.Getuid()), resolveSocketPath())
}
