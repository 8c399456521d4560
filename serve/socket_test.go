package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/generate"
)

func TestResolveSocketPath(t *testing.T) {
	tests := []struct {
		name     string
		socket   string
		runtime  string
		expected string
	}{
		{"LIGHTART_SOCKET", "/custom/lightart.sock", "/run/user/1000", "/custom/lightart.sock"},
		{"XDG_RUNTIME_DIR", "", "/run/user/1000", "/run/user/1000/lightart.sock"},
		{"fallback", "", "", fmt.Sprintf("/tmp/lightart-%d.sock", os.Getuid())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LIGHTART_SOCKET", tt.socket)
			t.Setenv("XDG_RUNTIME_DIR", tt.runtime)
			if got := resolveSocketPath(); got != tt.expected {
				t.Errorf("resolveSocketPath() = %s, expected %s (should match editor plugin)", got, tt.expected)
			}
		})
	}
}

func TestNewDaemonWithoutModel(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("LIGHTART_DATA_DIR", dataDir)
	t.Setenv("LIGHTART_GENERATION_PROVIDER", "")
	t.Setenv("LIGHTART_GENERATION_API_KEY", "")
	t.Setenv("LIGHTART_GENERATION_API_BASE_URL", "")
	t.Setenv("LIGHTART_ANALYZE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LIGHTART_EMBEDDING_API_KEY", "")
	t.Setenv("LIGHTART_EMBEDDING_API_BASE_URL", "")

	cfg := lightart.DefaultConfig()
	cfg.Generation.BaseURL = ""
	d, err := newDaemon(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		d.manager.Close()
		d.close()
	}()

	if d.model.Loaded {
		t.Error("expected model reported as not loaded")
	}
	if d.analyzer != nil {
		t.Error("expected analyzer disabled without a Gemini key")
	}
	if d.catalog != nil {
		t.Error("expected vocabulary index disabled without embedding settings")
	}
	if d.journal == nil {
		t.Fatal("expected journal to be opened")
	}
	if _, err := os.Stat(filepath.Join(dataDir, "journal.db")); err != nil {
		t.Errorf("expected journal file: %v", err)
	}

	_, err = d.manager.RefineOnce(context.Background(), "", "warmer", lightart.ImageState{})
	if !errors.Is(err, generate.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
