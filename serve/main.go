// Command lightartd is the lightart daemon.
// It listens on a Unix domain socket for editing sessions from the photo
// editor, turns typed prompts into suggestions and refined instructions, and
// optionally serves a one-shot HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/generate"
	"github.com/Paranoid-AF/lightart/index"
	"github.com/Paranoid-AF/lightart/journal"
	"github.com/Paranoid-AF/lightart/session"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "log every event and signal to stderr")
	socketFlag := flag.String("socket", "", "socket path (default $LIGHTART_SOCKET or the runtime dir)")
	httpFlag := flag.String("http", "", "HTTP listen address, e.g. 127.0.0.1:8765 (default from config)")
	flag.Parse()

	if *showVersion {
		fmt.Println("lightartd", Version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := lightart.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "path", lightart.ConfigPath(), "error", err)
		os.Exit(1)
	}
	for _, w := range lightart.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	socketPath := *socketFlag
	if socketPath == "" {
		socketPath = resolveSocketPath()
	}
	httpAddr := *httpFlag
	if httpAddr == "" {
		httpAddr = cfg.Server.HTTPAddr
	}

	slog.Info("starting", "socket", socketPath, "http", httpAddr)

	ctx := context.Background()
	d, err := newDaemon(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	srv, err := NewServer(socketPath, d.manager)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		d.manager.Close()
		d.close()
		os.Exit(1)
	}

	var httpSrv *http.Server
	if httpAddr != "" {
		httpSrv = &http.Server{
			Addr:              httpAddr,
			Handler:           newHTTPHandler(d.manager, d.analyzer, d.model, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	var once sync.Once
	shutdown := func() {
		once.Do(func() {
			if httpSrv != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				httpSrv.Shutdown(sctx)
				cancel()
			}
			srv.Close()
			d.close()
		})
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("shutting down")
		shutdown()
		os.Exit(0)
	}()

	slog.Info("ready")
	if err := srv.Serve(); err != nil {
		slog.Error("server error", "error", err)
		shutdown()
		os.Exit(1)
	}
}

// daemon holds the long-lived collaborators built from config.
type daemon struct {
	model     modelInfo
	manager   *session.Manager
	analyzer  Analyzer
	catalog   *index.Catalog
	catalogAt string
	journal   *journal.Store
}

func newDaemon(ctx context.Context, cfg *lightart.Config) (*daemon, error) {
	d := &daemon{model: modelInfo{
		Loaded:   true,
		Provider: lightart.ResolveGenerationProvider(cfg),
		Model:    lightart.ResolveGenerationModel(cfg),
	}}

	model, err := generate.NewModel(ctx, cfg)
	switch {
	case errors.Is(err, generate.ErrNotConfigured):
		slog.Warn("generation model not configured; requests will fail until it is")
		d.model.Loaded = false
		model = generate.ModelFunc(func(context.Context, generate.Prompt) (string, error) {
			return "", generate.ErrNotConfigured
		})
	case err != nil:
		return nil, fmt.Errorf("create model: %w", err)
	}

	if lightart.EmbeddingEnabled(cfg) {
		d.catalog = index.NewCatalog(index.NewEmbedder(
			lightart.ResolveEmbeddingBaseURL(cfg),
			lightart.ResolveEmbeddingAPIKey(cfg),
			lightart.ResolveEmbeddingModel(cfg),
		))
		d.catalogAt = filepath.Join(lightart.DataDir(), "vocabulary.json")
		if err := d.catalog.LoadCache(d.catalogAt); err != nil {
			slog.Warn("failed to load vocabulary cache", "path", d.catalogAt, "error", err)
		}
		slog.Info("vocabulary index enabled", "phrases", d.catalog.Len())
	}

	var j session.Journal
	if !cfg.Journal.Disabled {
		store, err := journal.Open(lightart.JournalPath(cfg))
		if err != nil {
			slog.Warn("edit journal disabled", "error", err)
		} else {
			d.journal = store
			j = store
		}
	}

	if key := lightart.ResolveAnalyzeAPIKey(cfg); key != "" {
		a, err := generate.NewAnalyzer(ctx, key, cfg.Generation.AnalyzeModel)
		if err != nil {
			slog.Warn("image analysis disabled", "error", err)
		} else {
			d.analyzer = a
		}
	}

	d.manager = session.NewManager(session.Options{
		Config:    cfg,
		Model:     model,
		Templates: generate.LoadTemplates(),
		Catalog:   d.catalog,
		Journal:   j,
	})
	return d, nil
}

// close persists the vocabulary index and closes the journal. The manager is
// owned by the socket server.
func (d *daemon) close() {
	if d.catalog != nil && d.catalog.Len() > 0 {
		if err := d.catalog.SaveCache(d.catalogAt); err != nil {
			slog.Warn("failed to save vocabulary cache", "error", err)
		}
	}
	if d.journal != nil {
		d.journal.Close()
	}
}

func resolveSocketPath() string {
	if path := os.Getenv("LIGHTART_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/lightart.sock"
	}
	return fmt.Sprintf("/tmp/lightart-%d.sock", os.Getuid())
}
