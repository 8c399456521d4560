package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	lightart "github.com/Paranoid-AF/lightart"
	"github.com/Paranoid-AF/lightart/coord"
	"github.com/Paranoid-AF/lightart/generate"
	"github.com/Paranoid-AF/lightart/session"
)

const (
	maxBodyBytes  = 1 << 20
	maxImageBytes = 20 << 20
)

// Analyzer derives style vocabulary from image bytes.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte, mimeType string) (*generate.StyleSuggestions, error)
}

// modelInfo describes the generation model the daemon started with.
type modelInfo struct {
	Loaded   bool   `json:"model_loaded"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// httpAPI serves one-shot requests for clients that do not keep a socket
// session open.
type httpAPI struct {
	manager  *session.Manager
	analyzer Analyzer // nil when no Gemini key is configured
	model    modelInfo
	started  time.Time
}

func newHTTPHandler(mgr *session.Manager, analyzer Analyzer, model modelInfo, corsOrigins []string) http.Handler {
	api := &httpAPI{manager: mgr, analyzer: analyzer, model: model, started: time.Now()}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", api.handleInfo)
	mux.HandleFunc("POST /autocomplete", api.handleAutocomplete)
	mux.HandleFunc("POST /refine", api.handleRefine)
	mux.HandleFunc("POST /analyze", api.handleAnalyze)
	mux.HandleFunc("GET /health", api.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return withCORS(corsOrigins, mux)
}

// withCORS lets browser clients call the API. An empty origin list allows
// every origin.
func withCORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origin, allowed) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (a *httpAPI) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "lightart",
		"version": Version,
		"endpoints": map[string]string{
			"/autocomplete": "POST - ranked suggestions for a sentence",
			"/refine":       "POST - expand a short prompt into an editing instruction",
			"/analyze":      "POST - style vocabulary for an image",
			"/health":       "GET - model and daemon status",
			"/metrics":      "GET - Prometheus metrics",
		},
	})
}

func (a *httpAPI) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	res, err := a.manager.Autocomplete(r.Context(), req.SessionID, req.Sentence, imageState(req))
	if err != nil {
		writeJSON(w, httpStatus(err), lightart.AutocompleteResponse{Candidates: []string{}, Error: wireError(err)})
		return
	}
	writeJSON(w, http.StatusOK, lightart.AutocompleteResponse{
		RequestID:  res.RequestID,
		Candidates: res.Candidates,
		LatencyMs:  res.Latency.Milliseconds(),
	})
}

func (a *httpAPI) handleRefine(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	res, err := a.manager.RefineOnce(r.Context(), req.SessionID, req.Sentence, imageState(req))
	if err != nil {
		writeJSON(w, httpStatus(err), lightart.RefineResponse{Error: wireError(err)})
		return
	}
	writeJSON(w, http.StatusOK, lightart.RefineResponse{
		RequestID: res.RequestID,
		Text:      res.Text,
		Truncated: res.Truncated,
		LatencyMs: res.Latency.Milliseconds(),
	})
}

// handleAnalyze takes raw image bytes as the body. When ?image_id= is set the
// resulting vocabulary is remembered for later requests on that image.
func (a *httpAPI) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if a.analyzer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": &lightart.Error{Code: lightart.CodeNotConfigured, Message: "image analysis requires a Gemini API key"},
		})
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil || len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": &lightart.Error{Code: lightart.CodeInvalidRequest, Message: "request body must contain an image"},
		})
		return
	}

	suggestions, err := a.analyzer.Analyze(r.Context(), data, r.Header.Get("Content-Type"))
	if err != nil {
		slog.Warn("image analysis failed", "error", err)
		writeJSON(w, httpStatus(err), map[string]any{"error": wireError(err)})
		return
	}
	if imageID := r.URL.Query().Get("image_id"); imageID != "" {
		a.manager.RememberVocabulary(imageID, suggestions.Vocabulary())
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// handleHealth answers 503 while no generation model is configured, since
// every suggestion and refinement would fail.
func (a *httpAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if !a.model.Loaded {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"model_loaded":   a.model.Loaded,
		"provider":       a.model.Provider,
		"model":          a.model.Model,
		"sessions":       a.manager.Len(),
		"in_flight":      a.manager.InFlight(),
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
	})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*lightart.AutocompleteRequest, bool) {
	var req lightart.AutocompleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": &lightart.Error{Code: lightart.CodeInvalidRequest, Message: "invalid request body: " + err.Error()},
		})
		return nil, false
	}
	return &req, true
}

func imageState(req *lightart.AutocompleteRequest) lightart.ImageState {
	return lightart.ImageState{
		ImageID:    req.ImageID,
		Tags:       req.ImageTags,
		Edits:      req.RecentEdits,
		Vocabulary: req.Suggestions,
	}
}

// httpStatus maps pipeline errors to response codes.
func httpStatus(err error) int {
	var (
		rf   *lightart.RequestFailed
		verr *lightart.ValidationError
	)
	switch {
	case errors.Is(err, generate.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &rf):
		return http.StatusBadGateway
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, coord.ErrSuperseded):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
