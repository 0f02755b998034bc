package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/n0madic/go-aiforwarder/internal/codec"
	"github.com/n0madic/go-aiforwarder/internal/config"
	"github.com/n0madic/go-aiforwarder/internal/metrics"
	"github.com/n0madic/go-aiforwarder/internal/models"
	"github.com/n0madic/go-aiforwarder/internal/pipeline"
)

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// Server is the main HTTP server.
type Server struct {
	Config     *config.ServerConfig
	Pipeline   *pipeline.Pipeline
	Registry   *models.Registry
	Metrics    *metrics.Recorder
	httpServer *http.Server
}

// New creates a new server with all routes registered. rec may be nil when
// metrics are disabled.
func New(cfg *config.ServerConfig, up pipeline.Doer, reg *models.Registry, rec *metrics.Recorder) *Server {
	s := &Server{
		Config:   cfg,
		Registry: reg,
		Metrics:  rec,
		Pipeline: &pipeline.Pipeline{
			Config:   cfg,
			Upstream: up,
			Registry: reg,
			Metrics:  rec,
			Logger:   slog.Default(),
		},
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)

	// OpenAI-compatible routes
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/responses", s.handleResponses)
	mux.HandleFunc("GET /v1/models", s.handleListModels)

	if s.Metrics != nil && s.Config.MetricsEnabled {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	// OPTIONS for CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	cfg := s.Config
	return corsMiddleware(authMiddleware(cfg, verboseMiddleware(cfg, debugMiddleware(cfg, mux))))
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	slog.Info("listening", "addr", s.httpServer.Addr, "version", config.Version)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Route handlers ---

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, codec.FormatChatCompletions)
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, codec.FormatResponses)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, format codec.Format) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	s.Pipeline.Execute(r.Context(), w, &pipeline.Request{Format: format, Body: body})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		codec.WriteOpenAIError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}
