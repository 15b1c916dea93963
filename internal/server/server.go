// Package server exposes the question-answering engine over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leapstack-labs/geoquery/internal/cache"
	"github.com/leapstack-labs/geoquery/internal/workflow"
	"github.com/leapstack-labs/geoquery/pkg/core"
)

// queryEngine is the part of the workflow engine the API needs. Narrowed so
// handler tests can substitute a fake.
type queryEngine interface {
	Run(ctx context.Context, req core.QueryRequest) *core.WorkflowState
	Resume(ctx context.Context, token, clarification string) (*core.WorkflowState, error)
	SessionHistory(sessionID string) []workflow.SessionTurn
}

// Server routes HTTP requests to the engine and cache.
type Server struct {
	engine queryEngine
	store  *cache.Store
	logger *slog.Logger
}

// New creates a server. The cache store is optional; cache endpoints return
// 404 when it is absent.
func New(engine queryEngine, store *cache.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{engine: engine, store: store, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/query/{token}/resume", s.handleResume)
		r.Get("/sessions/{id}/history", s.handleSessionHistory)

		if s.store != nil {
			r.Get("/cache/stats", s.handleCacheStats)
			r.Delete("/cache", s.handleCacheClear)
		}
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req core.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	state := s.engine.Run(r.Context(), req)
	writeJSON(w, statusCodeFor(state.Status), state)
}

type resumeRequest struct {
	Clarification string `json:"clarification"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := s.engine.Resume(r.Context(), token, req.Clarification)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, statusCodeFor(state.Status), state)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      s.engine.SessionHistory(id),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.store.Clear()
	s.logger.Info("cache cleared via api")
	w.WriteHeader(http.StatusNoContent)
}

// statusCodeFor maps a workflow status to an HTTP status. Suspended runs use
// 202 so clients know to follow up with the resumption token; failures are
// still 200 because the request itself was handled.
func statusCodeFor(st core.Status) int {
	if st == core.StatusSuspended {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
