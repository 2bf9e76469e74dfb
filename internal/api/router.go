package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Operational endpoints (no auth required)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	// Resource tree binding. Everything under "/" that is not an
	// operational endpoint is a resource address.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get(s.wsCfg.Path, s.handleWebSocket)

		r.HandleFunc("/*", s.handleResource)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleMetrics returns the per-operation request counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	snap := s.stats.Snapshot()
	elapsed := make(map[string]int64, len(snap.TotalElapsed))
	for op, d := range snap.TotalElapsed {
		elapsed[op] = d.Milliseconds()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests":   snap.Requests,
		"failures":   snap.Failures,
		"elapsed_ms": elapsed,
	})
}
