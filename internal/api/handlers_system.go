package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/clawbot/coordinator/internal/logging"
)

// handleHealth handles GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	overall := "healthy"
	deps := make(map[string]string)

	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		overall = "unhealthy"
		deps["database"] = err.Error()
	} else {
		deps["database"] = "connected (" + time.Since(start).Round(time.Millisecond).String() + ")"
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}

	s.respondJSON(w, status, map[string]any{
		"status":         overall,
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"connections":    len(s.hub.Connections()),
		"dependencies":   deps,
	})
}

// handleReady handles GET /api/v1/ready
//
// Readiness is stricter than liveness: the coordinator is not ready
// until the store answers, so load balancers hold traffic during
// startup and database outages.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ready": true})
}

// handleLogs handles GET /api/v1/logs?limit=&source=
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	source := r.URL.Query().Get("source")

	entries := []logging.Entry{}
	if s.logs != nil {
		entries = s.logs.Recent(limit, source)
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"logs":  entries,
		"count": len(entries),
	})
}
