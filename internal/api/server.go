// Package api is the HTTP control plane: REST endpoints for bots,
// tasks and workflows, the WebSocket upgrade for the data plane, and
// the operational surface (health, readiness, logs, metrics).
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clawbot/coordinator/internal/auth"
	"github.com/clawbot/coordinator/internal/bots"
	"github.com/clawbot/coordinator/internal/coordinator"
	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/internal/hub"
	"github.com/clawbot/coordinator/internal/logging"
	"github.com/clawbot/coordinator/internal/metrics"
	"github.com/clawbot/coordinator/pkg/config"
)

// Server wires the coordinator's components to HTTP routes.
type Server struct {
	registry *bots.Registry
	coord    *coordinator.Coordinator
	hub      *hub.Hub
	store    database.Store
	auth     *auth.Manager
	logs     *logging.Manager
	config   *config.Config
	metrics  *metrics.Metrics
	started  time.Time
}

// NewServer creates the API server. logs may be nil; the logs endpoint
// then serves an empty list.
func NewServer(registry *bots.Registry, coord *coordinator.Coordinator, h *hub.Hub, store database.Store, authMgr *auth.Manager, logs *logging.Manager, cfg *config.Config) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if authMgr == nil {
		authMgr = auth.NewManager(cfg.Security)
	}
	return &Server{
		registry: registry,
		coord:    coord,
		hub:      h,
		store:    store,
		auth:     authMgr,
		logs:     logs,
		config:   cfg,
		metrics:  metrics.New(),
		started:  time.Now().UTC(),
	}
}

// Routes builds the full handler chain: recovery, request logging,
// CORS and auth around the route mux, with otelhttp outermost so every
// request gets a span when tracing is on.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Bots
	mux.HandleFunc("/api/v1/bots", s.handleBots)
	mux.HandleFunc("/api/v1/bots/", s.handleBot)

	// Tasks
	mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	mux.HandleFunc("/api/v1/tasks/", s.handleTask)

	// Workflows
	mux.HandleFunc("/api/v1/workflows", s.handleWorkflows)
	mux.HandleFunc("/api/v1/workflows/", s.handleWorkflow)

	// Data plane
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/v1/ws/connections", s.handleConnections)
	mux.HandleFunc("/api/v1/ws/broadcast", s.handleBroadcast)

	// Auth
	mux.HandleFunc("/api/v1/auth/token", s.handleAuthToken)

	// System
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/ready", s.handleReady)
	mux.HandleFunc("/api/v1/logs", s.handleLogs)
	mux.Handle("/metrics", promhttp.Handler())

	handler := s.authMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return otelhttp.NewHandler(handler, "api")
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error envelope.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseJSON parses a JSON request body.
func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID extracts the entity ID from a path like
// /api/v1/tasks/{id}/cancel.
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimPrefix(id, "/")
	id = strings.TrimSuffix(id, "/")

	parts := strings.Split(id, "/")
	if len(parts) > 0 {
		return parts[0]
	}
	return id
}

// subAction returns the trailing action of a path like
// /api/v1/tasks/{id}/cancel, or "" for a bare entity path.
func (s *Server) subAction(path, prefix, id string) string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimPrefix(rest, "/")
	rest = strings.TrimPrefix(rest, id)
	rest = strings.Trim(rest, "/")
	return rest
}
