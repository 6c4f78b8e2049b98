package api

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// statusRecorder captures the response status for logging and metrics.
// It forwards Hijack so the WebSocket upgrade still works behind the
// middleware chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recoveryMiddleware turns handler panics into 500s instead of taking
// the whole server down.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[API] panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				s.respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests and feeds the HTTP metrics. Probe
// and scrape endpoints are skipped so they do not drown the log ring.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/api/v1/health" || r.URL.Path == "/api/v1/ready" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		path := metricPath(r.URL.Path)
		s.metrics.RecordHTTPRequest(r.Method, path, rec.status, elapsed.Seconds())
		log.Printf("[API] %s %s %d %s", r.Method, r.URL.Path, rec.status, elapsed.Round(time.Millisecond))
	})
}

// corsMiddleware handles CORS headers and preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Server.AllowedOrigins) > 0 {
			origin := r.Header.Get("Origin")
			for _, allowed := range s.config.Server.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware guards the control plane. Operators present an X-API-Key
// matching a configured bcrypt hash or a Bearer bot token; the probe
// endpoints, the metrics scrape and the WebSocket upgrade (which
// validates its own token) stay open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/health", "/api/v1/ready", "/metrics", "/ws":
			next.ServeHTTP(w, r)
			return
		}

		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get("X-API-Key"); key != "" {
			if s.auth.VerifyAPIKey(key) {
				next.ServeHTTP(w, r)
				return
			}
			s.respondError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			if _, err := s.auth.ValidateToken(token); err == nil {
				next.ServeHTTP(w, r)
				return
			}
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		s.respondError(w, http.StatusUnauthorized, "missing credentials")
	})
}

// metricPath collapses entity IDs so the Prometheus path label stays
// bounded.
func metricPath(path string) string {
	parts := strings.Split(path, "/")
	// /api/v1/<resource>/<id>[/<action>]
	if len(parts) >= 5 && parts[1] == "api" {
		switch parts[3] {
		case "bots", "tasks", "workflows":
			if parts[4] != "" {
				parts[4] = "{id}"
				return strings.Join(parts, "/")
			}
		}
	}
	return path
}
