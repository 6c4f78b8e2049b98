package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawbot/coordinator/pkg/messages"
)

// handleWebSocket handles GET /ws?bot_id=...&token=...
//
// The upgrade is the handshake of the data plane: the bot must already
// be registered, and when auth is enabled the token subject must match
// the bot ID. The connection is handed to the hub, which owns it from
// then on.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	botID := r.URL.Query().Get("bot_id")
	if botID == "" {
		s.respondError(w, http.StatusBadRequest, "bot_id query parameter required")
		return
	}

	if _, err := s.registry.Get(r.Context(), botID); err != nil {
		s.respondDomainError(w, err)
		return
	}

	if s.auth.Enabled() {
		token := r.URL.Query().Get("token")
		if token == "" {
			// Fall back to the Authorization header for clients that
			// prefer not to put credentials in the URL.
			token = bearerToken(r)
		}
		if err := s.auth.ValidateBotToken(token, botID); err != nil {
			s.respondError(w, http.StatusUnauthorized, "Invalid bot token")
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		log.Printf("[API] WebSocket upgrade failed for bot %s: %v", botID, err)
		return
	}

	s.hub.Connect(r.Context(), botID, conn)
}

// handleConnections handles GET /api/v1/ws/connections
func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ids := s.hub.Connections()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(ids),
		"bot_ids": ids,
	})
}

// handleBroadcast handles POST /api/v1/ws/broadcast
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		s.respondError(w, http.StatusBadRequest, "Frame type required")
		return
	}

	delivered := s.hub.Broadcast(&messages.Frame{
		Type:      messages.FrameType(req.Type),
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
	})
	s.respondJSON(w, http.StatusOK, map[string]any{
		"delivered": delivered,
	})
}

// originAllowed applies the CORS origin list to WebSocket upgrades.
// Browsers send Origin; non-browser bots usually do not, and an absent
// Origin is always accepted.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
