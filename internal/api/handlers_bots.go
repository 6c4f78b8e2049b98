package api

import (
	"net/http"

	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/pkg/models"
)

// handleBots handles GET/POST /api/v1/bots
func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := database.BotFilter{
			Status:     models.BotStatus(r.URL.Query().Get("status")),
			Capability: r.URL.Query().Get("capability"),
		}
		list, err := s.registry.List(r.Context(), filter)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var req struct {
			Name         string         `json:"name"`
			Capabilities []string       `json:"capabilities"`
			Metadata     map[string]any `json:"metadata"`
		}
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		bot, err := s.registry.Register(r.Context(), req.Name, req.Capabilities, req.Metadata)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}

		// The token is what the bot presents on the WebSocket upgrade.
		token, err := s.auth.BotToken(bot.ID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusCreated, map[string]any{
			"bot":   bot,
			"token": token,
		})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleBot handles /api/v1/bots/{id} plus the heartbeat sub-action.
func (s *Server) handleBot(w http.ResponseWriter, r *http.Request) {
	id := s.extractID(r.URL.Path, "/api/v1/bots")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Bot ID required")
		return
	}
	action := s.subAction(r.URL.Path, "/api/v1/bots", id)

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			bot, err := s.registry.Get(r.Context(), id)
			if err != nil {
				s.respondDomainError(w, err)
				return
			}
			s.respondJSON(w, http.StatusOK, bot)

		case http.MethodDelete:
			if err := s.registry.Deregister(r.Context(), id); err != nil {
				s.respondDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	case "heartbeat":
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if err := s.registry.Heartbeat(r.Context(), id); err != nil {
			s.respondDomainError(w, err)
			return
		}
		bot, err := s.registry.Get(r.Context(), id)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, bot)

	default:
		s.respondError(w, http.StatusNotFound, "Unknown bot action: "+action)
	}
}
