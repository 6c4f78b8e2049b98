package api

import (
	"net/http"
)

// handleAuthToken handles POST /api/v1/auth/token
//
// Re-mints the connection token for a registered bot. The caller has
// already passed API auth, so this is an operator action: it covers
// bots that lost the token from their register response.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req struct {
		BotID string `json:"bot_id"`
	}
	if err := s.parseJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.BotID == "" {
		s.respondError(w, http.StatusBadRequest, "bot_id is required")
		return
	}

	bot, err := s.registry.Get(r.Context(), req.BotID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	token, err := s.auth.BotToken(bot.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"bot_id": bot.ID,
		"token":  token,
	})
}
