package api

import (
	"net/http"

	"github.com/clawbot/coordinator/pkg/models"
)

// statusFor maps a domain error to its HTTP status. Unknown errors are
// internal: the taxonomy in pkg/models is the full set callers raise.
func statusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsInvalidState(err):
		return http.StatusConflict
	case models.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case models.IsForbidden(err):
		return http.StatusForbidden
	case models.IsTimeout(err):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError translates err and writes the error envelope.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	s.respondError(w, statusFor(err), err.Error())
}
