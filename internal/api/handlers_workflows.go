package api

import (
	"net/http"

	"github.com/clawbot/coordinator/internal/coordinator"
)

// handleWorkflows handles GET/POST /api/v1/workflows
func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.coord.ListWorkflows(r.Context())
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var req struct {
			Name        string                        `json:"name"`
			Description string                        `json:"description"`
			Metadata    map[string]any                `json:"metadata"`
			Tasks       []coordinator.CreateTaskInput `json:"tasks"`
		}
		if err := s.parseJSON(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		wf, err := s.coord.CreateWorkflow(r.Context(), req.Name, req.Description, req.Metadata, req.Tasks)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, wf)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleWorkflow handles /api/v1/workflows/{id} plus the start and
// cancel sub-actions.
func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	id := s.extractID(r.URL.Path, "/api/v1/workflows")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Workflow ID required")
		return
	}
	action := s.subAction(r.URL.Path, "/api/v1/workflows", id)

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			wf, err := s.coord.GetWorkflow(r.Context(), id)
			if err != nil {
				s.respondDomainError(w, err)
				return
			}
			s.respondJSON(w, http.StatusOK, wf)

		case http.MethodDelete:
			cascade := r.URL.Query().Get("cascade") == "true"
			if err := s.coord.DeleteWorkflow(r.Context(), id, cascade); err != nil {
				s.respondDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	case "tasks":
		if r.Method != http.MethodGet {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		wf, err := s.coord.GetWorkflow(r.Context(), id)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, wf.Tasks)

	case "start":
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		dispatched, err := s.coord.StartWorkflow(r.Context(), id)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"workflow_id": id,
			"dispatched":  dispatched,
		})

	case "cancel":
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		cancelled, err := s.coord.CancelWorkflow(r.Context(), id)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"workflow_id": id,
			"cancelled":   cancelled,
		})

	default:
		s.respondError(w, http.StatusNotFound, "Unknown workflow action: "+action)
	}
}
