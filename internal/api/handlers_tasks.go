package api

import (
	"net/http"
	"strconv"

	"github.com/clawbot/coordinator/internal/coordinator"
	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/pkg/models"
)

// handleTasks handles GET/POST /api/v1/tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		filter := database.TaskFilter{
			Status:      models.TaskStatus(q.Get("status")),
			WorkflowID:  q.Get("workflow_id"),
			AssignedBot: q.Get("assigned_bot"),
		}
		if v := q.Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				s.respondError(w, http.StatusBadRequest, "Invalid limit: "+v)
				return
			}
			filter.Limit = limit
		}
		if v := q.Get("offset"); v != "" {
			offset, err := strconv.Atoi(v)
			if err != nil || offset < 0 {
				s.respondError(w, http.StatusBadRequest, "Invalid offset: "+v)
				return
			}
			filter.Offset = offset
		}

		list, err := s.coord.ListTasks(r.Context(), filter)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var in coordinator.CreateTaskInput
		if err := s.parseJSON(r, &in); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		task, err := s.coord.CreateTask(r.Context(), in)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, task)

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleTask handles /api/v1/tasks/{id} and the lifecycle sub-actions
// (assign, start, complete, fail, cancel).
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id := s.extractID(r.URL.Path, "/api/v1/tasks")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Task ID required")
		return
	}
	action := s.subAction(r.URL.Path, "/api/v1/tasks", id)

	if action == "" {
		switch r.Method {
		case http.MethodGet:
			task, err := s.coord.GetTask(r.Context(), id)
			if err != nil {
				s.respondDomainError(w, err)
				return
			}
			s.respondJSON(w, http.StatusOK, task)

		case http.MethodDelete:
			if err := s.coord.DeleteTask(r.Context(), id); err != nil {
				s.respondDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch action {
	case "assign":
		var req struct {
			BotID string `json:"bot_id"`
		}
		// Body is optional; an empty one means auto-select.
		if r.Body != nil && r.ContentLength != 0 {
			if err := s.parseJSON(r, &req); err != nil {
				s.respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
		}
		task, err := s.coord.AssignTask(r.Context(), id, req.BotID)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, task)

	case "start":
		if err := s.coord.ReportProgress(r.Context(), id, ""); err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondTask(w, r, id)

	case "complete":
		var req struct {
			Result string `json:"result"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := s.parseJSON(r, &req); err != nil {
				s.respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
		}
		task, err := s.coord.CompleteTask(r.Context(), id, "", req.Result)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, task)

	case "fail":
		var req struct {
			Reason string `json:"reason"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := s.parseJSON(r, &req); err != nil {
				s.respondError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "failed by operator"
		}
		task, err := s.coord.FailTask(r.Context(), id, "", req.Reason)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, task)

	case "cancel":
		task, err := s.coord.CancelTask(r.Context(), id)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, task)

	default:
		s.respondError(w, http.StatusNotFound, "Unknown task action: "+action)
	}
}

// respondTask re-reads a task and writes it, for actions whose
// coordinator call does not return the updated record.
func (s *Server) respondTask(w http.ResponseWriter, r *http.Request, id string) {
	task, err := s.coord.GetTask(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}
