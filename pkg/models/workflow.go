package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus is derived from the statuses of a workflow's member
// tasks. It is never stored; compute it with DeriveWorkflowStatus.
type WorkflowStatus string

const (
	WorkflowStatusEmpty      WorkflowStatus = "empty"
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
)

// Workflow groups tasks so their collective progress can be tracked
// and they can be dispatched together.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	TaskIDs     []string       `json:"task_ids"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewWorkflow creates an empty workflow; tasks attach afterwards.
func NewWorkflow(name, description string, metadata map[string]any) (*Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	now := time.Now().UTC()
	return &Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		TaskIDs:     []string{},
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// AddTask attaches a task ID to the workflow.
func (w *Workflow) AddTask(taskID string) {
	for _, id := range w.TaskIDs {
		if id == taskID {
			return
		}
	}
	w.TaskIDs = append(w.TaskIDs, taskID)
	w.UpdatedAt = time.Now().UTC()
}

// DeriveWorkflowStatus computes a workflow's status from its member
// tasks. Failure dominates: one failed or cancelled task fails the
// whole workflow regardless of the rest.
func DeriveWorkflowStatus(tasks []*Task) WorkflowStatus {
	if len(tasks) == 0 {
		return WorkflowStatusEmpty
	}
	completed := 0
	pending := 0
	for _, t := range tasks {
		switch t.Status {
		case TaskStatusFailed, TaskStatusCancelled:
			return WorkflowStatusFailed
		case TaskStatusCompleted:
			completed++
		case TaskStatusPending:
			pending++
		}
	}
	switch {
	case completed == len(tasks):
		return WorkflowStatusCompleted
	case pending == len(tasks):
		return WorkflowStatusPending
	default:
		return WorkflowStatusInProgress
	}
}
