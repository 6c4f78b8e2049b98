package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents where a task is in its lifecycle.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task timeout bounds in seconds.
const (
	MinTaskTimeout     = 1
	MaxTaskTimeout     = 3600
	DefaultTaskTimeout = 300
)

// Task represents a unit of work dispatched to a single bot.
type Task struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Status         TaskStatus     `json:"status"`
	AssignedBot    string         `json:"assigned_bot,omitempty"`
	Capability     string         `json:"capability,omitempty"`
	Result         string         `json:"result,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	AssignedAt     *time.Time     `json:"assigned_at,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// NewTask creates a pending task. A zero timeout takes the default;
// anything outside [MinTaskTimeout, MaxTaskTimeout] is rejected.
func NewTask(title, description string, payload map[string]any, timeoutSeconds int) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if timeoutSeconds == 0 {
		timeoutSeconds = DefaultTaskTimeout
	}
	if timeoutSeconds < MinTaskTimeout || timeoutSeconds > MaxTaskTimeout {
		return nil, &ValidationError{
			Field:  "timeout_seconds",
			Reason: fmt.Sprintf("must be between %d and %d", MinTaskTimeout, MaxTaskTimeout),
		}
	}
	now := time.Now().UTC()
	return &Task{
		ID:             uuid.New().String(),
		Title:          title,
		Description:    description,
		Payload:        payload,
		Status:         TaskStatusPending,
		TimeoutSeconds: timeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Assign binds the task to a bot. Only a pending task can be assigned.
func (t *Task) Assign(botID string) error {
	if t.Status != TaskStatusPending {
		return &InvalidStateError{Action: "assign", Kind: "task", State: string(t.Status)}
	}
	if botID == "" {
		return &ValidationError{Field: "bot_id", Reason: "must not be empty"}
	}
	now := time.Now().UTC()
	t.Status = TaskStatusAssigned
	t.AssignedBot = botID
	t.AssignedAt = &now
	t.UpdatedAt = now
	return nil
}

// Start marks the assigned task as actively being worked.
func (t *Task) Start() error {
	if t.Status != TaskStatusAssigned {
		return &InvalidStateError{Action: "start", Kind: "task", State: string(t.Status)}
	}
	now := time.Now().UTC()
	t.Status = TaskStatusInProgress
	t.StartedAt = &now
	t.UpdatedAt = now
	return nil
}

// Progress records a progress report from the assigned bot. An
// assigned task starts; an in-progress task gets its timeout clock
// pushed out.
func (t *Task) Progress() error {
	switch t.Status {
	case TaskStatusAssigned:
		return t.Start()
	case TaskStatusInProgress:
		t.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return &InvalidStateError{Action: "progress", Kind: "task", State: string(t.Status)}
	}
}

// Complete finishes the task successfully. Valid from assigned or
// in_progress; the assignee is cleared so that a non-empty AssignedBot
// always means live work.
func (t *Task) Complete(result string) error {
	if t.Status != TaskStatusAssigned && t.Status != TaskStatusInProgress {
		return &InvalidStateError{Action: "complete", Kind: "task", State: string(t.Status)}
	}
	t.Result = result
	t.finish(TaskStatusCompleted)
	return nil
}

// Fail finishes the task unsuccessfully. Valid from assigned or
// in_progress.
func (t *Task) Fail(reason string) error {
	if t.Status != TaskStatusAssigned && t.Status != TaskStatusInProgress {
		return &InvalidStateError{Action: "fail", Kind: "task", State: string(t.Status)}
	}
	t.FailureReason = reason
	t.finish(TaskStatusFailed)
	return nil
}

// Cancel aborts the task. Valid from any non-terminal state.
func (t *Task) Cancel() error {
	if t.Status.Terminal() {
		return &InvalidStateError{Action: "cancel", Kind: "task", State: string(t.Status)}
	}
	t.finish(TaskStatusCancelled)
	return nil
}

func (t *Task) finish(status TaskStatus) {
	now := time.Now().UTC()
	t.Status = status
	t.AssignedBot = ""
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// Live reports whether the task is bound to a bot that should be
// working it.
func (t *Task) Live() bool {
	return t.Status == TaskStatusAssigned || t.Status == TaskStatusInProgress
}

// StaleAt returns the instant the task's timeout expires. Only
// meaningful for live tasks: the clock starts at the last status
// change, so progress reports push the deadline out.
func (t *Task) StaleAt() time.Time {
	return t.UpdatedAt.Add(time.Duration(t.TimeoutSeconds) * time.Second)
}

// Stale reports whether a live task has exceeded its timeout.
func (t *Task) Stale(now time.Time) bool {
	return t.Live() && now.After(t.StaleAt())
}
