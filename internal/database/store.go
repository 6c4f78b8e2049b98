package database

import (
	"context"
	"time"

	"github.com/clawbot/coordinator/pkg/models"
)

// BotFilter narrows ListBots results. Zero values match everything.
type BotFilter struct {
	Status     models.BotStatus
	Capability string
}

// TaskFilter narrows ListTasks results. Zero values match everything;
// Limit == 0 means no limit.
type TaskFilter struct {
	Status      models.TaskStatus
	WorkflowID  string
	AssignedBot string
	Limit       int
	Offset      int
}

// Store is the persistence boundary for bots, tasks and workflows.
// Implementations return models.NotFoundError for missing entities so
// callers can translate uniformly.
type Store interface {
	// Bots
	CreateBot(ctx context.Context, bot *models.Bot) error
	GetBot(ctx context.Context, id string) (*models.Bot, error)
	UpdateBot(ctx context.Context, bot *models.Bot) error
	DeleteBot(ctx context.Context, id string) error
	ListBots(ctx context.Context, filter BotFilter) ([]*models.Bot, error)
	// AvailableBots returns online bots with the capability (empty
	// matches all), least recently seen first.
	AvailableBots(ctx context.Context, capability string) ([]*models.Bot, error)

	// ClaimBot atomically moves an online bot to busy. Losing the race
	// (bot already busy or offline) returns models.InvalidStateError.
	ClaimBot(ctx context.Context, id string, now time.Time) error
	// ReleaseBot moves a busy bot back to online. A bot in any other
	// state is left alone; release after disconnect must not revive it.
	ReleaseBot(ctx context.Context, id string, now time.Time) error
	// TouchBot refreshes last-seen and revives an offline bot to online.
	TouchBot(ctx context.Context, id string, now time.Time) error
	// SetBotStatus unconditionally sets the status. Connection
	// lifecycle (online/offline marks) goes through here.
	SetBotStatus(ctx context.Context, id string, status models.BotStatus, now time.Time) error

	// Tasks
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	// StaleTasks returns live tasks whose own timeout elapsed before now.
	StaleTasks(ctx context.Context, now time.Time) ([]*models.Task, error)

	// Workflows
	CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)

	Ping(ctx context.Context) error
	Close() error
}

// Compile-time interface checks.
var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
