// Package coordinator binds pending tasks to available bots and drives
// every task state transition. It is the single write path for tasks:
// operations on the same task ID are serialized through a keyed mutex,
// so assignment, bot reports, cancellation and the timeout sweeper
// never interleave on one task.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/clawbot/coordinator/internal/bots"
	"github.com/clawbot/coordinator/internal/cache"
	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/internal/events"
	"github.com/clawbot/coordinator/internal/metrics"
	"github.com/clawbot/coordinator/pkg/messages"
	"github.com/clawbot/coordinator/pkg/models"
)

// Pusher delivers frames to connected bots. *hub.Hub satisfies it; the
// indirection keeps this package off the WebSocket layer. Pushes are
// best-effort: a false return means the bot has no live connection.
type Pusher interface {
	Push(botID string, frame *messages.Frame) bool
}

// Coordinator owns task lifecycle and assignment.
type Coordinator struct {
	store     database.Store
	registry  *bots.Registry
	pusher    Pusher
	publisher events.Publisher
	results   *cache.Results
	metrics   *metrics.Metrics
	locks     *keyedMutex
}

// New creates a coordinator. pusher, publisher and results may be nil:
// pushes are then skipped, events dropped and reads always hit the
// store.
func New(store database.Store, registry *bots.Registry, pusher Pusher, publisher events.Publisher, results *cache.Results) *Coordinator {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Coordinator{
		store:     store,
		registry:  registry,
		pusher:    pusher,
		publisher: publisher,
		results:   results,
		metrics:   metrics.New(),
		locks:     newKeyedMutex(),
	}
}

// CreateTaskInput carries the fields accepted at task creation.
type CreateTaskInput struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Payload        map[string]any `json:"payload"`
	Capability     string         `json:"capability"`
	WorkflowID     string         `json:"workflow_id"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// CreateTask validates and persists a new pending task. A workflow ID,
// when given, must name an existing workflow.
func (c *Coordinator) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	task, err := models.NewTask(in.Title, in.Description, in.Payload, in.TimeoutSeconds)
	if err != nil {
		return nil, err
	}
	task.Capability = in.Capability
	if in.WorkflowID != "" {
		if _, err := c.store.GetWorkflow(ctx, in.WorkflowID); err != nil {
			return nil, err
		}
		task.WorkflowID = in.WorkflowID
	}
	if err := c.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	c.metrics.TasksCreated.Inc()
	log.Printf("[Coordinator] created task %s (%q)", task.ID, task.Title)
	c.publish(ctx, messages.TaskEvent(messages.EventTaskCreated, task.ID, "coordinator", nil))
	return task, nil
}

// GetTask returns a task, serving terminal results from the cache when
// one is configured. Terminal tasks are immutable so a hit never goes
// stale.
func (c *Coordinator) GetTask(ctx context.Context, id string) (*models.Task, error) {
	if c.results != nil {
		if task, ok := c.results.GetTask(ctx, id); ok {
			return task, nil
		}
	}
	return c.store.GetTask(ctx, id)
}

// ListTasks returns tasks matching the filter.
func (c *Coordinator) ListTasks(ctx context.Context, filter database.TaskFilter) ([]*models.Task, error) {
	return c.store.ListTasks(ctx, filter)
}

// DeleteTask removes a finished task. Live or pending tasks cannot be
// deleted; cancel them first.
func (c *Coordinator) DeleteTask(ctx context.Context, id string) error {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	task, err := c.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if !task.Status.Terminal() {
		return &models.InvalidStateError{Action: "delete", Kind: "task", State: string(task.Status)}
	}
	if err := c.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	if c.results != nil {
		c.results.Invalidate(ctx, id)
	}
	log.Printf("[Coordinator] deleted task %s", id)
	return nil
}

// AssignTask binds a pending task to a bot. With an explicit botID the
// task goes to that bot or nowhere; otherwise candidates come from the
// available pool filtered by the task's capability, least recently
// seen first. The claim is two-phase: the bot is moved to busy first,
// and rolled back to online if committing the assignment fails. Losing
// the busy claim to a concurrent assignment just moves on to the next
// candidate, so one task never commits twice.
func (c *Coordinator) AssignTask(ctx context.Context, taskID, botID string) (*models.Task, error) {
	start := time.Now()

	c.locks.Lock(taskID)
	defer c.locks.Unlock(taskID)

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusPending {
		return nil, &models.InvalidStateError{Action: "assign", Kind: "task", State: string(task.Status)}
	}

	explicit := botID != ""
	candidates, err := c.candidates(ctx, task, botID)
	if err != nil {
		return nil, err
	}

	for _, bot := range candidates {
		if err := c.registry.Claim(ctx, bot.ID); err != nil {
			if models.IsInvalidState(err) && !explicit {
				continue // lost the claim race, try the next bot
			}
			return nil, err
		}
		if err := c.commitAssignment(ctx, task, bot.ID); err != nil {
			if relErr := c.registry.Release(ctx, bot.ID); relErr != nil {
				log.Printf("[Coordinator] rollback release of bot %s: %v", bot.ID, relErr)
			}
			return nil, err
		}
		c.metrics.AssignmentLatency.Observe(time.Since(start).Seconds())
		return task, nil
	}

	reason := "no available bot"
	if task.Capability != "" {
		reason = fmt.Sprintf("no available bot with capability %q", task.Capability)
	}
	return nil, &models.UnavailableError{Reason: reason}
}

// candidates returns the bots eligible for the task. An explicit botID
// narrows the pool to that single bot after checking it carries the
// task's capability.
func (c *Coordinator) candidates(ctx context.Context, task *models.Task, botID string) ([]*models.Bot, error) {
	if botID != "" {
		bot, err := c.registry.Get(ctx, botID)
		if err != nil {
			return nil, err
		}
		if task.Capability != "" && !bot.HasCapability(task.Capability) {
			return nil, &models.UnavailableError{
				Reason: fmt.Sprintf("bot %s lacks capability %q", bot.ID, task.Capability),
			}
		}
		return []*models.Bot{bot}, nil
	}
	return c.registry.FindAvailable(ctx, task.Capability)
}

func (c *Coordinator) commitAssignment(ctx context.Context, task *models.Task, botID string) error {
	if err := task.Assign(botID); err != nil {
		return err
	}
	if err := c.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	c.metrics.RecordTransition(string(models.TaskStatusAssigned))
	log.Printf("[Coordinator] assigned task %s to bot %s", task.ID, botID)

	// Delivery is best-effort. A bot that is registered but not
	// connected keeps the assignment; the sweeper reclaims it if the
	// bot never shows up.
	c.push(botID, messages.TaskAssigned(task))
	c.publish(ctx, messages.TaskEvent(messages.EventTaskAssigned, task.ID, "coordinator",
		map[string]interface{}{"bot_id": botID}))
	return nil
}

// ReportProgress records a progress report from botID. An assigned
// task starts; an in-progress task gets its timeout clock pushed out.
// Only the assigned bot may report; an empty botID is the operator
// path and skips the ownership check.
func (c *Coordinator) ReportProgress(ctx context.Context, taskID, botID string) error {
	c.locks.Lock(taskID)
	defer c.locks.Unlock(taskID)

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := requireAssignee(task, botID); err != nil {
		return err
	}

	wasAssigned := task.Status == models.TaskStatusAssigned
	if err := task.Progress(); err != nil {
		return err
	}
	if err := c.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	if wasAssigned {
		c.metrics.RecordTransition(string(models.TaskStatusInProgress))
		log.Printf("[Coordinator] task %s started by bot %s", task.ID, task.AssignedBot)
		c.publish(ctx, messages.TaskEvent(messages.EventTaskStarted, task.ID, "coordinator",
			map[string]interface{}{"bot_id": task.AssignedBot}))
	}

	// A report is proof of life regardless of what it said.
	if botID != "" {
		if err := c.registry.Heartbeat(ctx, botID); err != nil {
			log.Printf("[Coordinator] heartbeat for bot %s: %v", botID, err)
		}
	}
	return nil
}

// CompleteTask finishes a task successfully and releases its bot.
// botID must match the assignee; empty is the operator path.
func (c *Coordinator) CompleteTask(ctx context.Context, taskID, botID, result string) (*models.Task, error) {
	return c.finishTask(ctx, taskID, botID, messages.EventTaskCompleted, func(task *models.Task) error {
		return task.Complete(result)
	})
}

// FailTask finishes a task unsuccessfully and releases its bot. botID
// must match the assignee; empty is the operator path.
func (c *Coordinator) FailTask(ctx context.Context, taskID, botID, reason string) (*models.Task, error) {
	return c.finishTask(ctx, taskID, botID, messages.EventTaskFailed, func(task *models.Task) error {
		return task.Fail(reason)
	})
}

func (c *Coordinator) finishTask(ctx context.Context, taskID, botID, eventType string, transition func(*models.Task) error) (*models.Task, error) {
	c.locks.Lock(taskID)
	defer c.locks.Unlock(taskID)

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := requireAssignee(task, botID); err != nil {
		return nil, err
	}

	assignee := task.AssignedBot
	if err := transition(task); err != nil {
		return nil, err
	}
	if err := c.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	c.afterFinish(ctx, task, assignee, eventType)
	return task, nil
}

// CancelTask aborts a task from any non-terminal state. The assigned
// bot, if any, is released and told to stop; the push may miss.
func (c *Coordinator) CancelTask(ctx context.Context, taskID string) (*models.Task, error) {
	c.locks.Lock(taskID)
	defer c.locks.Unlock(taskID)
	return c.cancelLocked(ctx, taskID)
}

func (c *Coordinator) cancelLocked(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	assignee := task.AssignedBot
	if err := task.Cancel(); err != nil {
		return nil, err
	}
	if err := c.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	c.push(assignee, messages.TaskCancel(task.ID))
	c.afterFinish(ctx, task, assignee, messages.EventTaskCancelled)
	return task, nil
}

// ExpireTask fails a task that exceeded its timeout. The task is
// re-fetched and staleness re-checked under the lock, so a completion
// that won the race since the sweep query surfaces as
// InvalidStateError for the caller to swallow.
func (c *Coordinator) ExpireTask(ctx context.Context, taskID string, now time.Time) error {
	c.locks.Lock(taskID)
	defer c.locks.Unlock(taskID)

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Live() {
		return &models.InvalidStateError{Action: "expire", Kind: "task", State: string(task.Status)}
	}
	if !task.Stale(now) {
		// A progress report moved the deadline since the sweep query.
		return nil
	}

	assignee := task.AssignedBot
	reason := (&models.TimeoutError{Op: "task", Seconds: task.TimeoutSeconds}).Error()
	if err := task.Fail(reason); err != nil {
		return err
	}
	if err := c.store.UpdateTask(ctx, task); err != nil {
		return err
	}

	c.metrics.TasksExpired.Inc()
	log.Printf("[Coordinator] task %s expired after %ds on bot %s", task.ID, task.TimeoutSeconds, assignee)
	c.afterFinish(ctx, task, assignee, messages.EventTaskFailed)
	return nil
}

// HandleProgress implements hub.Handler for task_progress frames.
func (c *Coordinator) HandleProgress(ctx context.Context, taskID, botID string) error {
	if taskID == "" {
		return &models.ValidationError{Field: "task_id", Reason: "must not be empty"}
	}
	return c.ReportProgress(ctx, taskID, botID)
}

// HandleCompletion implements hub.Handler for task_complete frames.
func (c *Coordinator) HandleCompletion(ctx context.Context, taskID, botID string, success bool, result, errMsg string) error {
	if taskID == "" {
		return &models.ValidationError{Field: "task_id", Reason: "must not be empty"}
	}
	if success {
		_, err := c.CompleteTask(ctx, taskID, botID, result)
		return err
	}
	if errMsg == "" {
		errMsg = "bot reported failure"
	}
	_, err := c.FailTask(ctx, taskID, botID, errMsg)
	return err
}

// HandleHeartbeat implements hub.Handler for liveness signals. Pushes
// are fire and forget, so an assignment dropped on a full queue or a
// dead connection is made up for here: any task still assigned to the
// bot that it has not started yet is pushed again. Bots already
// working a task keep reporting on it instead.
func (c *Coordinator) HandleHeartbeat(ctx context.Context, botID string) error {
	if botID == "" {
		return &models.ValidationError{Field: "bot_id", Reason: "must not be empty"}
	}
	tasks, err := c.store.ListTasks(ctx, database.TaskFilter{
		AssignedBot: botID,
		Status:      models.TaskStatusAssigned,
	})
	if err != nil {
		return err
	}
	for _, task := range tasks {
		c.push(botID, messages.TaskAssigned(task))
		log.Printf("[Coordinator] redelivered assignment %s to bot %s", task.ID, botID)
	}
	return nil
}

// afterFinish runs the bookkeeping shared by every terminal
// transition: release the bot, cache the now-immutable task, count the
// transition and publish the lifecycle event.
func (c *Coordinator) afterFinish(ctx context.Context, task *models.Task, assignee, eventType string) {
	if assignee != "" {
		if err := c.registry.Release(ctx, assignee); err != nil {
			log.Printf("[Coordinator] release bot %s after task %s: %v", assignee, task.ID, err)
		}
	}
	if c.results != nil {
		c.results.StoreTask(ctx, task)
	}

	c.metrics.RecordTransition(string(task.Status))
	log.Printf("[Coordinator] task %s %s", task.ID, task.Status)

	data := map[string]interface{}{"status": string(task.Status)}
	if assignee != "" {
		data["bot_id"] = assignee
	}
	if task.FailureReason != "" {
		data["reason"] = task.FailureReason
	}
	c.publish(ctx, messages.TaskEvent(eventType, task.ID, "coordinator", data))
}

// requireAssignee enforces that botID, when given, is the task's
// current assignee. State errors take precedence over ownership: a
// report racing a terminal transition should surface as an invalid
// transition, not as forbidden, so the check only applies to live
// tasks.
func requireAssignee(task *models.Task, botID string) error {
	if botID == "" || !task.Live() {
		return nil
	}
	if task.AssignedBot != botID {
		return &models.ForbiddenError{
			Reason: fmt.Sprintf("task %s is not assigned to bot %s", task.ID, botID),
		}
	}
	return nil
}

// push delivers a frame to a bot's connection, best-effort.
func (c *Coordinator) push(botID string, frame *messages.Frame) {
	if c.pusher == nil || botID == "" {
		return
	}
	if !c.pusher.Push(botID, frame) {
		log.Printf("[Coordinator] bot %s not connected, %s frame not delivered", botID, frame.Type)
	}
}

func (c *Coordinator) publish(ctx context.Context, event *messages.Event) {
	if err := c.publisher.PublishEvent(ctx, event); err != nil {
		log.Printf("[Coordinator] event publish failed for %s: %v", event.Type, err)
	}
}
