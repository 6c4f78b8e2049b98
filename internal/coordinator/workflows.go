package coordinator

import (
	"context"
	"log"

	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/pkg/messages"
	"github.com/clawbot/coordinator/pkg/models"
)

// WorkflowDetail is a workflow with its derived status and, when
// loaded, its member tasks. Status is computed at read time; it is
// never stored.
type WorkflowDetail struct {
	*models.Workflow
	Status models.WorkflowStatus `json:"status"`
	Tasks  []*models.Task        `json:"tasks,omitempty"`
}

// CreateWorkflow creates a workflow and its member tasks atomically:
// either the workflow and every task land, or nothing does. Task
// inputs are validated before anything is written.
func (c *Coordinator) CreateWorkflow(ctx context.Context, name, description string, metadata map[string]any, taskInputs []CreateTaskInput) (*WorkflowDetail, error) {
	wf, err := models.NewWorkflow(name, description, metadata)
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(taskInputs))
	for _, in := range taskInputs {
		task, err := models.NewTask(in.Title, in.Description, in.Payload, in.TimeoutSeconds)
		if err != nil {
			return nil, err
		}
		task.Capability = in.Capability
		task.WorkflowID = wf.ID
		wf.AddTask(task.ID)
		tasks = append(tasks, task)
	}

	if err := c.store.CreateWorkflow(ctx, wf, tasks); err != nil {
		return nil, err
	}

	c.metrics.TasksCreated.Add(float64(len(tasks)))
	log.Printf("[Coordinator] created workflow %s (%q) with %d tasks", wf.ID, wf.Name, len(tasks))
	c.publish(ctx, messages.WorkflowEvent(messages.EventWorkflowCreated, wf.ID, "coordinator",
		map[string]interface{}{"tasks": len(tasks)}))

	return &WorkflowDetail{
		Workflow: wf,
		Status:   models.DeriveWorkflowStatus(tasks),
		Tasks:    tasks,
	}, nil
}

// GetWorkflow returns the workflow with derived status and per-task
// detail.
func (c *Coordinator) GetWorkflow(ctx context.Context, id string) (*WorkflowDetail, error) {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := c.workflowTasks(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	return &WorkflowDetail{
		Workflow: wf,
		Status:   models.DeriveWorkflowStatus(tasks),
		Tasks:    tasks,
	}, nil
}

// ListWorkflows returns every workflow with its derived status. Task
// detail is left out of listings; fetch a single workflow for that.
func (c *Coordinator) ListWorkflows(ctx context.Context) ([]*WorkflowDetail, error) {
	wfs, err := c.store.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*WorkflowDetail, 0, len(wfs))
	for _, wf := range wfs {
		tasks, err := c.workflowTasks(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &WorkflowDetail{
			Workflow: wf,
			Status:   models.DeriveWorkflowStatus(tasks),
		})
	}
	return out, nil
}

// StartWorkflow dispatches every still-pending member task to an
// available bot. Assignment is capability aware and partial: tasks
// that find no bot stay pending, and the number dispatched is
// returned.
func (c *Coordinator) StartWorkflow(ctx context.Context, id string) (int, error) {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return 0, err
	}
	tasks, err := c.workflowTasks(ctx, wf.ID)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, task := range tasks {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if _, err := c.AssignTask(ctx, task.ID, ""); err != nil {
			if models.IsUnavailable(err) || models.IsInvalidState(err) {
				continue // no bot free, or the task moved on its own
			}
			return dispatched, err
		}
		dispatched++
	}

	log.Printf("[Coordinator] workflow %s started, dispatched %d of %d tasks", wf.ID, dispatched, len(tasks))
	return dispatched, nil
}

// CancelWorkflow cancels every non-terminal member task, releasing
// their bots. Returns how many tasks were cancelled.
func (c *Coordinator) CancelWorkflow(ctx context.Context, id string) (int, error) {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return 0, err
	}
	tasks, err := c.workflowTasks(ctx, wf.ID)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, task := range tasks {
		if task.Status.Terminal() {
			continue
		}
		if _, err := c.CancelTask(ctx, task.ID); err != nil {
			if models.IsInvalidState(err) {
				continue // finished while we were cancelling
			}
			return cancelled, err
		}
		cancelled++
	}

	log.Printf("[Coordinator] workflow %s cancelled, stopped %d tasks", wf.ID, cancelled)
	return cancelled, nil
}

// DeleteWorkflow removes a workflow. Without cascade the delete is
// refused while any member task is non-terminal; with cascade the
// members are cancelled and deleted along with the workflow.
func (c *Coordinator) DeleteWorkflow(ctx context.Context, id string, cascade bool) error {
	wf, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	tasks, err := c.workflowTasks(ctx, wf.ID)
	if err != nil {
		return err
	}

	if !cascade {
		for _, task := range tasks {
			if !task.Status.Terminal() {
				return &models.InvalidStateError{Action: "delete", Kind: "workflow", State: string(task.Status)}
			}
		}
		// Terminal member tasks survive as history; only the grouping
		// goes away.
		if err := c.store.DeleteWorkflow(ctx, id); err != nil {
			return err
		}
		log.Printf("[Coordinator] deleted workflow %s", wf.ID)
		return nil
	}

	if _, err := c.CancelWorkflow(ctx, id); err != nil {
		return err
	}
	for _, task := range tasks {
		if err := c.store.DeleteTask(ctx, task.ID); err != nil && !models.IsNotFound(err) {
			return err
		}
		if c.results != nil {
			c.results.Invalidate(ctx, task.ID)
		}
	}
	if err := c.store.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	log.Printf("[Coordinator] deleted workflow %s and %d tasks", wf.ID, len(tasks))
	return nil
}

func (c *Coordinator) workflowTasks(ctx context.Context, workflowID string) ([]*models.Task, error) {
	return c.store.ListTasks(ctx, database.TaskFilter{WorkflowID: workflowID})
}
