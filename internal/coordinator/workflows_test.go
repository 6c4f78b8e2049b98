package coordinator

import (
	"context"
	"testing"

	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/pkg/models"
)

func twoStepInputs() []CreateTaskInput {
	return []CreateTaskInput{
		{Title: "fetch sources", Capability: "fetch"},
		{Title: "build artifacts", Capability: "build"},
	}
}

func TestCreateWorkflowWithTasks(t *testing.T) {
	ctx := context.Background()
	coord, _, store := newTestCoordinator()

	wf, err := coord.CreateWorkflow(ctx, "release", "cut a release", nil, twoStepInputs())
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	if wf.Status != models.WorkflowStatusPending {
		t.Errorf("Status = %s, want pending", wf.Status)
	}
	if len(wf.TaskIDs) != 2 || len(wf.Tasks) != 2 {
		t.Fatalf("TaskIDs/Tasks = %d/%d, want 2/2", len(wf.TaskIDs), len(wf.Tasks))
	}
	for _, task := range wf.Tasks {
		if task.WorkflowID != wf.ID {
			t.Errorf("task %s WorkflowID = %q, want %s", task.ID, task.WorkflowID, wf.ID)
		}
		if _, err := store.GetTask(ctx, task.ID); err != nil {
			t.Errorf("member task %s not persisted: %v", task.ID, err)
		}
	}
}

func TestCreateWorkflowAtomic(t *testing.T) {
	ctx := context.Background()
	coord, _, store := newTestCoordinator()

	// The second task is invalid, so nothing may land.
	_, err := coord.CreateWorkflow(ctx, "broken", "", nil, []CreateTaskInput{
		{Title: "fine"},
		{Title: "   "},
	})
	if !models.IsValidation(err) {
		t.Fatalf("CreateWorkflow(invalid member) error = %v, want validation", err)
	}

	wfs, _ := store.ListWorkflows(ctx)
	if len(wfs) != 0 {
		t.Errorf("workflows persisted = %d, want 0", len(wfs))
	}
	tasks, _ := store.ListTasks(ctx, database.TaskFilter{})
	if len(tasks) != 0 {
		t.Errorf("tasks persisted = %d, want 0", len(tasks))
	}

	if _, err := coord.CreateWorkflow(ctx, "", "", nil, nil); !models.IsValidation(err) {
		t.Errorf("CreateWorkflow(no name) error = %v, want validation", err)
	}
}

func TestWorkflowDerivedStatus(t *testing.T) {
	ctx := context.Background()
	coord, registry, _ := newTestCoordinator()
	bot := onlineBot(t, registry, "worker", "fetch", "build")

	empty, err := coord.CreateWorkflow(ctx, "empty", "", nil, nil)
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}
	if got, _ := coord.GetWorkflow(ctx, empty.ID); got.Status != models.WorkflowStatusEmpty {
		t.Errorf("Status = %s, want empty", got.Status)
	}

	wf, _ := coord.CreateWorkflow(ctx, "release", "", nil, twoStepInputs())
	first, second := wf.Tasks[0], wf.Tasks[1]

	// One task moving makes the whole workflow in_progress.
	if _, err := coord.AssignTask(ctx, first.ID, bot.ID); err != nil {
		t.Fatalf("AssignTask() error = %v", err)
	}
	if got, _ := coord.GetWorkflow(ctx, wf.ID); got.Status != models.WorkflowStatusInProgress {
		t.Errorf("Status = %s, want in_progress", got.Status)
	}

	// All members completed completes the workflow.
	if _, err := coord.CompleteTask(ctx, first.ID, bot.ID, ""); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}
	coord.AssignTask(ctx, second.ID, bot.ID)
	coord.CompleteTask(ctx, second.ID, bot.ID, "")
	if got, _ := coord.GetWorkflow(ctx, wf.ID); got.Status != models.WorkflowStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}

	// Any failed or cancelled member fails the workflow.
	failed, _ := coord.CreateWorkflow(ctx, "doomed", "", nil, twoStepInputs())
	if _, err := coord.CancelTask(ctx, failed.Tasks[0].ID); err != nil {
		t.Fatalf("CancelTask() error = %v", err)
	}
	if got, _ := coord.GetWorkflow(ctx, failed.ID); got.Status != models.WorkflowStatusFailed {
		t.Errorf("Status = %s, want failed", got.Status)
	}
}

func TestStartWorkflowPartialDispatch(t *testing.T) {
	ctx := context.Background()
	coord, registry, _ := newTestCoordinator()
	onlineBot(t, registry, "fetcher", "fetch")

	wf, _ := coord.CreateWorkflow(ctx, "release", "", nil, twoStepInputs())

	// Only the fetch-capable bot is online: one of two dispatches.
	dispatched, err := coord.StartWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("StartWorkflow() error = %v", err)
	}
	if dispatched != 1 {
		t.Errorf("dispatched = %d, want 1", dispatched)
	}

	got, _ := coord.GetWorkflow(ctx, wf.ID)
	if got.Status != models.WorkflowStatusInProgress {
		t.Errorf("Status = %s, want in_progress", got.Status)
	}

	// A second start finds the remaining pending task once a builder
	// shows up.
	onlineBot(t, registry, "builder", "build")
	dispatched, err = coord.StartWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("StartWorkflow(again) error = %v", err)
	}
	if dispatched != 1 {
		t.Errorf("second dispatch = %d, want 1", dispatched)
	}

	if _, err := coord.StartWorkflow(ctx, "ghost"); !models.IsNotFound(err) {
		t.Errorf("StartWorkflow(unknown) error = %v, want not found", err)
	}
}

func TestCancelWorkflow(t *testing.T) {
	ctx := context.Background()
	coord, registry, _ := newTestCoordinator()
	bot := onlineBot(t, registry, "worker", "fetch", "build")

	wf, _ := coord.CreateWorkflow(ctx, "release", "", nil, twoStepInputs())
	first := wf.Tasks[0]

	coord.AssignTask(ctx, first.ID, bot.ID)
	coord.CompleteTask(ctx, first.ID, bot.ID, "")

	// Only the still-pending member is cancelled.
	cancelled, err := coord.CancelWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("CancelWorkflow() error = %v", err)
	}
	if cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", cancelled)
	}

	got, _ := coord.GetWorkflow(ctx, wf.ID)
	if got.Status != models.WorkflowStatusFailed {
		t.Errorf("Status = %s after cancel, want failed", got.Status)
	}
	b, _ := registry.Get(ctx, bot.ID)
	if b.Status != models.BotStatusOnline {
		t.Errorf("bot Status = %s, want online", b.Status)
	}
}

func TestDeleteWorkflow(t *testing.T) {
	ctx := context.Background()
	coord, registry, store := newTestCoordinator()
	bot := onlineBot(t, registry, "worker", "fetch", "build")

	wf, _ := coord.CreateWorkflow(ctx, "release", "", nil, twoStepInputs())

	// Refused while members are live.
	if err := coord.DeleteWorkflow(ctx, wf.ID, false); !models.IsInvalidState(err) {
		t.Errorf("DeleteWorkflow(non-terminal) error = %v, want invalid state", err)
	}

	// Cascade cancels the members and removes everything.
	if err := coord.DeleteWorkflow(ctx, wf.ID, true); err != nil {
		t.Fatalf("DeleteWorkflow(cascade) error = %v", err)
	}
	if _, err := coord.GetWorkflow(ctx, wf.ID); !models.IsNotFound(err) {
		t.Errorf("GetWorkflow(deleted) error = %v, want not found", err)
	}
	tasks, _ := store.ListTasks(ctx, database.TaskFilter{})
	if len(tasks) != 0 {
		t.Errorf("member tasks left = %d, want 0", len(tasks))
	}

	// With every member terminal a plain delete works and keeps the
	// tasks as history.
	done, _ := coord.CreateWorkflow(ctx, "done", "", nil, []CreateTaskInput{{Title: "only"}})
	only := done.Tasks[0]
	coord.AssignTask(ctx, only.ID, bot.ID)
	coord.CompleteTask(ctx, only.ID, bot.ID, "")
	if err := coord.DeleteWorkflow(ctx, done.ID, false); err != nil {
		t.Fatalf("DeleteWorkflow(terminal members) error = %v", err)
	}
	kept, err := store.GetTask(ctx, only.ID)
	if err != nil {
		t.Fatalf("GetTask(orphaned) error = %v", err)
	}
	if kept.WorkflowID != "" {
		t.Errorf("orphaned task WorkflowID = %q, want cleared", kept.WorkflowID)
	}
}
