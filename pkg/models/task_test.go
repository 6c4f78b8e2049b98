package models

import (
	"testing"
	"time"
)

func newTestTask(t *testing.T) *Task {
	t.Helper()
	task, err := NewTask("resize images", "", nil, 0)
	if err != nil {
		t.Fatalf("NewTask() error = %v, want nil", err)
	}
	return task
}

func TestNewTask_Defaults(t *testing.T) {
	task := newTestTask(t)

	if task.Status != TaskStatusPending {
		t.Errorf("Status = %s, want %s", task.Status, TaskStatusPending)
	}
	if task.TimeoutSeconds != DefaultTaskTimeout {
		t.Errorf("TimeoutSeconds = %d, want %d", task.TimeoutSeconds, DefaultTaskTimeout)
	}
	if task.ID == "" {
		t.Error("ID is empty, want generated uuid")
	}
	if task.AssignedBot != "" {
		t.Errorf("AssignedBot = %q, want empty on a pending task", task.AssignedBot)
	}
}

func TestNewTask_Validation(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		timeout int
	}{
		{"empty title", "", 60},
		{"whitespace title", "   ", 60},
		{"timeout too low", "t", -5},
		{"timeout too high", "t", 3601},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTask(tt.title, "", nil, tt.timeout)
			if err == nil {
				t.Fatal("NewTask() error = nil, want validation error")
			}
			if !IsValidation(err) {
				t.Errorf("IsValidation(%v) = false, want true", err)
			}
		})
	}
}

func TestNewTask_TimeoutBounds(t *testing.T) {
	for _, timeout := range []int{MinTaskTimeout, MaxTaskTimeout} {
		task, err := NewTask("t", "", nil, timeout)
		if err != nil {
			t.Errorf("NewTask(timeout=%d) error = %v, want nil", timeout, err)
			continue
		}
		if task.TimeoutSeconds != timeout {
			t.Errorf("TimeoutSeconds = %d, want %d", task.TimeoutSeconds, timeout)
		}
	}
}

func TestTask_Lifecycle(t *testing.T) {
	task := newTestTask(t)

	if err := task.Assign("bot-1"); err != nil {
		t.Fatalf("Assign() error = %v, want nil", err)
	}
	if task.Status != TaskStatusAssigned || task.AssignedBot != "bot-1" {
		t.Errorf("after Assign: status = %s assignee = %q", task.Status, task.AssignedBot)
	}
	if task.AssignedAt == nil {
		t.Error("AssignedAt is nil after Assign")
	}

	if err := task.Start(); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}
	if task.Status != TaskStatusInProgress {
		t.Errorf("after Start: status = %s, want %s", task.Status, TaskStatusInProgress)
	}

	if err := task.Complete("42 images resized"); err != nil {
		t.Fatalf("Complete() error = %v, want nil", err)
	}
	if task.Status != TaskStatusCompleted {
		t.Errorf("after Complete: status = %s, want %s", task.Status, TaskStatusCompleted)
	}
	if task.AssignedBot != "" {
		t.Errorf("AssignedBot = %q after terminal transition, want cleared", task.AssignedBot)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt is nil after Complete")
	}
	if task.Result != "42 images resized" {
		t.Errorf("Result = %q", task.Result)
	}
}

func TestTask_CompleteFromAssigned(t *testing.T) {
	// A bot may finish without ever reporting progress.
	task := newTestTask(t)
	if err := task.Assign("bot-1"); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := task.Complete("done"); err != nil {
		t.Errorf("Complete() from assigned error = %v, want nil", err)
	}
}

func TestTask_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Task)
		op    func(*Task) error
	}{
		{"start pending", func(*Task) {}, func(tk *Task) error { return tk.Start() }},
		{"complete pending", func(*Task) {}, func(tk *Task) error { return tk.Complete("") }},
		{"fail pending", func(*Task) {}, func(tk *Task) error { return tk.Fail("x") }},
		{"assign assigned", func(tk *Task) { tk.Assign("b") }, func(tk *Task) error { return tk.Assign("c") }},
		{"assign completed", func(tk *Task) { tk.Assign("b"); tk.Complete("") }, func(tk *Task) error { return tk.Assign("c") }},
		{"cancel completed", func(tk *Task) { tk.Assign("b"); tk.Complete("") }, func(tk *Task) error { return tk.Cancel() }},
		{"complete cancelled", func(tk *Task) { tk.Cancel() }, func(tk *Task) error { return tk.Complete("") }},
		{"fail failed", func(tk *Task) { tk.Assign("b"); tk.Fail("x") }, func(tk *Task) error { return tk.Fail("y") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newTestTask(t)
			tt.setup(task)
			err := tt.op(task)
			if err == nil {
				t.Fatal("error = nil, want invalid state error")
			}
			if !IsInvalidState(err) {
				t.Errorf("IsInvalidState(%v) = false, want true", err)
			}
		})
	}
}

func TestTask_CancelFromAnyNonTerminal(t *testing.T) {
	for _, setup := range []func(*Task){
		func(*Task) {},
		func(tk *Task) { tk.Assign("b") },
		func(tk *Task) { tk.Assign("b"); tk.Start() },
	} {
		task := newTestTask(t)
		setup(task)
		if err := task.Cancel(); err != nil {
			t.Errorf("Cancel() from %s error = %v, want nil", task.Status, err)
		}
		if task.AssignedBot != "" {
			t.Errorf("AssignedBot = %q after Cancel, want cleared", task.AssignedBot)
		}
	}
}

func TestTask_AssigneeMatchesStatus(t *testing.T) {
	// Invariant: assigned_bot is non-empty exactly while the task is live.
	task := newTestTask(t)
	check := func(stage string) {
		t.Helper()
		if task.Live() != (task.AssignedBot != "") {
			t.Errorf("%s: Live() = %v but AssignedBot = %q", stage, task.Live(), task.AssignedBot)
		}
	}

	check("pending")
	task.Assign("bot-1")
	check("assigned")
	task.Start()
	check("in_progress")
	task.Fail("crashed")
	check("failed")
}

func TestTask_Stale(t *testing.T) {
	task := newTestTask(t)
	task.TimeoutSeconds = 10
	task.Assign("bot-1")

	now := time.Now().UTC()
	if task.Stale(now) {
		t.Error("Stale() = true immediately after assignment")
	}
	if !task.Stale(now.Add(11 * time.Second)) {
		t.Error("Stale() = false past the timeout, want true")
	}

	// Pending and terminal tasks are never stale.
	pending := newTestTask(t)
	if pending.Stale(now.Add(time.Hour)) {
		t.Error("Stale() = true for a pending task")
	}
	task.Complete("done")
	if task.Stale(now.Add(time.Hour)) {
		t.Error("Stale() = true for a completed task")
	}
}

func TestTask_StartRefreshesDeadline(t *testing.T) {
	task := newTestTask(t)
	task.TimeoutSeconds = 10
	task.Assign("bot-1")

	before := task.StaleAt()
	time.Sleep(5 * time.Millisecond)
	if err := task.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !task.StaleAt().After(before) {
		t.Error("StaleAt() did not move forward after Start")
	}
}
