package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clawbot/coordinator/pkg/models"
)

func mustBot(t *testing.T, name string, caps ...string) *models.Bot {
	t.Helper()
	bot, err := models.NewBot(name, caps, nil)
	if err != nil {
		t.Fatalf("NewBot() error = %v", err)
	}
	return bot
}

func mustTask(t *testing.T, title string) *models.Task {
	t.Helper()
	task, err := models.NewTask(title, "", nil, 0)
	if err != nil {
		t.Fatalf("NewTask() error = %v", err)
	}
	return task
}

func TestMemory_BotCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	bot := mustBot(t, "alpha", "ocr")
	if err := store.CreateBot(ctx, bot); err != nil {
		t.Fatalf("CreateBot() error = %v", err)
	}

	got, err := store.GetBot(ctx, bot.ID)
	if err != nil {
		t.Fatalf("GetBot() error = %v", err)
	}
	if got.Name != "alpha" {
		t.Errorf("Name = %q, want alpha", got.Name)
	}

	// Reads are copies: mutating the result must not touch the store.
	got.Name = "mutated"
	again, _ := store.GetBot(ctx, bot.ID)
	if again.Name != "alpha" {
		t.Error("store returned shared state, want a copy")
	}

	got.Name = "beta"
	got.MarkOnline()
	if err := store.UpdateBot(ctx, got); err != nil {
		t.Fatalf("UpdateBot() error = %v", err)
	}
	updated, _ := store.GetBot(ctx, bot.ID)
	if updated.Name != "beta" || updated.Status != models.BotStatusOnline {
		t.Errorf("after update: name=%q status=%s", updated.Name, updated.Status)
	}

	if err := store.DeleteBot(ctx, bot.ID); err != nil {
		t.Fatalf("DeleteBot() error = %v", err)
	}
	if _, err := store.GetBot(ctx, bot.ID); !models.IsNotFound(err) {
		t.Errorf("GetBot(deleted) error = %v, want not found", err)
	}
	if err := store.DeleteBot(ctx, bot.ID); !models.IsNotFound(err) {
		t.Errorf("DeleteBot(missing) error = %v, want not found", err)
	}
}

func TestMemory_AvailableBots(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	// Three bots: offline, online old, online recent, busy.
	offline := mustBot(t, "offline", "ocr")
	store.CreateBot(ctx, offline)

	older := mustBot(t, "older", "ocr")
	older.MarkOnline()
	older.LastSeenAt = time.Now().UTC().Add(-time.Hour)
	store.CreateBot(ctx, older)

	recent := mustBot(t, "recent", "ocr")
	recent.MarkOnline()
	store.CreateBot(ctx, recent)

	busy := mustBot(t, "busy", "ocr")
	busy.MarkOnline()
	busy.MarkBusy()
	store.CreateBot(ctx, busy)

	bots, err := store.AvailableBots(ctx, "")
	if err != nil {
		t.Fatalf("AvailableBots() error = %v", err)
	}
	if len(bots) != 2 {
		t.Fatalf("AvailableBots() = %d bots, want 2", len(bots))
	}
	// Least recently seen first.
	if bots[0].Name != "older" || bots[1].Name != "recent" {
		t.Errorf("order = [%s, %s], want [older, recent]", bots[0].Name, bots[1].Name)
	}

	bots, _ = store.AvailableBots(ctx, "transcode")
	if len(bots) != 0 {
		t.Errorf("AvailableBots(transcode) = %d bots, want 0", len(bots))
	}
}

func TestMemory_ListBotsFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	a := mustBot(t, "a", "ocr")
	a.MarkOnline()
	store.CreateBot(ctx, a)
	b := mustBot(t, "b", "resize")
	store.CreateBot(ctx, b)

	online, _ := store.ListBots(ctx, BotFilter{Status: models.BotStatusOnline})
	if len(online) != 1 || online[0].Name != "a" {
		t.Errorf("ListBots(online) = %v", names(online))
	}
	resize, _ := store.ListBots(ctx, BotFilter{Capability: "resize"})
	if len(resize) != 1 || resize[0].Name != "b" {
		t.Errorf("ListBots(resize) = %v", names(resize))
	}
	all, _ := store.ListBots(ctx, BotFilter{})
	if len(all) != 2 {
		t.Errorf("ListBots() = %d bots, want 2", len(all))
	}
}

func names(bots []*models.Bot) []string {
	out := make([]string, len(bots))
	for i, b := range bots {
		out[i] = b.Name
	}
	return out
}

func TestMemory_TaskFiltersAndPagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for i := 0; i < 5; i++ {
		task := mustTask(t, "t")
		task.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
	}

	page, err := store.ListTasks(ctx, TaskFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page size = %d, want 2", len(page))
	}

	past, _ := store.ListTasks(ctx, TaskFilter{Offset: 10})
	if len(past) != 0 {
		t.Errorf("offset past end = %d tasks, want 0", len(past))
	}

	pending, _ := store.ListTasks(ctx, TaskFilter{Status: models.TaskStatusPending})
	if len(pending) != 5 {
		t.Errorf("pending = %d, want 5", len(pending))
	}
}

func TestMemory_StaleTasks(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	fresh := mustTask(t, "fresh")
	fresh.TimeoutSeconds = 60
	fresh.Assign("bot-1")
	store.CreateTask(ctx, fresh)

	stale := mustTask(t, "stale")
	stale.TimeoutSeconds = 1
	stale.Assign("bot-2")
	stale.UpdatedAt = time.Now().UTC().Add(-time.Minute)
	store.CreateTask(ctx, stale)

	pending := mustTask(t, "pending")
	pending.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	store.CreateTask(ctx, pending)

	got, err := store.StaleTasks(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("StaleTasks() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "stale" {
		t.Errorf("StaleTasks() = %d tasks, want exactly the stale one", len(got))
	}
}

func TestMemory_WorkflowMembership(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	wf, err := models.NewWorkflow("batch", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	t1 := mustTask(t, "one")
	t1.WorkflowID = wf.ID
	t2 := mustTask(t, "two")
	t2.WorkflowID = wf.ID
	t2.CreatedAt = t1.CreatedAt.Add(time.Millisecond)

	if err := store.CreateWorkflow(ctx, wf, []*models.Task{t1, t2}); err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}

	got, err := store.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflow() error = %v", err)
	}
	if len(got.TaskIDs) != 2 {
		t.Fatalf("TaskIDs = %v, want 2 members", got.TaskIDs)
	}
	if got.TaskIDs[0] != t1.ID || got.TaskIDs[1] != t2.ID {
		t.Errorf("TaskIDs order = %v, want creation order", got.TaskIDs)
	}

	// Deleting the workflow detaches tasks but keeps them.
	if err := store.DeleteWorkflow(ctx, wf.ID); err != nil {
		t.Fatalf("DeleteWorkflow() error = %v", err)
	}
	task, err := store.GetTask(ctx, t1.ID)
	if err != nil {
		t.Fatalf("GetTask() after workflow delete error = %v", err)
	}
	if task.WorkflowID != "" {
		t.Errorf("WorkflowID = %q after workflow delete, want detached", task.WorkflowID)
	}
}

func TestMemory_NotFoundErrors(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if _, err := store.GetTask(ctx, "nope"); !models.IsNotFound(err) {
		t.Errorf("GetTask(missing) error = %v, want not found", err)
	}
	if _, err := store.GetWorkflow(ctx, "nope"); !models.IsNotFound(err) {
		t.Errorf("GetWorkflow(missing) error = %v, want not found", err)
	}
	if err := store.UpdateTask(ctx, mustTask(t, "x")); !models.IsNotFound(err) {
		t.Errorf("UpdateTask(missing) error = %v, want not found", err)
	}
}

func TestMemory_ClaimBot(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now().UTC()

	bot := mustBot(t, "worker")
	bot.MarkOnline()
	store.CreateBot(ctx, bot)

	if err := store.ClaimBot(ctx, bot.ID, now); err != nil {
		t.Fatalf("ClaimBot() error = %v, want nil", err)
	}
	got, _ := store.GetBot(ctx, bot.ID)
	if got.Status != models.BotStatusBusy {
		t.Errorf("Status = %s after claim, want busy", got.Status)
	}

	// Second claim loses.
	if err := store.ClaimBot(ctx, bot.ID, now); !models.IsInvalidState(err) {
		t.Errorf("second ClaimBot() error = %v, want invalid state", err)
	}

	if err := store.ClaimBot(ctx, "missing", now); !models.IsNotFound(err) {
		t.Errorf("ClaimBot(missing) error = %v, want not found", err)
	}
}

func TestMemory_ClaimBot_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now().UTC()

	bot := mustBot(t, "worker")
	bot.MarkOnline()
	store.CreateBot(ctx, bot)

	const claimers = 16
	wins := make(chan bool, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- store.ClaimBot(ctx, bot.ID, now) == nil
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Errorf("claims won = %d, want exactly 1", won)
	}
}

func TestMemory_ReleaseBot(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now().UTC()

	bot := mustBot(t, "worker")
	bot.MarkOnline()
	store.CreateBot(ctx, bot)
	store.ClaimBot(ctx, bot.ID, now)

	if err := store.ReleaseBot(ctx, bot.ID, now); err != nil {
		t.Fatalf("ReleaseBot() error = %v", err)
	}
	got, _ := store.GetBot(ctx, bot.ID)
	if got.Status != models.BotStatusOnline {
		t.Errorf("Status = %s after release, want online", got.Status)
	}

	// Releasing an offline bot must not revive it.
	store.SetBotStatus(ctx, bot.ID, models.BotStatusOffline, now)
	if err := store.ReleaseBot(ctx, bot.ID, now); err != nil {
		t.Fatalf("ReleaseBot(offline) error = %v, want nil no-op", err)
	}
	got, _ = store.GetBot(ctx, bot.ID)
	if got.Status != models.BotStatusOffline {
		t.Errorf("Status = %s, want offline preserved", got.Status)
	}
}

func TestMemory_TouchBot(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	bot := mustBot(t, "worker")
	store.CreateBot(ctx, bot)

	later := time.Now().UTC().Add(time.Minute)
	if err := store.TouchBot(ctx, bot.ID, later); err != nil {
		t.Fatalf("TouchBot() error = %v", err)
	}
	got, _ := store.GetBot(ctx, bot.ID)
	if got.Status != models.BotStatusOnline {
		t.Errorf("Status = %s after touch, want online revive", got.Status)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}

	// Busy bots stay busy through touches.
	store.ClaimBot(ctx, bot.ID, later)
	store.TouchBot(ctx, bot.ID, later.Add(time.Second))
	got, _ = store.GetBot(ctx, bot.ID)
	if got.Status != models.BotStatusBusy {
		t.Errorf("Status = %s, want busy preserved", got.Status)
	}
}

func TestRebind(t *testing.T) {
	got := rebind("SELECT * FROM tasks WHERE id = ? AND status = ?")
	want := "SELECT * FROM tasks WHERE id = $1 AND status = $2"
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}
	if got := rebind("no placeholders"); got != "no placeholders" {
		t.Errorf("rebind() = %q, want unchanged", got)
	}
}
