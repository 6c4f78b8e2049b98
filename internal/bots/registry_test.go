package bots

import (
	"context"
	"testing"
	"time"

	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/pkg/models"
)

func newTestRegistry() *Registry {
	return NewRegistry(database.NewMemory(), nil)
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	bot, err := reg.Register(ctx, "imagebot", []string{"resize"}, map[string]any{"zone": "eu"})
	if err != nil {
		t.Fatalf("Register() error = %v, want nil", err)
	}
	if bot.Status != models.BotStatusOffline {
		t.Errorf("Status = %s, want offline before first contact", bot.Status)
	}

	got, err := reg.Get(ctx, bot.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "imagebot" {
		t.Errorf("Name = %q", got.Name)
	}

	if _, err := reg.Register(ctx, "", nil, nil); !models.IsValidation(err) {
		t.Errorf("Register(no name) error = %v, want validation", err)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	bot, _ := reg.Register(ctx, "b", nil, nil)
	reg.MarkOnline(ctx, bot.ID)
	if err := reg.Claim(ctx, bot.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	// Busy bots cannot leave the fleet.
	if err := reg.Deregister(ctx, bot.ID); !models.IsInvalidState(err) {
		t.Errorf("Deregister(busy) error = %v, want invalid state", err)
	}

	reg.Release(ctx, bot.ID)
	if err := reg.Deregister(ctx, bot.ID); err != nil {
		t.Fatalf("Deregister() error = %v, want nil", err)
	}
	if _, err := reg.Get(ctx, bot.ID); !models.IsNotFound(err) {
		t.Errorf("Get(deregistered) error = %v, want not found", err)
	}
}

func TestRegistry_HeartbeatRevives(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	bot, _ := reg.Register(ctx, "b", nil, nil)
	if err := reg.Heartbeat(ctx, bot.ID); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	got, _ := reg.Get(ctx, bot.ID)
	if got.Status != models.BotStatusOnline {
		t.Errorf("Status = %s after heartbeat, want online", got.Status)
	}

	if err := reg.Heartbeat(ctx, "ghost"); !models.IsNotFound(err) {
		t.Errorf("Heartbeat(unknown) error = %v, want not found", err)
	}
}

func TestRegistry_HeartbeatRestoresBusy(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemory()
	reg := NewRegistry(store, nil)

	bot, _ := reg.Register(ctx, "b", nil, nil)
	reg.MarkOnline(ctx, bot.ID)
	if err := reg.Claim(ctx, bot.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	task, err := models.NewTask("t", "", nil, 300)
	if err != nil {
		t.Fatalf("NewTask() error = %v", err)
	}
	if err := task.Assign(bot.ID); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	// Mid-task disconnect, then the bot checks back in: it must come
	// back busy, not into the available pool.
	reg.MarkOffline(ctx, bot.ID)
	if err := reg.Heartbeat(ctx, bot.ID); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	got, _ := reg.Get(ctx, bot.ID)
	if got.Status != models.BotStatusBusy {
		t.Errorf("Status = %s after revival with live task, want busy", got.Status)
	}

	// Once the task is finished the same revival lands online.
	if err := task.Complete("done"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	reg.MarkOffline(ctx, bot.ID)
	if err := reg.Heartbeat(ctx, bot.ID); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	got, _ = reg.Get(ctx, bot.ID)
	if got.Status != models.BotStatusOnline {
		t.Errorf("Status = %s after revival without tasks, want online", got.Status)
	}
}

func TestRegistry_FindAvailableOrdering(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemory()
	reg := NewRegistry(store, nil)

	first, _ := reg.Register(ctx, "first", []string{"ocr"}, nil)
	second, _ := reg.Register(ctx, "second", []string{"ocr"}, nil)
	reg.MarkOnline(ctx, first.ID)
	reg.MarkOnline(ctx, second.ID)

	// Make "second" the least recently seen.
	b, _ := store.GetBot(ctx, second.ID)
	b.LastSeenAt = time.Now().UTC().Add(-time.Hour)
	store.UpdateBot(ctx, b)

	available, err := reg.FindAvailable(ctx, "ocr")
	if err != nil {
		t.Fatalf("FindAvailable() error = %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("FindAvailable() = %d bots, want 2", len(available))
	}
	if available[0].ID != second.ID {
		t.Errorf("first candidate = %s, want least recently seen", available[0].Name)
	}
}

func TestRegistry_ReleaseKeepsOffline(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()

	bot, _ := reg.Register(ctx, "b", nil, nil)
	reg.MarkOnline(ctx, bot.ID)
	reg.Claim(ctx, bot.ID)
	reg.MarkOffline(ctx, bot.ID)

	// Sweeper releasing a disconnected bot must not bring it online.
	if err := reg.Release(ctx, bot.ID); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	got, _ := reg.Get(ctx, bot.ID)
	if got.Status != models.BotStatusOffline {
		t.Errorf("Status = %s, want offline preserved", got.Status)
	}
}

func TestRegistry_FindStale(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemory()
	reg := NewRegistry(store, nil)

	fresh, _ := reg.Register(ctx, "fresh", nil, nil)
	stale, _ := reg.Register(ctx, "stale", nil, nil)
	b, _ := store.GetBot(ctx, stale.ID)
	b.LastSeenAt = time.Now().UTC().Add(-10 * time.Minute)
	store.UpdateBot(ctx, b)

	got, err := reg.FindStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("FindStale() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Errorf("FindStale() = %d bots, want just the stale one", len(got))
	}
	_ = fresh
}
