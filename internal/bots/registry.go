// Package bots manages the fleet registry: registration, liveness and
// the availability queries the assignment path selects from.
package bots

import (
	"context"
	"log"
	"time"

	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/internal/events"
	"github.com/clawbot/coordinator/pkg/messages"
	"github.com/clawbot/coordinator/pkg/models"
)

// Registry tracks registered bots and their availability.
type Registry struct {
	store     database.Store
	publisher events.Publisher
}

// NewRegistry creates a registry over the given store. publisher may
// be nil; lifecycle events are then skipped.
func NewRegistry(store database.Store, publisher events.Publisher) *Registry {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Registry{store: store, publisher: publisher}
}

// Register creates a new bot. Bots start offline; they become
// assignable once they connect or heartbeat.
func (r *Registry) Register(ctx context.Context, name string, capabilities []string, metadata map[string]any) (*models.Bot, error) {
	bot, err := models.NewBot(name, capabilities, metadata)
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateBot(ctx, bot); err != nil {
		return nil, err
	}

	log.Printf("[Bots] registered %s (%s) capabilities=%v", bot.Name, bot.ID, bot.Capabilities)
	r.publish(ctx, messages.BotEvent(messages.EventBotRegistered, bot.ID, "registry"))
	return bot, nil
}

// Get returns a bot by ID.
func (r *Registry) Get(ctx context.Context, id string) (*models.Bot, error) {
	return r.store.GetBot(ctx, id)
}

// List returns bots matching the filter.
func (r *Registry) List(ctx context.Context, filter database.BotFilter) ([]*models.Bot, error) {
	return r.store.ListBots(ctx, filter)
}

// Deregister removes a bot. A busy bot cannot be removed; cancel or
// finish its task first.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	bot, err := r.store.GetBot(ctx, id)
	if err != nil {
		return err
	}
	if bot.Status == models.BotStatusBusy {
		return &models.InvalidStateError{Action: "deregister", Kind: "bot", State: string(bot.Status)}
	}
	if err := r.store.DeleteBot(ctx, id); err != nil {
		return err
	}
	log.Printf("[Bots] deregistered %s (%s)", bot.Name, bot.ID)
	return nil
}

// MarkOnline puts the bot into rotation and refreshes last-seen.
func (r *Registry) MarkOnline(ctx context.Context, id string) error {
	if err := r.store.SetBotStatus(ctx, id, models.BotStatusOnline, time.Now().UTC()); err != nil {
		return err
	}
	r.publish(ctx, messages.BotEvent(messages.EventBotOnline, id, "registry"))
	return nil
}

// MarkOffline takes the bot out of rotation. Its in-flight task, if
// any, is left to the timeout sweeper.
func (r *Registry) MarkOffline(ctx context.Context, id string) error {
	if err := r.store.SetBotStatus(ctx, id, models.BotStatusOffline, time.Now().UTC()); err != nil {
		return err
	}
	r.publish(ctx, messages.BotEvent(messages.EventBotOffline, id, "registry"))
	return nil
}

// Heartbeat refreshes last-seen. A busy bot stays busy so it cannot be
// double-booked. An offline bot is revived: back to busy when a live
// task is still bound to it (it dropped off mid-task), online
// otherwise. AssignedBot is cleared on terminal transitions, so any
// task still naming the bot is live.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC()

	bot, err := r.store.GetBot(ctx, id)
	if err != nil {
		return err
	}
	if bot.Status != models.BotStatusOffline {
		return r.store.TouchBot(ctx, id, now)
	}

	live, err := r.store.ListTasks(ctx, database.TaskFilter{AssignedBot: id, Limit: 1})
	if err != nil {
		return err
	}
	status := models.BotStatusOnline
	if len(live) > 0 {
		status = models.BotStatusBusy
	}
	if err := r.store.SetBotStatus(ctx, id, status, now); err != nil {
		return err
	}
	if status == models.BotStatusBusy {
		// The task may have been expired or cancelled between the
		// lookup and the write; hand the bot back if nothing is bound
		// to it anymore.
		if live, err = r.store.ListTasks(ctx, database.TaskFilter{AssignedBot: id, Limit: 1}); err == nil && len(live) == 0 {
			return r.store.ReleaseBot(ctx, id, now)
		}
		return nil
	}
	r.publish(ctx, messages.BotEvent(messages.EventBotOnline, id, "registry"))
	return nil
}

// Claim atomically reserves an online bot for a task. Exactly one of
// any concurrent claims succeeds.
func (r *Registry) Claim(ctx context.Context, id string) error {
	return r.store.ClaimBot(ctx, id, time.Now().UTC())
}

// Release returns a busy bot to the available pool. Bots that went
// offline in the meantime stay offline.
func (r *Registry) Release(ctx context.Context, id string) error {
	return r.store.ReleaseBot(ctx, id, time.Now().UTC())
}

// FindAvailable returns online bots carrying the capability, least
// recently seen first so assignments rotate through the fleet.
func (r *Registry) FindAvailable(ctx context.Context, capability string) ([]*models.Bot, error) {
	return r.store.AvailableBots(ctx, capability)
}

// FindStale returns bots not seen since the cutoff, for ops visibility.
func (r *Registry) FindStale(ctx context.Context, olderThan time.Duration) ([]*models.Bot, error) {
	bots, err := r.store.ListBots(ctx, database.BotFilter{})
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	stale := []*models.Bot{}
	for _, bot := range bots {
		if bot.LastSeenAt.Before(cutoff) {
			stale = append(stale, bot)
		}
	}
	return stale, nil
}

func (r *Registry) publish(ctx context.Context, event *messages.Event) {
	if err := r.publisher.PublishEvent(ctx, event); err != nil {
		log.Printf("[Bots] event publish failed for %s: %v", event.Type, err)
	}
}
