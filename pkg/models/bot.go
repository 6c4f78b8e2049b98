package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BotStatus represents the availability of a registered bot.
type BotStatus string

const (
	BotStatusOffline BotStatus = "offline"
	BotStatusOnline  BotStatus = "online"
	BotStatusBusy    BotStatus = "busy"
)

// Bot represents a worker that registers with the coordinator and
// executes tasks pushed to it over its WebSocket connection.
type Bot struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       BotStatus      `json:"status"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastSeenAt   time.Time      `json:"last_seen_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NewBot creates a freshly registered bot. Bots start offline and only
// become eligible for work once they connect or heartbeat.
func NewBot(name string, capabilities []string, metadata map[string]any) (*Bot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	now := time.Now().UTC()
	return &Bot{
		ID:           uuid.New().String(),
		Name:         name,
		Status:       BotStatusOffline,
		Capabilities: normalizeCapabilities(capabilities),
		Metadata:     metadata,
		LastSeenAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func normalizeCapabilities(caps []string) []string {
	out := make([]string, 0, len(caps))
	seen := make(map[string]bool, len(caps))
	for _, c := range caps {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// HasCapability reports whether the bot advertises the capability.
// An empty requirement matches every bot.
func (b *Bot) HasCapability(capability string) bool {
	if capability == "" {
		return true
	}
	capability = strings.ToLower(strings.TrimSpace(capability))
	for _, c := range b.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// MarkOnline transitions the bot to online. Valid from any state:
// offline bots come up, busy bots are released, online is idempotent.
func (b *Bot) MarkOnline() {
	b.Status = BotStatusOnline
	b.touch()
}

// MarkOffline transitions the bot to offline. Valid from any state.
// Going offline never touches the bot's in-flight task; the timeout
// sweeper decides whether that work is dead.
func (b *Bot) MarkOffline() {
	b.Status = BotStatusOffline
	b.touch()
}

// MarkBusy claims the bot for a task. Only an online bot can be
// claimed; this edge is what makes concurrent assignment race-safe.
func (b *Bot) MarkBusy() error {
	if b.Status != BotStatusOnline {
		return &InvalidStateError{Action: "claim", Kind: "bot", State: string(b.Status)}
	}
	b.Status = BotStatusBusy
	b.touch()
	return nil
}

// Heartbeat refreshes the bot's last-seen time. An offline bot is
// revived to online; a busy bot stays busy.
func (b *Bot) Heartbeat() {
	if b.Status == BotStatusOffline {
		b.Status = BotStatusOnline
	}
	b.touch()
}

// Available reports whether the bot can accept a new task.
func (b *Bot) Available() bool {
	return b.Status == BotStatusOnline
}

func (b *Bot) touch() {
	now := time.Now().UTC()
	b.LastSeenAt = now
	b.UpdatedAt = now
}
