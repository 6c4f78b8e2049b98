// Package events publishes coordinator lifecycle events to NATS so
// external systems can follow task and bot activity without polling.
// Publishing is best-effort everywhere: callers log failures and move
// on, an unreachable bus never fails an operation.
package events

import (
	"context"

	"github.com/clawbot/coordinator/pkg/messages"
)

// Publisher abstracts event publishing for testability.
type Publisher interface {
	PublishEvent(ctx context.Context, event *messages.Event) error
	Close()
}

// Noop discards events. Used when no NATS URL is configured.
type Noop struct{}

func (Noop) PublishEvent(ctx context.Context, event *messages.Event) error { return nil }
func (Noop) Close()                                                        {}

// Verify implementations at compile time.
var (
	_ Publisher = (*NatsPublisher)(nil)
	_ Publisher = Noop{}
)
