package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/clawbot/coordinator/pkg/messages"
)

// NatsPublisher publishes events to NATS with JetStream durability.
type NatsPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // NATS server URL (e.g. "nats://nats:4222")
	StreamName    string        // JetStream stream name (default "CLAWBOT")
	SubjectPrefix string        // Subject prefix (default "clawbot")
	Timeout       time.Duration // Connection timeout
}

// NewNatsPublisher connects to NATS and ensures the event stream exists.
func NewNatsPublisher(cfg Config) (*NatsPublisher, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "CLAWBOT"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "clawbot"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Events] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Events] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &NatsPublisher{conn: nc, js: js, prefix: cfg.SubjectPrefix}
	if err := p.ensureStream(cfg.StreamName); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[Events] connected to NATS at %s, stream %s", cfg.URL, cfg.StreamName)
	return p, nil
}

func (p *NatsPublisher) ensureStream(name string) error {
	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  []string{p.prefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := p.js.StreamInfo(name); err != nil {
		if _, err := p.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[Events] created JetStream stream %s", name)
	}
	return nil
}

// PublishEvent publishes a lifecycle event. The subject is
// "<prefix>.events.<type>", e.g. "clawbot.events.task.completed".
func (p *NatsPublisher) PublishEvent(ctx context.Context, event *messages.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := subjectFor(p.prefix, event.Type)
	if _, err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so queued publishes flush.
func (p *NatsPublisher) Close() {
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

func subjectFor(prefix, eventType string) string {
	return strings.Join([]string{prefix, "events", eventType}, ".")
}
