package integration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/clawbot/coordinator/internal/events"
	"github.com/clawbot/coordinator/pkg/messages"
)

// connectNATS returns a raw connection to a local broker, skipping the
// test when none is running.
func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect("nats://localhost:4222", nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("NATS not available at localhost:4222: %v", err)
	}
	return nc
}

func TestNatsEventRoundTrip(t *testing.T) {
	nc := connectNATS(t)
	defer nc.Close()

	// Unique prefix and stream per run so parallel CI runs and a live
	// coordinator on the same broker cannot collide.
	suffix := uuid.New().String()[:8]
	prefix := "clawbot-test-" + suffix
	stream := "CLAWBOT_TEST_" + suffix

	pub, err := events.NewNatsPublisher(events.Config{
		URL:           "nats://localhost:4222",
		StreamName:    stream,
		SubjectPrefix: prefix,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewNatsPublisher() error = %v, want nil", err)
	}
	defer func() {
		pub.Close()
		if js, err := nc.JetStream(); err == nil {
			js.DeleteStream(stream)
		}
	}()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.Subscribe(prefix+".events.>", func(msg *nats.Msg) {
		select {
		case received <- msg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v, want nil", err)
	}
	defer sub.Unsubscribe()

	taskID := uuid.New().String()
	event := messages.TaskEvent(messages.EventTaskCompleted, taskID, "coordinator", map[string]interface{}{
		"status": "completed",
		"bot_id": "bot-1",
	})
	if err := pub.PublishEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishEvent() error = %v, want nil", err)
	}

	select {
	case msg := <-received:
		wantSubject := prefix + ".events.task.completed"
		if msg.Subject != wantSubject {
			t.Errorf("subject = %q, want %q", msg.Subject, wantSubject)
		}
		var got messages.Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if got.Type != messages.EventTaskCompleted {
			t.Errorf("Type = %q, want %q", got.Type, messages.EventTaskCompleted)
		}
		if got.EntityID != taskID {
			t.Errorf("EntityID = %q, want %q", got.EntityID, taskID)
		}
		if got.Data["bot_id"] != "bot-1" {
			t.Errorf("Data[bot_id] = %v, want %q", got.Data["bot_id"], "bot-1")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived on the bus")
	}
}

func TestNatsEventsSurviveResubscribe(t *testing.T) {
	nc := connectNATS(t)
	defer nc.Close()

	suffix := uuid.New().String()[:8]
	prefix := "clawbot-test-" + suffix
	stream := "CLAWBOT_TEST_" + suffix

	pub, err := events.NewNatsPublisher(events.Config{
		URL:           "nats://localhost:4222",
		StreamName:    stream,
		SubjectPrefix: prefix,
		Timeout:       5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewNatsPublisher() error = %v, want nil", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("JetStream() error = %v, want nil", err)
	}
	defer func() {
		pub.Close()
		js.DeleteStream(stream)
	}()

	// Publish before anyone subscribes; JetStream retains it.
	event := messages.BotEvent(messages.EventBotRegistered, "bot-42", "registry")
	if err := pub.PublishEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishEvent() error = %v, want nil", err)
	}

	received := make(chan *nats.Msg, 1)
	sub, err := js.Subscribe(prefix+".events.bot.>", func(msg *nats.Msg) {
		select {
		case received <- msg:
		default:
		}
	}, nats.DeliverAll())
	if err != nil {
		t.Fatalf("Subscribe() error = %v, want nil", err)
	}
	defer sub.Unsubscribe()

	select {
	case msg := <-received:
		var got messages.Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if got.EntityID != "bot-42" {
			t.Errorf("EntityID = %q, want %q", got.EntityID, "bot-42")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retained event never delivered")
	}
}
