// clawbot-agent is a reference bot: it registers itself with the
// coordinator, holds a WebSocket connection, heartbeats, and simulates
// task execution. The payload controls the simulation: a
// "duration_seconds" number overrides the work time and "fail": true
// reports a failure instead of a result.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawbot/coordinator/pkg/messages"
	"github.com/clawbot/coordinator/pkg/models"
)

const maxBackoff = 30 * time.Second

type agent struct {
	serverURL    string
	name         string
	capabilities []string
	heartbeat    time.Duration
	workTime     time.Duration

	botID string
	token string

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func main() {
	var (
		server       = flag.String("server", envOr("CLAWBOT_SERVER", "http://localhost:8080"), "Coordinator URL")
		name         = flag.String("name", defaultName(), "Bot name")
		capabilities = flag.String("capabilities", "", "Comma-separated capability list")
		heartbeat    = flag.Duration("heartbeat", 30*time.Second, "Heartbeat interval")
		work         = flag.Duration("work", 2*time.Second, "Simulated work time per task")
	)
	flag.Parse()

	a := &agent{
		serverURL: strings.TrimSuffix(*server, "/"),
		name:      *name,
		heartbeat: *heartbeat,
		workTime:  *work,
		running:   make(map[string]context.CancelFunc),
	}
	if *capabilities != "" {
		a.capabilities = strings.Split(*capabilities, ",")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[Agent] shutting down")
		cancel()
	}()

	if err := a.register(ctx); err != nil {
		log.Fatalf("[Agent] register: %v", err)
	}
	log.Printf("[Agent] registered as %s (%s)", a.name, a.botID)

	a.run(ctx)
}

// run keeps a connection alive until ctx is cancelled, reconnecting
// with exponential backoff.
func (a *agent) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := a.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[Agent] connection lost: %v", err)
		}

		// A 404 on the upgrade means the coordinator no longer knows
		// this bot (e.g. restart on the memory store); register again.
		if isGoneError(err) {
			if rerr := a.register(ctx); rerr != nil {
				log.Printf("[Agent] re-register: %v", rerr)
			} else {
				log.Printf("[Agent] re-registered as %s", a.botID)
				backoff = time.Second
				continue
			}
		}

		log.Printf("[Agent] reconnecting in %s", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session dials the data plane and serves one connection to its end.
func (a *agent) session(ctx context.Context) error {
	wsURL := "ws" + strings.TrimPrefix(a.serverURL, "http") + "/ws?bot_id=" + a.botID
	if a.token != "" {
		wsURL += "&token=" + a.token
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return err
	}
	defer conn.Close()

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// gorilla allows one concurrent writer; everything outbound goes
	// through send.
	send := make(chan *messages.Frame, 32)
	writeDone := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(a.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-sessCtx.Done():
				writeDone <- nil
				return
			case frame := <-send:
				data, err := frame.Encode()
				if err != nil {
					log.Printf("[Agent] encode %s frame: %v", frame.Type, err)
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					writeDone <- err
					return
				}
			case <-ticker.C:
				data, _ := messages.Heartbeat().Encode()
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					writeDone <- err
					return
				}
			}
		}
	}()

	// Close the socket when the caller's context ends so the read
	// below unblocks.
	go func() {
		<-sessCtx.Done()
		conn.Close()
	}()

	for {
		select {
		case err := <-writeDone:
			return err
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := messages.DecodeFrame(data)
		if err != nil {
			log.Printf("[Agent] bad frame: %v", err)
			continue
		}
		a.handleFrame(sessCtx, frame, send)
	}
}

func (a *agent) handleFrame(ctx context.Context, frame *messages.Frame, send chan<- *messages.Frame) {
	switch frame.Type {
	case messages.FrameConnected:
		log.Printf("[Agent] connected to coordinator")

	case messages.FrameTaskAssigned:
		// The coordinator redelivers assignments it is not sure arrived,
		// so the same task can show up twice.
		taskCtx, cancel := context.WithCancel(ctx)
		a.mu.Lock()
		if _, dup := a.running[frame.TaskID]; dup {
			a.mu.Unlock()
			cancel()
			log.Printf("[Agent] task %s already running, ignoring redelivery", frame.TaskID)
			return
		}
		a.running[frame.TaskID] = cancel
		a.mu.Unlock()
		log.Printf("[Agent] assigned task %s", frame.TaskID)
		go a.work(taskCtx, frame, send)

	case messages.FrameTaskCancel:
		log.Printf("[Agent] task %s cancelled by coordinator", frame.TaskID)
		a.mu.Lock()
		if cancel, ok := a.running[frame.TaskID]; ok {
			cancel()
			delete(a.running, frame.TaskID)
		}
		a.mu.Unlock()

	case messages.FrameError:
		log.Printf("[Agent] coordinator error: %v", frame.Payload["reason"])

	case messages.FrameHeartbeat:
		// Liveness echo from the server; nothing to do.

	default:
		log.Printf("[Agent] unhandled frame type %q", frame.Type)
	}
}

// work simulates executing one task and reports the outcome.
func (a *agent) work(ctx context.Context, assigned *messages.Frame, send chan<- *messages.Frame) {
	taskID := assigned.TaskID
	defer func() {
		a.mu.Lock()
		delete(a.running, taskID)
		a.mu.Unlock()
	}()

	select {
	case send <- messages.TaskProgress(taskID):
	case <-ctx.Done():
		return
	}

	duration := a.workTime
	shouldFail := false
	if payload, ok := assigned.Payload["payload"].(map[string]interface{}); ok {
		if secs, ok := payload["duration_seconds"].(float64); ok && secs > 0 {
			duration = time.Duration(secs * float64(time.Second))
		}
		if fail, ok := payload["fail"].(bool); ok {
			shouldFail = fail
		}
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return
	}

	var result *messages.Frame
	if shouldFail {
		result = messages.TaskComplete(taskID, false, "", "simulated failure")
	} else {
		result = messages.TaskComplete(taskID, true, fmt.Sprintf("done in %s", duration), "")
	}

	select {
	case send <- result:
		log.Printf("[Agent] task %s finished (failed=%v)", taskID, shouldFail)
	case <-ctx.Done():
	}
}

// register creates (or re-creates) this bot on the coordinator and
// stores the returned connection token.
func (a *agent) register(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"name":         a.name,
		"capabilities": a.capabilities,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL+"/api/v1/bots", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("register returned status %d", resp.StatusCode)
	}

	var out struct {
		Bot   *models.Bot `json:"bot"`
		Token string      `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	if out.Bot == nil || out.Bot.ID == "" {
		return fmt.Errorf("register response missing bot")
	}

	a.botID = out.Bot.ID
	a.token = out.Token
	return nil
}

func isGoneError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "status 404")
}

func defaultName() string {
	if name := os.Getenv("CLAWBOT_NAME"); name != "" {
		return name
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "clawbot-agent"
	}
	return "agent-" + hostname
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
