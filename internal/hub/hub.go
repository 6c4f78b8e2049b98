// Package hub is the WebSocket data plane: it maps each bot to its one
// live connection, pushes assignment frames out, and feeds inbound
// reports to the coordinator. The hub never decides task state; a dead
// connection only ever marks the bot offline and leaves in-flight work
// to the timeout sweeper.
package hub

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawbot/coordinator/internal/bots"
	"github.com/clawbot/coordinator/internal/metrics"
	"github.com/clawbot/coordinator/pkg/messages"
	"github.com/clawbot/coordinator/pkg/models"
)

// Handler consumes task reports and liveness signals arriving over bot
// connections. The coordinator implements it; the indirection keeps
// this package free of assignment logic.
type Handler interface {
	HandleProgress(ctx context.Context, taskID, botID string) error
	HandleCompletion(ctx context.Context, taskID, botID string, success bool, result, errMsg string) error
	// HandleHeartbeat fires on every connect and heartbeat frame so
	// assignments whose push was dropped can be delivered again.
	HandleHeartbeat(ctx context.Context, botID string) error
}

// Options tunes connection liveness and queueing.
type Options struct {
	// HeartbeatInterval is how often the server pings each connection.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a connection may stay silent before
	// it is considered dead and closed.
	HeartbeatTimeout time.Duration
	// SendQueueSize bounds the per-bot outbound queue. A full queue
	// drops the oldest frame, never blocks.
	SendQueueSize int
}

func (o *Options) withDefaults() Options {
	out := Options{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		SendQueueSize:     256,
	}
	if o == nil {
		return out
	}
	if o.HeartbeatInterval > 0 {
		out.HeartbeatInterval = o.HeartbeatInterval
	}
	if o.HeartbeatTimeout > 0 {
		out.HeartbeatTimeout = o.HeartbeatTimeout
	}
	if o.SendQueueSize > 0 {
		out.SendQueueSize = o.SendQueueSize
	}
	return out
}

// Hub tracks live bot connections. At most one connection per bot: a
// reconnect supersedes and closes the previous one.
type Hub struct {
	registry *bots.Registry
	opts     Options
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*client
	handler Handler
}

// New creates a hub over the bot registry.
func New(registry *bots.Registry, opts *Options) *Hub {
	return &Hub{
		registry: registry,
		opts:     opts.withDefaults(),
		metrics:  metrics.New(),
		clients:  make(map[string]*client),
	}
}

// SetHandler wires the report consumer. Must be called before the
// first connection is accepted; frames arriving without a handler are
// answered with an error frame.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// Connect registers conn as the bot's live connection, superseding and
// closing any previous one, then sends the welcome frame and brings
// the bot back into rotation (busy again if it still holds a live
// task). Assignments the bot missed while away are redelivered.
func (h *Hub) Connect(ctx context.Context, botID string, conn *websocket.Conn) {
	c := newClient(h, botID, conn, h.opts.SendQueueSize)

	h.mu.Lock()
	old := h.clients[botID]
	h.clients[botID] = c
	h.metrics.ConnectedBots.Set(float64(len(h.clients)))
	h.mu.Unlock()

	if old != nil {
		log.Printf("[Hub] bot %s reconnected, superseding previous connection", botID)
		old.conn.Close()
	} else {
		log.Printf("[Hub] bot %s connected", botID)
	}

	go c.writePump(h.opts.HeartbeatInterval)
	go c.readPump(h.opts.HeartbeatTimeout)

	h.send(c, messages.Connected(botID))

	if err := h.registry.Heartbeat(ctx, botID); err != nil {
		log.Printf("[Hub] revive %s: %v", botID, err)
	}
	h.notifyLive(ctx, botID)
}

// Disconnect closes the bot's connection, if any, and marks it
// offline. In-flight tasks are left alone; the sweeper owns failure.
func (h *Hub) Disconnect(botID string) {
	h.mu.RLock()
	c := h.clients[botID]
	h.mu.RUnlock()

	if c == nil {
		return
	}
	h.unregister(c)
	c.conn.Close()
}

// unregister removes the client if it is still the bot's current
// connection. A superseded client only has its queue shut down; the
// bot stays online on its replacement connection.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	current := h.clients[c.botID] == c
	if current {
		delete(h.clients, c.botID)
		h.metrics.ConnectedBots.Set(float64(len(h.clients)))
	}
	c.closeOnce.Do(func() { close(c.send) })
	h.mu.Unlock()

	if !current {
		return
	}
	log.Printf("[Hub] bot %s disconnected", c.botID)
	if err := h.registry.MarkOffline(context.Background(), c.botID); err != nil && !models.IsNotFound(err) {
		log.Printf("[Hub] mark offline %s: %v", c.botID, err)
	}
}

// Push queues a frame for the bot. Returns false when the bot has no
// live connection; the caller's state is unaffected either way, so an
// undelivered assignment simply waits for reconnect or the sweeper.
func (h *Hub) Push(botID string, frame *messages.Frame) bool {
	data, err := frame.Encode()
	if err != nil {
		log.Printf("[Hub] encode %s frame: %v", frame.Type, err)
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[botID]
	if !ok {
		log.Printf("[Hub] bot %s not connected, %s frame not delivered", botID, frame.Type)
		return false
	}
	dropped := c.enqueue(data)
	h.metrics.RecordPush(string(frame.Type), dropped)
	return true
}

// Broadcast queues a frame for every connected bot and returns how
// many received it.
func (h *Hub) Broadcast(frame *messages.Frame) int {
	data, err := frame.Encode()
	if err != nil {
		log.Printf("[Hub] encode %s frame: %v", frame.Type, err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		dropped := c.enqueue(data)
		h.metrics.RecordPush(string(frame.Type), dropped)
	}
	return len(h.clients)
}

// send delivers a frame to a specific client while it is still
// registered. Replies from the read loop go through here so a racing
// close cannot hit a shut-down queue.
func (h *Hub) send(c *client, frame *messages.Frame) {
	data, err := frame.Encode()
	if err != nil {
		log.Printf("[Hub] encode %s frame: %v", frame.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c.botID] != c {
		return
	}
	c.enqueue(data)
}

// IsConnected reports whether the bot has a live connection.
func (h *Hub) IsConnected(botID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[botID]
	return ok
}

// Connections returns the connected bot IDs, sorted for stable output.
func (h *Hub) Connections() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Run executes the liveness pass until ctx is cancelled: bots that
// have not been seen within the heartbeat timeout are disconnected and
// taken out of rotation. Connected bots refresh last-seen via their
// pongs, so only truly silent ones age out.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.expireStaleBots(ctx)
		}
	}
}

func (h *Hub) expireStaleBots(ctx context.Context) {
	stale, err := h.registry.FindStale(ctx, h.opts.HeartbeatTimeout)
	if err != nil {
		log.Printf("[Hub] stale bot query: %v", err)
		return
	}

	for _, bot := range stale {
		if bot.Status == models.BotStatusOffline {
			continue
		}
		if h.IsConnected(bot.ID) {
			// The read deadline usually beats this pass; closing here
			// covers a connection stuck past it.
			log.Printf("[Hub] bot %s silent for over %s, closing connection", bot.ID, h.opts.HeartbeatTimeout)
			h.Disconnect(bot.ID)
			continue
		}
		log.Printf("[Hub] bot %s silent for over %s, marking offline", bot.ID, h.opts.HeartbeatTimeout)
		if err := h.registry.MarkOffline(ctx, bot.ID); err != nil && !models.IsNotFound(err) {
			log.Printf("[Hub] mark offline %s: %v", bot.ID, err)
		}
	}
}

// handleFrame routes one inbound frame. Bad frames are answered with
// an error frame and logged; the connection always survives.
func (h *Hub) handleFrame(c *client, frame *messages.Frame) {
	ctx := context.Background()

	switch frame.Type {
	case messages.FrameHeartbeat:
		if err := h.registry.Heartbeat(ctx, c.botID); err != nil {
			log.Printf("[Hub] heartbeat from %s: %v", c.botID, err)
		}
		h.notifyLive(ctx, c.botID)

	case messages.FrameTaskProgress:
		h.withHandler(c, func(handler Handler) error {
			return handler.HandleProgress(ctx, frame.TaskID, c.botID)
		})

	case messages.FrameTaskComplete:
		success, result, errMsg := frame.CompletionResult()
		h.withHandler(c, func(handler Handler) error {
			return handler.HandleCompletion(ctx, frame.TaskID, c.botID, success, result, errMsg)
		})

	default:
		log.Printf("[Hub] unknown frame type %q from %s", frame.Type, c.botID)
		h.send(c, messages.ErrorFrame("unknown frame type: "+string(frame.Type)))
	}
}

func (h *Hub) withHandler(c *client, fn func(Handler) error) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()

	if handler == nil {
		h.send(c, messages.ErrorFrame("coordinator not ready"))
		return
	}
	if err := fn(handler); err != nil {
		log.Printf("[Hub] report from %s rejected: %v", c.botID, err)
		h.send(c, messages.ErrorFrame(err.Error()))
	}
}

// notifyLive hands a liveness signal to the handler. Unlike reports,
// a failure here is the server's problem, so the bot gets no error
// frame.
func (h *Hub) notifyLive(ctx context.Context, botID string) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()

	if handler == nil {
		return
	}
	if err := handler.HandleHeartbeat(ctx, botID); err != nil {
		log.Printf("[Hub] heartbeat handling for %s: %v", botID, err)
	}
}
