package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clawbot/coordinator/pkg/messages"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// maxFrameSize caps inbound frames. Result payloads fit well under
	// this; anything larger is a misbehaving client.
	maxFrameSize = 64 * 1024
)

// client is one bot connection with its bounded outbound queue. The
// read and write pumps are the only goroutines touching conn.
type client struct {
	hub   *Hub
	botID string
	conn  *websocket.Conn
	send  chan []byte

	closeOnce sync.Once
}

func newClient(h *Hub, botID string, conn *websocket.Conn, queueSize int) *client {
	return &client{
		hub:   h,
		botID: botID,
		conn:  conn,
		send:  make(chan []byte, queueSize),
	}
}

// enqueue queues data, dropping the oldest frame when the queue is
// full. Callers hold the hub lock so the queue cannot be shut down
// mid-enqueue. Returns whether anything was dropped.
func (c *client) enqueue(data []byte) (dropped bool) {
	for {
		select {
		case c.send <- data:
			return dropped
		default:
		}
		select {
		case <-c.send:
			dropped = true
		default:
		}
	}
}

// readPump consumes inbound frames until the connection dies, then
// unregisters. Pongs and frames both refresh the read deadline, so a
// bot busy on a long task stays connected as long as it answers pings.
func (c *client) readPump(pongWait time.Duration) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.hub.registry.Heartbeat(context.Background(), c.botID); err != nil {
			log.Printf("[Hub] pong from %s: %v", c.botID, err)
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Hub] read from %s: %v", c.botID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := messages.DecodeFrame(data)
		if err != nil {
			log.Printf("[Hub] bad frame from %s: %v", c.botID, err)
			c.hub.send(c, messages.ErrorFrame("malformed frame: "+err.Error()))
			continue
		}
		c.hub.handleFrame(c, frame)
	}
}

// writePump drains the queue onto the wire, one frame per message, and
// pings on the heartbeat interval. Exits when the queue is shut down
// or a write fails.
func (c *client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("[Hub] write to %s: %v", c.botID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
