// Package eventhub broadcasts engine events to connected WebSocket
// observers (spec.md §6 "To the desktop shell/UI layer"), grounded on the
// teacher's internal/agenthub connection-registry pattern: a register/
// unregister pair of channels serialize membership changes, and each
// connection owns a buffered Send channel drained by its own writer
// goroutine (see DESIGN.md).
package eventhub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wayfarer-dev/wayfarer/internal/logging"
)

// Frame is one event pushed to every connected observer.
type Frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out Frames to every connected client.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	register   chan *client
	unregister chan *client
}

// New constructs an empty Hub. Call Run in its own goroutine to service it.
func New() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		register:   make(chan *client, 1),
		unregister: make(chan *client, 1),
	}
}

// Run services the membership channels until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.clients[c.id]; ok && existing == c {
				close(c.send)
				delete(h.clients, c.id)
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes event/payload to every connected observer. Non-blocking:
// a client with a full send buffer is skipped rather than stalling the
// caller (spec.md §4.10 "Event emission ... must never affect correctness").
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(Frame{Event: event, Payload: payload})
	if err != nil {
		logging.Errorf("eventhub: marshal %s: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			logging.Warnf("eventhub: client %s send buffer full, dropping %s", c.id, event)
		}
	}
}

// Serve takes an already-upgraded websocket conn, registers id as an observer, and
// drives its read pump until the connection closes. The write pump runs in
// its own goroutine so a slow or silent observer can't block registration.
func (h *Hub) Serve(id string, conn *websocket.Conn) {
	c := &client{id: id, conn: conn, send: make(chan []byte, 256)}
	h.register <- c

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop drains and discards inbound frames purely to detect disconnects;
// observers are receive-only in this engine's event model. Unregistering
// here, not from writeLoop, means a closed connection is noticed as soon as
// ReadMessage errors rather than waiting for the next ping tick.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
