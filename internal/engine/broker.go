package engine

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/livepreview/previewd/internal/protocol"
)

// client is one connected reload listener. Writes go through a buffered send
// channel drained by writePump so a stalled browser cannot block a broadcast.
type client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 8),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub tracks connected reload clients and broadcasts the reload signal.
// Registrations are ephemeral; the set's cardinality is the only durable
// fact anyone consumes.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	stats   *Stats
}

func NewHub(stats *Stats) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		stats:   stats,
	}
}

func (h *Hub) Add(conn *websocket.Conn) *client {
	c := newClient(conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	if h.stats != nil {
		h.stats.WSOpened()
	}
	return c
}

func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
	if ok && h.stats != nil {
		h.stats.WSClosed()
	}
}

// Broadcast sends the reload payload to every registered client and returns
// how many were notified. Clients whose send buffer is full are dropped:
// a reload listener that can't keep up with reload messages is dead weight.
func (h *Hub) Broadcast() int {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	payload := []byte(protocol.ReloadPayload)
	sent := 0
	for _, c := range clients {
		select {
		case c.send <- payload:
			sent++
		default:
			log.Printf("engine: reload client too slow, disconnecting")
			h.Remove(c)
		}
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client. Called on server shutdown so browsers
// notice the drop and start their reconnect loops.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
		if h.stats != nil {
			h.stats.WSClosed()
		}
	}
}
