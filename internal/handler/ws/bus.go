package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// client wraps one live connection. gorilla allows a single concurrent
// writer, so every send goes through the per-client write lock.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Bus fans payloads out to every live connection. A failed delivery removes
// the connection from the roster; there is no heartbeat subsystem, dead
// connections are pruned lazily on send failure.
type Bus struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewBus creates an empty broadcast bus.
func NewBus() *Bus {
	return &Bus{clients: make(map[*client]struct{})}
}

func (b *Bus) add(c *client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus) remove(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// Publish delivers the payload to every registered connection, marshaling
// once. Connections that fail to accept the write are dropped.
func (b *Bus) Publish(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[bus] marshal failed: %v", err)
		return
	}

	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			b.remove(c)
		}
	}
}

// SendTo delivers the payload to one connection without affecting others.
func (b *Bus) SendTo(c *client, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[bus] marshal failed: %v", err)
		return
	}
	if err := c.send(data); err != nil {
		log.Printf("[bus] send failed: %v", err)
	}
}
