// ABOUTME: WebSocket hub fanning realtime events out to connected clients
// ABOUTME: Single run loop owns the client set; broadcast preserves send order

package hub

import (
	"context"
	"log/slog"
	"sync"
)

// Hub maintains the set of connected clients and broadcasts event frames to
// all of them. All mutations of the client set happen on the Run loop; the
// broadcast channel is FIFO so events arrive in the order they were emitted.
type Hub struct {
	logger *slog.Logger

	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// envelope is one broadcast item: the encoded frame plus the channel it is
// scoped to ("" = deliver to everyone regardless of subscriptions).
type envelope struct {
	channelID string
	frame     []byte
}

// New creates a hub. Call Run before attaching clients.
func New() *Hub {
	return &Hub{
		logger:     slog.Default().With("component", "hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes registration and broadcast traffic until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client registered", "client", client.id, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client", client.id, "total", n)

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

// deliver fans one frame out to every interested client. Clients whose send
// buffer is full are dropped rather than allowed to stall the loop.
func (h *Hub) deliver(env envelope) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(env.channelID) {
			continue
		}
		select {
		case client.send <- env.frame:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("dropped slow client", "client", client.id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Publish emits a typed event. Channel-scoped payloads only reach clients
// subscribed to that channel (or subscribed to nothing, which means all).
func (h *Hub) Publish(typ EventType, payload any) {
	frame := Encode(typ, payload)
	if frame == nil {
		h.logger.Error("dropping unencodable event", "type", typ)
		return
	}
	h.broadcast <- envelope{channelID: channelOf(payload), frame: frame}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
