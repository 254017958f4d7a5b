// ABOUTME: One WebSocket client connection with read and write pumps
// ABOUTME: Clients may scope delivery with subscribe/unsubscribe actions

package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	sendBuffer = 256
)

// Client is one WebSocket connection attached to the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// subs scopes channel events. An empty set means no channel frames at
	// all; only global events get through.
	subMu sync.RWMutex
	subs  map[string]bool
}

// clientAction is an inbound control frame from the client.
type clientAction struct {
	Action     string   `json:"action"`
	ChannelIDs []string `json:"channel_ids"`
}

// Attach registers a connection with the hub and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, id string) {
	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   id,
		subs: make(map[string]bool),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// wants reports whether a frame scoped to channelID should reach this
// client. Global frames (empty channelID) always do; channel frames only
// reach subscribers of that channel.
func (c *Client) wants(channelID string) bool {
	if channelID == "" {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[channelID]
}

// readPump consumes inbound control frames: subscribe, unsubscribe, and
// ping. Anything else gets an error frame back.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleAction(raw)
	}
}

func (c *Client) handleAction(raw []byte) {
	var act clientAction
	if err := json.Unmarshal(raw, &act); err != nil {
		c.reply(Encode(EventError, ErrorPayload{Message: "malformed action"}))
		return
	}

	switch act.Action {
	case "subscribe":
		c.subMu.Lock()
		for _, id := range act.ChannelIDs {
			c.subs[id] = true
		}
		c.subMu.Unlock()
	case "unsubscribe":
		c.subMu.Lock()
		for _, id := range act.ChannelIDs {
			delete(c.subs, id)
		}
		c.subMu.Unlock()
	case "ping":
		c.reply(Encode(EventPong, struct{}{}))
	default:
		c.reply(Encode(EventError, ErrorPayload{Message: "unknown action: " + act.Action}))
	}
}

// reply queues a frame for this client only. Dropped if the buffer is full;
// the write pump's disconnect handling covers genuinely stuck clients.
func (c *Client) reply(frame []byte) {
	if frame == nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
