// Package ws streams the ranked opportunity feed and the position event
// stream to WebSocket clients (dashboard, bot).
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/arbd/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

// Channel names clients can subscribe to.
const (
	ChannelOpportunities = "opportunities"
	ChannelPositions     = "positions"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The feed server sits behind the operator's network boundary.
		return true
	},
}

// envelope is the wire format for every outgoing message.
type envelope struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
	At      time.Time `json:"at"`
}

// subscribeMsg is the JSON message a client sends to change subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// Hub manages connected clients and broadcasts feed messages to the ones
// subscribed to each channel. It implements the publisher interfaces the
// scanner and the position machine expect.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	logger  *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		logger:  logger.With(slog.String("component", "ws_hub")),
	}
}

// PublishOpportunities broadcasts one scan cycle's ranked output.
func (h *Hub) PublishOpportunities(opps []domain.Opportunity) {
	h.broadcast(ChannelOpportunities, opps)
}

// PublishPositionEvent broadcasts one position lifecycle event.
func (h *Hub) PublishPositionEvent(ev domain.PositionEvent) {
	h.broadcast(ChannelPositions, ev)
}

func (h *Hub) broadcast(channel string, payload any) {
	data, err := json.Marshal(envelope{Channel: channel, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		h.logger.Error("marshal broadcast", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Slow consumer: drop the message rather than block the feed.
		}
	}
}

// HandleWS upgrades the connection and starts the read/write pumps. New
// clients start subscribed to both channels.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{
			ChannelOpportunities: true,
			ChannelPositions:     true,
		},
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.mu.Lock()
		for _, ch := range msg.Channels {
			switch msg.Action {
			case "subscribe":
				c.subs[ch] = true
			case "unsubscribe":
				delete(c.subs, ch)
			}
		}
		c.mu.Unlock()
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
