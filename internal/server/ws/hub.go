// Package ws fans engine events out to WebSocket subscribers. The hub
// bridges the signal bus to connected clients: one bus subscription per
// channel, one goroutine pair per client.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castlefield/tickbook/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// defaultChannels are subscribed for every client on connect.
var defaultChannels = []string{"events:engine"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin filtering happens in the CORS middleware.
		return true
	},
}

// client is one connected WebSocket peer.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.Mutex
	subs map[string]bool
}

// subscribeMsg is the control message clients send to adjust their channel
// subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// envelope wraps every outbound frame with its source channel.
type envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Hub tracks connected clients and relays bus messages to them.
type Hub struct {
	bus    domain.SignalBus
	mode   string
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan envelope

	mu      sync.Mutex
	clients map[*client]bool
	started time.Time
}

// NewHub creates a Hub over the signal bus.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		mode:       mode,
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan envelope, 256),
		clients:    make(map[*client]bool),
		started:    time.Now(),
	}
}

// Run pumps bus messages to clients until ctx is cancelled. It owns the
// client set; register, unregister, and broadcast all flow through here.
func (h *Hub) Run(ctx context.Context) {
	for _, ch := range defaultChannels {
		h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "client disconnected", slog.Int("clients", n))

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				if !c.isSubscribed(env.Channel) {
					continue
				}
				select {
				case c.send <- data:
				default:
					// Slow client; drop it rather than block the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// subscribeToChannel attaches one bus subscription and pumps its messages
// into the broadcast channel.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	go func() {
		for msg := range msgs {
			select {
			case h.broadcast <- envelope{Channel: channel, Payload: msg, At: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// HandleWS upgrades the HTTP connection and starts the client pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()),
		)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	h.register <- c
	h.sendInitialStatus(c)

	go c.writePump()
	go c.readPump()
}

// sendInitialStatus pushes a status frame so clients see the hub state
// immediately after connecting.
func (h *Hub) sendInitialStatus(c *client) {
	payload, err := json.Marshal(map[string]any{
		"type":   "status",
		"mode":   h.mode,
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
	if err != nil {
		return
	}
	data, err := json.Marshal(envelope{Channel: "status", Payload: payload, At: time.Now()})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// isSubscribed reports whether the client listens on channel. A subscription
// ending in '*' matches any channel with that prefix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if n := len(sub); n > 0 && sub[n-1] == '*' && len(channel) >= n-1 && channel[:n-1] == sub[:n-1] {
			return true
		}
	}
	return false
}

// readPump consumes control messages from the client. Clients send
// subscribe/unsubscribe actions; everything else is ignored.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
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
		switch msg.Action {
		case "subscribe":
			for _, ch := range msg.Channels {
				c.subs[ch] = true
			}
		case "unsubscribe":
			for _, ch := range msg.Channels {
				delete(c.subs, ch)
			}
		}
		c.mu.Unlock()
	}
}

// writePump sends queued frames and keepalive pings to the client.
func (c *client) writePump() {
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
