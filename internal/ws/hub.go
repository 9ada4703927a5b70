package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChannelPrices and ChannelTrades are the subscribable feeds. Clients
// subscribe per instrument, e.g. "prices:BTC-USD" or "trades:BTC-USD".
const (
	ChannelPrices = "prices"
	ChannelTrades = "trades"
)

func ChannelFor(feed, instrument string) string {
	return feed + ":" + instrument
}

type subscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// Hub maintains live websocket subscribers and fans committed cycle
// results out to them. Delivery is best-effort: a client whose send
// buffer is full misses the message, a client that stops reading is
// dropped.
type Hub struct {
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Run owns the client registry until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "client", client.id, "total", total)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "client", client.id, "total", total)
		}
	}
}

// Broadcast sends the payload to every client subscribed to the channel.
// Slow clients are skipped, never waited on.
func (h *Hub) Broadcast(channel string, payload any) {
	message, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("ws marshal failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.isSubscribed(channel) {
			continue
		}
		select {
		case client.send <- message:
		default:
		}
	}
}

// add hands a client to the registry. Returns false once the hub has
// stopped; the caller then owns the connection teardown.
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// remove never blocks: after the hub stops, closeAll has already torn
// the client down.
func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Handler upgrades the request and starts the client pumps. Mounted on
// the gin router as GET /ws.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("ws upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:           h,
			conn:          conn,
			send:          make(chan []byte, sendBufferSize),
			id:            conn.RemoteAddr().String(),
			subscriptions: make(map[string]bool),
		}
		if !h.add(client) {
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *Client) isSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) subscribe(channels []string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, channel := range channels {
		c.subscriptions[channel] = true
	}
}

func (c *Client) unsubscribe(channels []string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, channel := range channels {
		delete(c.subscriptions, channel)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("ws read error", "client", c.id, "error", err)
			}
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Debug("ws invalid message", "client", c.id, "error", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			c.subscribe(req.Channels)
		case "unsubscribe":
			c.unsubscribe(req.Channels)
		default:
			c.hub.logger.Debug("ws unknown op", "client", c.id, "op", req.Op)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
