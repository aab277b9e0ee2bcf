package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/metrics"
	"github.com/argenta/argenta-backend/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 256
)

type Hub struct {
	clients  map[*Client]bool
	cache    *store.Cache
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	mu       sync.RWMutex
}

type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	topics map[string]bool
	closed bool
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type WSSubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// NewHub builds a hub that accepts upgrades from allowedOrigins and from
// same-origin requests without an Origin header.
func NewHub(cache *store.Cache, logger *zap.SugaredLogger, m *metrics.Metrics, allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients: make(map[*Client]bool),
		cache:   cache,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Run forwards cache pub/sub traffic to subscribed clients until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	sub := h.cache.Subscribe(ctx, store.ChannelEvents, store.ChannelPrices)
	defer sub.Close()

	h.logger.Infow("WebSocket hub started", "in_memory", h.cache.IsInMemoryMode())
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.closeAll()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg != nil {
				h.dispatch(msg)
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) dispatch(msg *store.Message) {
	topics := topicsFor(msg)
	if len(topics) == 0 {
		return
	}
	out, err := json.Marshal(Message{
		Type:      eventType(msg.Channel),
		Topic:     topics[len(topics)-1],
		Data:      json.RawMessage(msg.Payload),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c.isSubscribed(topics) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(out) {
			h.logger.Debugw("Dropping slow client", "client_id", c.id)
			h.unregister(c)
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.metrics.IncrementConnections(context.Background())
	h.logger.Debugw("Client registered", "client_id", c.id)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.closeSend()
	h.metrics.DecrementConnections(context.Background())
	h.logger.Debugw("Client unregistered", "client_id", c.id)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	return all
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		h.unregister(c)
	}
}

// HandleWebSocket upgrades the request. Topics in the "topics" query
// parameter are subscribed up front; with none the client gets every
// event and price.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	topics := parseTopics(r)
	if len(topics) == 0 {
		topics = defaultTopics
	}
	client := &Client{
		id:     uuid.NewString(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		topics: normalizeTopics(topics),
	}
	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) isSubscribed(topics []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return matches(c.topics, topics)
}

func (c *Client) enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
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

func (c *Client) handleMessage(message []byte) {
	var sub WSSubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "client_id", c.id, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Type {
	case "subscribe":
		for t := range normalizeTopics(sub.Topics) {
			c.topics[t] = true
		}
		c.hub.logger.Debugw("Client subscribed to topics", "client_id", c.id, "topics", sub.Topics)
	case "unsubscribe":
		for t := range normalizeTopics(sub.Topics) {
			delete(c.topics, t)
		}
		c.hub.logger.Debugw("Client unsubscribed from topics", "client_id", c.id, "topics", sub.Topics)
	}
}
