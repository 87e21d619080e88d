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

	"github.com/aaronlmathis/noderes/internal/metrics"
)

// Hub fans report messages out to the websocket clients of each stream
type Hub struct {
	logger *zap.Logger

	clients  map[*Client]bool
	register chan *Client
	done     chan struct{}

	// last holds the most recent message per stream so late joiners start
	// from the current report instead of waiting for the next cycle
	last map[string][]byte

	mu sync.RWMutex

	maxConnections int
	maxStreamSize  int
}

// Client is one websocket subscriber
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	stream string
}

// Message is the envelope written to subscribers
type Message struct {
	Type   string      `json:"type"`
	Data   interface{} `json:"data"`
	Stream string      `json:"stream,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewHub creates a websocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:         logger,
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		done:           make(chan struct{}),
		last:           make(map[string][]byte),
		maxConnections: 1000,
		maxStreamSize:  100,
	}
}

// Run processes registrations until ctx is cancelled, then closes every client
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				metrics.RecordWebSocketDisconnection(client.stream)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if msg, ok := h.last[client.stream]; ok {
				client.send <- msg
			}
			h.mu.Unlock()

			metrics.RecordWebSocketConnection(client.stream)
			h.logger.Info("Client registered",
				zap.String("id", client.id),
				zap.String("stream", client.stream))
		}
	}
}

// Broadcast sends a message to every client of stream and remembers it for
// clients that connect later. Slow clients are dropped.
func (h *Hub) Broadcast(stream, messageType string, data interface{}) {
	msgBytes, err := json.Marshal(Message{Type: messageType, Data: data, Stream: stream})
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.last[stream] = msgBytes
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.stream == stream {
			targets = append(targets, client)
		}
	}
	h.mu.Unlock()

	sent, dropped := 0, 0
	for _, client := range targets {
		if h.deliver(client, msgBytes) {
			sent++
			continue
		}
		h.logger.Warn("Removing slow WebSocket client",
			zap.String("clientId", client.id),
			zap.String("stream", stream))
		h.removeClient(client)
		dropped++
	}

	if dropped > 0 {
		h.logger.Info("WebSocket broadcast completed with dropped clients",
			zap.String("stream", stream),
			zap.Int("sent", sent),
			zap.Int("dropped", dropped))
	}
}

// deliver holds the read lock so a concurrent removal cannot close client.send
// while the send is pending
func (h *Hub) deliver(client *Client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return true
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.clients[client]; exists {
		delete(h.clients, client)
		close(client.send)
		metrics.RecordWebSocketDisconnection(client.stream)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and subscribes the connection to stream
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, stream string) {
	h.mu.RLock()
	total := len(h.clients)
	inStream := 0
	for client := range h.clients {
		if client.stream == stream {
			inStream++
		}
	}
	h.mu.RUnlock()

	if total >= h.maxConnections {
		h.logger.Warn("WebSocket connection rejected - total connection limit reached",
			zap.Int("current", total),
			zap.Int("limit", h.maxConnections))
		http.Error(w, "Connection limit reached", http.StatusServiceUnavailable)
		return
	}
	if inStream >= h.maxStreamSize {
		h.logger.Warn("WebSocket connection rejected - stream connection limit reached",
			zap.String("stream", stream),
			zap.Int("current", inStream),
			zap.Int("limit", h.maxStreamSize))
		http.Error(w, "Stream connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		id:     uuid.NewString(),
		stream: stream,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only services control frames; subscribers never send data
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		c.hub.logger.Info("Client unregistered",
			zap.String("id", c.id),
			zap.String("stream", c.stream))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("Unexpected WebSocket close", zap.Error(err))
			}
			return
		}
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
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one report per frame; reports are complete documents
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
