// Package report pushes call-state reports to out-of-process clients over
// websocket. The Hub is an events.Publisher, so it can sit next to NATS behind
// an events.Fanout.
package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sebas/callservice/internal/callservice/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
	sendBufferSize = 256
)

// TopicAll subscribes a client to every subject.
const TopicAll = "all"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are local system components; origin is not meaningful.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one frame pushed to clients.
type Message struct {
	Type      events.EventType `json:"type"`
	Subject   string           `json:"subject"`
	CallID    int              `json:"call_id"`
	Data      json.RawMessage  `json:"data"`
	Timestamp time.Time        `json:"timestamp"`
}

// subscription is the control frame a client may send.
type subscription struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Client is one websocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	topics map[string]bool // "all" or subject prefixes
}

// ID returns the client's connection id.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) wants(subject string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.topics[TopicAll] {
		return true
	}
	for topic := range c.topics {
		if subject == topic || strings.HasPrefix(subject, topic+".") {
			return true
		}
	}
	return false
}

func (c *Client) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = true
}

func (c *Client) unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

type outbound struct {
	subject string
	data    []byte
}

// Hub maintains active websocket connections and broadcasts reports.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	running    atomic.Bool
	mu         sync.RWMutex

	dropped atomic.Int64
}

var _ events.Publisher = (*Hub)(nil)

// NewHub creates a new Hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, after
// closing every client.
func (h *Hub) Run(ctx context.Context) error {
	h.running.Store(true)
	defer close(h.done)

	slog.Info("[Report] Hub started")
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			slog.Info("[Report] Hub stopped")
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("[Report] Client connected", "client_id", client.id, "clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("[Report] Client disconnected", "client_id", client.id, "clients", total)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.subject) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer: drop the connection rather than stall the hub.
					slog.Warn("[Report] Client send buffer full, disconnecting", "client_id", client.id)
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeHTTP upgrades the request and attaches a client. Initial topics may
// be given as repeated "topic" query parameters; the default is all.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.running.Load() {
		http.Error(w, "report hub not running", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[Report] Upgrade error", "error", err)
		return
	}

	client := &Client{
		id:     uuid.New().String(),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool),
	}
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}
	for _, t := range topics {
		client.topics[t] = true
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

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedCount returns the number of reports dropped because the hub queue
// was full.
func (h *Hub) DroppedCount() int64 {
	return h.dropped.Load()
}

func (h *Hub) enqueue(ctx context.Context, event events.Event) error {
	data, err := events.MarshalEvent(event)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{
		Type:      event.Type(),
		Subject:   event.Subject(),
		CallID:    event.CallID(),
		Data:      data,
		Timestamp: event.Timestamp(),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- outbound{subject: event.Subject(), data: frame}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.dropped.Add(1)
		slog.Warn("[Report] Broadcast queue full, report dropped",
			"type", event.Type(),
			"call_id", event.CallID(),
		)
		return nil
	}
}

func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	return h.enqueue(ctx, event)
}

func (h *Hub) PublishAsync(event events.Event) {
	if err := h.enqueue(context.Background(), event); err != nil {
		slog.Warn("[Report] Failed to encode report", "error", err, "call_id", event.CallID())
	}
}

func (h *Hub) Flush(ctx context.Context) error {
	return nil
}

// Close is a no-op; the hub stops when the context passed to Run ends.
func (h *Hub) Close() error {
	return nil
}

// readPump consumes subscription frames until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("[Report] Read error", "client_id", c.id, "error", err)
			}
			return
		}

		var sub subscription
		if json.Unmarshal(message, &sub) != nil || sub.Topic == "" {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.subscribe(sub.Topic)
		case "unsubscribe":
			c.unsubscribe(sub.Topic)
		}
		slog.Debug("[Report] Subscription changed", "client_id", c.id, "action", sub.Action, "topic", sub.Topic)
	}
}

// writePump writes one report per frame and keeps the connection alive.
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
