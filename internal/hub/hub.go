package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Conn is the minimal connection surface the hub needs from a
// downstream transport. WriteJSON must be safe to reject (return an
// error) after the peer has gone away.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// client is one downstream subscriber.
type client struct {
	id     int64
	conn   Conn
	wmu    sync.Mutex // serializes writes per connection
	mu     sync.Mutex // guards topics and closed
	topics map[string]struct{}
	closed bool
}

func (c *client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	_, ok := c.topics[topic]
	return ok
}

// Hub is the downstream client registry plus topic fan-out.
type Hub struct {
	logger *slog.Logger
	nowFn  func() time.Time

	mu      sync.RWMutex
	clients map[int64]*client
	nextID  int64
}

// New creates an empty Hub.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		nowFn:   time.Now,
		clients: make(map[int64]*client),
	}
}

// OnConnect registers a new downstream client with an empty topic set
// and sends the welcome acknowledgment carrying its assigned id. Ids
// increase monotonically for the hub's lifetime.
func (h *Hub) OnConnect(conn Conn) int64 {
	h.mu.Lock()
	h.nextID++
	c := &client{
		id:     h.nextID,
		conn:   conn,
		topics: make(map[string]struct{}),
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	if err := c.write(Ack{Type: "connected", ClientID: c.id, Message: "connected to deribit bridge"}); err != nil {
		h.logger.Warn("welcome write failed", "client_id", c.id, "error", err)
	}
	h.logger.Info("downstream client connected", "client_id", c.id)
	return c.id
}

// OnMessage handles one raw control message from a client. Malformed
// envelopes get an error reply; the connection stays open.
func (h *Hub) OnMessage(clientID int64, raw []byte) {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	var msg ControlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.reply(c, Ack{Type: "error", Message: "malformed message"})
		return
	}

	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		for _, sym := range msg.Symbols {
			c.topics[sym] = struct{}{}
		}
		c.mu.Unlock()
		h.reply(c, Ack{Type: "subscribed", Symbols: msg.Symbols})
		h.logger.Debug("client subscribed", "client_id", clientID, "symbols", msg.Symbols)

	case "unsubscribe":
		c.mu.Lock()
		for _, sym := range msg.Symbols {
			delete(c.topics, sym)
		}
		c.mu.Unlock()
		h.reply(c, Ack{Type: "unsubscribed", Symbols: msg.Symbols})
		h.logger.Debug("client unsubscribed", "client_id", clientID, "symbols", msg.Symbols)

	default:
		h.reply(c, Ack{Type: "error", Message: "unknown message type: " + msg.Type})
	}
}

func (h *Hub) reply(c *client, ack Ack) {
	if err := c.write(ack); err != nil {
		h.logger.Warn("control reply failed", "client_id", c.id, "error", err)
	}
}

// OnDisconnect removes the client. Safe to call more than once.
func (h *Hub) OnDisconnect(clientID int64) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
	h.logger.Info("downstream client disconnected", "client_id", clientID)
}

// Broadcast delivers payload to every open client subscribed to topic
// and returns the delivery count. A failed write marks the client
// closed and is not counted; within one client, updates arrive in
// Broadcast call order.
func (h *Hub) Broadcast(topic string, payload json.RawMessage) int {
	update := Update{
		Type:      "update",
		Symbol:    topic,
		Data:      payload,
		Timestamp: h.nowFn().UnixMilli(),
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.subscribed(topic) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.write(update); err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			h.logger.Debug("broadcast write failed, marking client closed",
				"client_id", c.id,
				"error", err,
			)
			continue
		}
		delivered++
	}
	return delivered
}

// ConnectionCount returns the number of registered downstream clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[int64]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.conn.Close()
	}
}
