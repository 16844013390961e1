package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

// fakeConn records everything written to it.
type fakeConn struct {
	mu       sync.Mutex
	writes   []any
	failNext bool
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext || c.closed {
		return errors.New("connection gone")
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.writes))
	copy(out, c.writes)
	return out
}

func subscribe(t *testing.T, h *Hub, id int64, symbols ...string) {
	t.Helper()
	raw, _ := json.Marshal(ControlMessage{Type: "subscribe", Symbols: symbols})
	h.OnMessage(id, raw)
}

func TestHub_ConnectAssignsMonotonicIDs(t *testing.T) {
	h := New(nil)

	a := h.OnConnect(&fakeConn{})
	b := h.OnConnect(&fakeConn{})
	if a != 1 || b != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", a, b)
	}
	if h.ConnectionCount() != 2 {
		t.Errorf("ConnectionCount = %d, want 2", h.ConnectionCount())
	}
}

func TestHub_WelcomeAck(t *testing.T) {
	h := New(nil)
	conn := &fakeConn{}
	id := h.OnConnect(conn)

	writes := conn.written()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	ack, ok := writes[0].(Ack)
	if !ok || ack.Type != "connected" || ack.ClientID != id {
		t.Errorf("welcome = %+v", writes[0])
	}
}

func TestHub_BroadcastToSubscribedOpenClientsOnly(t *testing.T) {
	h := New(nil)

	connA, connB, connC := &fakeConn{}, &fakeConn{}, &fakeConn{}
	a := h.OnConnect(connA)
	b := h.OnConnect(connB)
	h.OnConnect(connC)

	subscribe(t, h, a, "BTC-PERPETUAL")
	subscribe(t, h, b, "BTC-PERPETUAL")
	// C subscribes to nothing.

	count := h.Broadcast("BTC-PERPETUAL", json.RawMessage(`{"best_bid":64100}`))
	if count != 2 {
		t.Errorf("delivered = %d, want 2", count)
	}

	for name, conn := range map[string]*fakeConn{"A": connA, "B": connB} {
		var got *Update
		for _, w := range conn.written() {
			if u, ok := w.(Update); ok {
				got = &u
			}
		}
		if got == nil {
			t.Fatalf("client %s received no update", name)
		}
		if got.Type != "update" || got.Symbol != "BTC-PERPETUAL" {
			t.Errorf("client %s update = %+v", name, got)
		}
	}
	for _, w := range connC.written() {
		if _, ok := w.(Update); ok {
			t.Error("client C received an update")
		}
	}
}

func TestHub_BroadcastSkipsClosedConnections(t *testing.T) {
	h := New(nil)

	connA, connB := &fakeConn{}, &fakeConn{}
	a := h.OnConnect(connA)
	b := h.OnConnect(connB)
	subscribe(t, h, a, "ETH-PERPETUAL")
	subscribe(t, h, b, "ETH-PERPETUAL")

	connB.mu.Lock()
	connB.failNext = true
	connB.mu.Unlock()

	if count := h.Broadcast("ETH-PERPETUAL", json.RawMessage(`{}`)); count != 1 {
		t.Errorf("delivered = %d, want 1", count)
	}

	// The failed client is marked closed and excluded thereafter.
	connB.mu.Lock()
	connB.failNext = false
	connB.mu.Unlock()
	if count := h.Broadcast("ETH-PERPETUAL", json.RawMessage(`{}`)); count != 1 {
		t.Errorf("delivered after failure = %d, want 1", count)
	}
}

func TestHub_SubscribeUnsubscribeFlow(t *testing.T) {
	h := New(nil)
	conn := &fakeConn{}
	id := h.OnConnect(conn)

	subscribe(t, h, id, "BTC-PERPETUAL", "ETH-PERPETUAL")

	raw, _ := json.Marshal(ControlMessage{Type: "unsubscribe", Symbols: []string{"BTC-PERPETUAL"}})
	h.OnMessage(id, raw)

	if count := h.Broadcast("BTC-PERPETUAL", json.RawMessage(`{}`)); count != 0 {
		t.Errorf("BTC delivered = %d, want 0", count)
	}
	if count := h.Broadcast("ETH-PERPETUAL", json.RawMessage(`{}`)); count != 1 {
		t.Errorf("ETH delivered = %d, want 1", count)
	}

	var types []string
	for _, w := range conn.written() {
		if ack, ok := w.(Ack); ok {
			types = append(types, ack.Type)
		}
	}
	want := []string{"connected", "subscribed", "unsubscribed"}
	if len(types) != len(want) {
		t.Fatalf("ack types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("ack[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestHub_MalformedMessageGetsErrorReply(t *testing.T) {
	h := New(nil)
	conn := &fakeConn{}
	id := h.OnConnect(conn)

	h.OnMessage(id, []byte(`{not json`))
	h.OnMessage(id, []byte(`{"type":"shout","symbols":["X"]}`))

	var errCount int
	for _, w := range conn.written() {
		if ack, ok := w.(Ack); ok && ack.Type == "error" {
			errCount++
		}
	}
	if errCount != 2 {
		t.Errorf("error replies = %d, want 2", errCount)
	}
	if h.ConnectionCount() != 1 {
		t.Error("malformed input must not drop the connection")
	}
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	h := New(nil)
	conn := &fakeConn{}
	id := h.OnConnect(conn)
	subscribe(t, h, id, "BTC-PERPETUAL")

	h.OnDisconnect(id)
	if h.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount())
	}
	if !conn.closed {
		t.Error("connection not closed on disconnect")
	}
	if count := h.Broadcast("BTC-PERPETUAL", json.RawMessage(`{}`)); count != 0 {
		t.Errorf("delivered = %d, want 0", count)
	}

	// Repeated disconnects and messages for unknown ids are no-ops.
	h.OnDisconnect(id)
	h.OnMessage(id, []byte(`{"type":"subscribe","symbols":["X"]}`))
}

func TestHub_PerClientDeliveryOrder(t *testing.T) {
	h := New(nil)
	conn := &fakeConn{}
	id := h.OnConnect(conn)
	subscribe(t, h, id, "BTC-PERPETUAL")

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]int{"seq": i})
		h.Broadcast("BTC-PERPETUAL", payload)
	}

	var seqs []int
	for _, w := range conn.written() {
		u, ok := w.(Update)
		if !ok {
			continue
		}
		var body struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(u.Data, &body); err != nil {
			t.Fatalf("unmarshal update: %v", err)
		}
		seqs = append(seqs, body.Seq)
	}
	if len(seqs) != 5 {
		t.Fatalf("updates = %d, want 5", len(seqs))
	}
	for i, seq := range seqs {
		if seq != i {
			t.Errorf("seq[%d] = %d, want %d", i, seq, i)
		}
	}
}
