package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func startTestServer(t *testing.T) (*Hub, *Server) {
	t.Helper()

	h := New(nil)
	srv := NewServer(h, nil)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return h, srv
}

func dialTestClient(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Address()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAck(t *testing.T, conn *websocket.Conn) Ack {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack Ack
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	return ack
}

func TestServer_WelcomeAndSubscribeRoundTrip(t *testing.T) {
	h, srv := startTestServer(t)

	conn := dialTestClient(t, srv)
	welcome := readAck(t, conn)
	if welcome.Type != "connected" || welcome.ClientID == 0 {
		t.Fatalf("welcome = %+v", welcome)
	}

	if err := conn.WriteJSON(ControlMessage{Type: "subscribe", Symbols: []string{"BTC-PERPETUAL"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	sub := readAck(t, conn)
	if sub.Type != "subscribed" || len(sub.Symbols) != 1 {
		t.Fatalf("subscribe ack = %+v", sub)
	}

	// Wait for the read pump to process before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for h.Broadcast("BTC-PERPETUAL", json.RawMessage(`{"best_bid":64100}`)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("broadcast never reached the client")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update Update
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Type != "update" || update.Symbol != "BTC-PERPETUAL" {
		t.Errorf("update = %+v", update)
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	_, srv := startTestServer(t)

	conn := dialTestClient(t, srv)
	readAck(t, conn)

	resp, err := http.Get("http://" + srv.Address() + "/health")
	if err != nil {
		t.Fatalf("health get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.ConnectionCount != 1 {
		t.Errorf("connectionCount = %d, want 1", health.ConnectionCount)
	}
}

func TestServer_DisconnectPrunesClient(t *testing.T) {
	h, srv := startTestServer(t)

	conn := dialTestClient(t, srv)
	readAck(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not pruned, count = %d", h.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
