package hub

import "encoding/json"

// ControlMessage is the client-to-hub control envelope.
type ControlMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// Ack is the hub-to-client reply envelope for connect, subscribe,
// unsubscribe, and error events. Fields absent from a given reply are
// omitted.
type Ack struct {
	Type     string   `json:"type"`
	ClientID int64    `json:"client_id,omitempty"`
	Symbols  []string `json:"symbols,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Update is the fan-out envelope carrying one upstream payload to a
// subscribed client.
type Update struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Health is the read-only status surface.
type Health struct {
	Status          string `json:"status"`
	Timestamp       int64  `json:"timestamp"`
	ConnectionCount int    `json:"connectionCount"`
}
