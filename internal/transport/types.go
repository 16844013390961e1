package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrConnectionLost     = errors.New("connection lost")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrTimeout            = errors.New("operation timeout")
	ErrClosed             = errors.New("transport closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// ProtocolError marks a malformed inbound frame. It is logged and the
// frame dropped; it never tears down the connection.
type ProtocolError struct {
	Raw []byte
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SubscriptionError reports that the venue rejected a subscribe or
// unsubscribe request.
type SubscriptionError struct {
	Channel string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Channel, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// State is the transport lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Request is an outgoing JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Frame is an inbound message: either a correlated response (ID set)
// or a subscription push (Method "subscription").
type Frame struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  *PushParams     `json:"params,omitempty"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// PushParams carries a topic push.
type PushParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// SubscribeParams are the parameters of a subscribe/unsubscribe request.
type SubscribeParams struct {
	Channels []string `json:"channels"`
}

// Config configures a Transport.
type Config struct {
	URL          string // WebSocket URL (e.g., wss://test.deribit.com/ws/api/v2)
	ClientID     string // credentials for the transport-level auth handshake
	ClientSecret string

	DialTimeout    time.Duration // connection-establishment timeout
	WriteTimeout   time.Duration // write deadline for sends
	PingInterval   time.Duration // keepalive ping cadence
	PingTimeout    time.Duration // max silence before the connection is stale
	RequestTimeout time.Duration // per-request response wait

	ReconnectBaseDelay   time.Duration // base wait before a reconnect attempt
	ReconnectMaxDelay    time.Duration // cap on the reconnect wait
	ReconnectMaxAttempts int           // attempts before ErrReconnectExhausted

	BufferSize int // inbound message channel buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		PingInterval:         15 * time.Second,
		PingTimeout:          60 * time.Second,
		RequestTimeout:       10 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		ReconnectMaxAttempts: 10,
		BufferSize:           1000,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
}
