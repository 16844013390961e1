// Package transport maintains the persistent JSON-RPC WebSocket
// connection to the venue: connection lifecycle with reconnect and
// backoff, request/response correlation, and topic push dispatch.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Transport owns one physical connection at a time plus the request
// Correlator and subscription Registry. State machine:
//
//	Connecting → Open → (Closing | Reconnecting) → Closed
//
// with Reconnecting → Connecting on each retry. Closed is terminal and
// reached only on explicit Close or reconnect exhaustion.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	correlator *Correlator
	registry   *Registry

	sockMu sync.RWMutex
	sock   *socket

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	fatal chan error

	afterFn func(d time.Duration) <-chan time.Time // overridable in tests
}

// New creates a Transport. The Registry is shared with the session
// manager so subscriptions survive reconnects.
func New(cfg Config, registry *Registry, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	if registry == nil {
		registry = NewRegistry()
	}

	t := &Transport{
		cfg:        cfg,
		logger:     logger,
		correlator: NewCorrelator(),
		registry:   registry,
		fatal:      make(chan error, 1),
		afterFn:    func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
	t.state.Store(int32(StateConnecting))
	return t
}

// Registry returns the subscription registry owned by this transport.
func (t *Transport) Registry() *Registry { return t.registry }

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

func (t *Transport) setState(s State) {
	t.state.Store(int32(s))
}

// Fatal returns a channel that receives the terminal error when
// reconnect attempts are exhausted.
func (t *Transport) Fatal() <-chan error { return t.fatal }

// Connect opens the physical connection, performs the transport-level
// auth handshake, and starts the dispatch loop. Only after the
// handshake succeeds does the transport declare itself Open.
func (t *Transport) Connect(ctx context.Context) error {
	if t.State() == StateClosed {
		return ErrClosed
	}
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))

	t.setState(StateConnecting)

	sock := newSocket(t.cfg, t.logger)
	if err := sock.dial(ctx); err != nil {
		t.cancel()
		t.setState(StateClosed)
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}

	t.sockMu.Lock()
	t.sock = sock
	t.sockMu.Unlock()

	// Route frames during the handshake so its response resolves.
	t.wg.Add(1)
	go t.dispatchLoop(sock)

	if err := t.handshake(ctx); err != nil {
		// Tear down everything Connect started; a failed Connect must
		// leave no goroutine behind that could redial.
		t.cancel()
		sock.close()
		t.setState(StateClosed)
		return fmt.Errorf("transport handshake: %w", err)
	}

	t.setState(StateOpen)
	t.logger.Info("transport open", "url", t.cfg.URL)
	return nil
}

// handshake authenticates the connection itself, distinct from the
// REST credential exchange. Skipped when no credentials are set
// (public-data-only transports).
func (t *Transport) handshake(ctx context.Context) error {
	if t.cfg.ClientID == "" {
		return nil
	}
	params := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     t.cfg.ClientID,
		"client_secret": t.cfg.ClientSecret,
	}
	_, err := t.do(ctx, "public/auth", params)
	return err
}

// Close shuts the transport down cooperatively: unsubscribe all
// registry topics upstream, close the connection, reject in-flight
// requests, and wait for goroutines within the ctx grace period.
func (t *Transport) Close(ctx context.Context) error {
	if t.State() == StateClosed {
		return nil
	}
	t.setState(StateClosing)

	// Best-effort upstream unsubscribe, bounded by ctx.
	if topics := t.registry.Topics(); len(topics) > 0 {
		if _, err := t.do(ctx, "public/unsubscribe", SubscribeParams{Channels: topics}); err != nil {
			t.logger.Warn("unsubscribe on close failed", "error", err)
		}
	}

	if t.cancel != nil {
		t.cancel()
	}

	t.sockMu.RLock()
	sock := t.sock
	t.sockMu.RUnlock()
	if sock != nil {
		sock.close()
	}

	t.correlator.DrainAll(ErrConnectionLost)
	t.setState(StateClosed)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.logger.Warn("shutdown timeout, abandoning goroutines")
	}

	t.logger.Info("transport closed")
	return nil
}

// Call sends a correlated request and waits for the matching response,
// the request timeout, or a connection drop.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	switch t.State() {
	case StateClosed:
		return nil, ErrClosed
	case StateOpen:
	default:
		return nil, ErrNotConnected
	}
	return t.do(ctx, method, params)
}

// do performs the request without the state gate; the handshake and
// the resubscribe replay use it while the transport is not yet Open.
func (t *Transport) do(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, done := t.correlator.Register()

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.correlator.Forget(id)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	t.sockMu.RLock()
	sock := t.sock
	t.sockMu.RUnlock()
	if sock == nil {
		t.correlator.Forget(id)
		return nil, ErrNotConnected
	}
	if err := sock.send(data); err != nil {
		t.correlator.Forget(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		t.correlator.Forget(id)
		return nil, ctx.Err()
	case <-t.afterFn(t.cfg.RequestTimeout):
		t.correlator.Forget(id)
		return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
	case res := <-done:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Data, nil
	}
}

// Subscribe registers cb for a channel and issues the upstream
// subscribe request when this is the channel's first subscriber.
// Subscribing an already-subscribed (channel, cb) pair is a no-op.
func (t *Transport) Subscribe(ctx context.Context, channel string, cb Callback) error {
	first := t.registry.Subscribe(channel, cb)
	if !first {
		return nil
	}

	if _, err := t.Call(ctx, "public/subscribe", SubscribeParams{Channels: []string{channel}}); err != nil {
		// Roll back so a later attempt re-issues the upstream call.
		t.registry.Unsubscribe(channel, cb)
		return &SubscriptionError{Channel: channel, Err: err}
	}

	t.logger.Debug("subscribed", "channel", channel)
	return nil
}

// Unsubscribe removes cb (or all callbacks when cb is nil) and issues
// the upstream unsubscribe once no subscribers remain. Unsubscribing a
// channel with no subscribers is a no-op with no upstream call.
func (t *Transport) Unsubscribe(ctx context.Context, channel string, cb Callback) error {
	if t.registry.Subscribers(channel) == 0 {
		return nil
	}

	if remaining := t.registry.Unsubscribe(channel, cb); remaining {
		return nil
	}

	if _, err := t.Call(ctx, "public/unsubscribe", SubscribeParams{Channels: []string{channel}}); err != nil {
		return &SubscriptionError{Channel: channel, Err: err}
	}

	t.logger.Debug("unsubscribed", "channel", channel)
	return nil
}

// dispatchLoop routes inbound frames from one socket until the socket
// dies or the transport shuts down. On an unexpected error it rejects
// every pending request and hands over to the reconnect loop.
func (t *Transport) dispatchLoop(sock *socket) {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return

		case <-sock.done:
			// Deliberate close; Close() or the reconnect loop owns cleanup.
			return

		case err := <-sock.errs:
			if t.State() == StateClosing || t.State() == StateClosed {
				return
			}
			t.logger.Warn("connection error", "error", err)
			t.correlator.DrainAll(ErrConnectionLost)

			// Only the socket that carried an Open transport may start
			// the reconnect loop. Errors before Open belong to whoever
			// is connecting (Connect or an in-flight reconnect attempt);
			// spawning here too would race a second loop into existence.
			if t.state.CompareAndSwap(int32(StateOpen), int32(StateReconnecting)) {
				t.wg.Add(1)
				go t.reconnectLoop()
			}
			return

		case data, ok := <-sock.messages:
			if !ok {
				return
			}
			t.dispatch(data)
		}
	}
}

// dispatch handles one inbound frame. Parse failures are logged and
// the frame dropped; they never tear down the connection.
func (t *Transport) dispatch(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		perr := &ProtocolError{Raw: data, Err: err}
		t.logger.Warn("dropping malformed frame", "error", perr)
		return
	}

	switch {
	case frame.ID != nil:
		if frame.Error != nil {
			t.correlator.Reject(*frame.ID, frame.Error)
			return
		}
		// Unknown ids are ignored without error.
		t.correlator.Resolve(*frame.ID, frame.Result)

	case frame.Method == "subscription" && frame.Params != nil:
		for _, cb := range t.registry.Callbacks(frame.Params.Channel) {
			t.invoke(cb, frame.Params.Channel, frame.Params.Data)
		}

	default:
		t.logger.Debug("dropping unrecognized frame")
	}
}

// invoke isolates one callback: a panic in one subscriber must not
// affect delivery to the others or the read loop.
func (t *Transport) invoke(cb Callback, channel string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("subscription callback panicked",
				"channel", channel,
				"panic", r,
			)
		}
	}()
	cb(channel, data)
}

// reconnectLoop retries the connection with exponential backoff, caps
// the delay, and bounds the attempt count. Each successful reconnect
// replays every distinct registry topic before the transport accepts
// new traffic, and resets the attempt counter.
func (t *Transport) reconnectLoop() {
	defer t.wg.Done()

	for attempt := 0; attempt < t.cfg.ReconnectMaxAttempts; attempt++ {
		delay := t.cfg.ReconnectBaseDelay << attempt
		if delay > t.cfg.ReconnectMaxDelay || delay <= 0 {
			delay = t.cfg.ReconnectMaxDelay
		}

		select {
		case <-t.ctx.Done():
			return
		case <-t.afterFn(delay):
		}

		t.logger.Info("attempting reconnection", "attempt", attempt+1, "delay", delay)
		t.setState(StateConnecting)

		sock := newSocket(t.cfg, t.logger)
		if err := sock.dial(t.ctx); err != nil {
			t.logger.Warn("reconnection failed", "attempt", attempt+1, "error", err)
			t.setState(StateReconnecting)
			continue
		}

		t.sockMu.Lock()
		t.sock = sock
		t.sockMu.Unlock()

		t.wg.Add(1)
		go t.dispatchLoop(sock)

		if err := t.handshake(t.ctx); err != nil {
			t.logger.Warn("reconnect handshake failed", "attempt", attempt+1, "error", err)
			sock.close()
			t.setState(StateReconnecting)
			continue
		}

		// Replay every distinct topic exactly once before Open.
		for _, topic := range t.registry.Topics() {
			if _, err := t.do(t.ctx, "public/subscribe", SubscribeParams{Channels: []string{topic}}); err != nil {
				t.logger.Warn("resubscribe failed", "channel", topic, "error", err)
			}
		}

		// The socket may have died during the replay, after its dispatch
		// loop already gave up ownership. Going Open on a dead socket
		// would strand the transport, so retry instead.
		if !sock.isConnected() {
			t.logger.Warn("connection lost during resubscribe", "attempt", attempt+1)
			sock.close()
			t.setState(StateReconnecting)
			continue
		}

		t.setState(StateOpen)
		t.logger.Info("reconnected", "resubscribed", len(t.registry.Topics()))
		return
	}

	t.logger.Error("reconnect attempts exhausted", "attempts", t.cfg.ReconnectMaxAttempts)
	t.setState(StateClosed)
	select {
	case t.fatal <- ErrReconnectExhausted:
	default:
	}
}
