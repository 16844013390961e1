package deribit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/quantfold/deribit-bridge/internal/breaker"
	"github.com/quantfold/deribit-bridge/internal/metrics"
	"github.com/quantfold/deribit-bridge/internal/order"
	"github.com/quantfold/deribit-bridge/internal/transport"
)

// SessionState is the authentication lifecycle state.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// Session holds the venue tokens. Owned exclusively by the Manager,
// mutated only by authenticate/refresh, cleared on shutdown or auth
// exhaustion.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	State        SessionState
}

// Credentials is the immutable key/secret pair. It is never persisted
// beyond process memory.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Config configures a session Manager.
type Config struct {
	RestURL     string
	WSURL       string
	Credentials Credentials
	ProxyURL    string

	RequestTimeout time.Duration // per REST call

	MaxAuthAttempts int           // bounded retry count for AuthenticateWithRetry
	AuthBaseDelay   time.Duration // backoff base; doubled for reset/timeout-class errors
	AuthMaxDelay    time.Duration // backoff ceiling
	AuthMaxJitter   time.Duration // random jitter added to each delay
	RefreshMargin   time.Duration // refresh when this close to expiry

	ProbeAttempts    int
	ProbeBaseDelay   time.Duration
	ProbeMaxDelay    time.Duration
	ProbeDialTimeout time.Duration

	Breaker   breaker.Config
	Transport transport.Config // URL and credentials filled in by NewManager

	// Metrics receives the order round-trip latency samples. A nil
	// value gets a private recorder, so recording is always safe.
	Metrics *metrics.Recorder
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:   30 * time.Second,
		MaxAuthAttempts:  5,
		AuthBaseDelay:    500 * time.Millisecond,
		AuthMaxDelay:     30 * time.Second,
		AuthMaxJitter:    250 * time.Millisecond,
		RefreshMargin:    60 * time.Second,
		ProbeAttempts:    defaultProbeAttempts,
		ProbeBaseDelay:   defaultProbeBaseDelay,
		ProbeMaxDelay:    defaultProbeMaxDelay,
		ProbeDialTimeout: defaultProbeDialTimeout,
		Breaker:          breaker.DefaultConfig(),
		Transport:        transport.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.MaxAuthAttempts == 0 {
		c.MaxAuthAttempts = def.MaxAuthAttempts
	}
	if c.AuthBaseDelay == 0 {
		c.AuthBaseDelay = def.AuthBaseDelay
	}
	if c.AuthMaxDelay == 0 {
		c.AuthMaxDelay = def.AuthMaxDelay
	}
	if c.AuthMaxJitter == 0 {
		c.AuthMaxJitter = def.AuthMaxJitter
	}
	if c.RefreshMargin == 0 {
		c.RefreshMargin = def.RefreshMargin
	}
	if c.ProbeAttempts == 0 {
		c.ProbeAttempts = def.ProbeAttempts
	}
	if c.ProbeBaseDelay == 0 {
		c.ProbeBaseDelay = def.ProbeBaseDelay
	}
	if c.ProbeMaxDelay == 0 {
		c.ProbeMaxDelay = def.ProbeMaxDelay
	}
	if c.ProbeDialTimeout == 0 {
		c.ProbeDialTimeout = def.ProbeDialTimeout
	}
}

// Manager is the authenticated client surface for the venue. It owns
// the Session, the circuit breaker shared by every remote-call path,
// and the streaming Transport.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	rest      *restClient
	breaker   *breaker.Breaker
	transport *transport.Transport
	orders    *order.Store
	metrics   *metrics.Recorder

	mu      sync.Mutex
	session Session
	probed  bool

	group singleflight.Group

	nowFn   func() time.Time
	afterFn func(d time.Duration) <-chan time.Time
	jitter  func(max time.Duration) time.Duration
}

// NewManager creates a session Manager with its own Transport.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	rest, err := newRESTClient(cfg.RestURL, cfg.ProxyURL, cfg.RequestTimeout, logger.With("component", "rest"))
	if err != nil {
		return nil, err
	}

	tcfg := cfg.Transport
	tcfg.URL = cfg.WSURL
	tcfg.ClientID = cfg.Credentials.ClientID
	tcfg.ClientSecret = cfg.Credentials.ClientSecret

	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewRecorder(0)
	}

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		rest:      rest,
		breaker:   breaker.New(cfg.Breaker),
		transport: transport.New(tcfg, nil, logger.With("component", "transport")),
		orders:    order.NewStore(),
		metrics:   recorder,
		nowFn:     time.Now,
		afterFn:   func(d time.Duration) <-chan time.Time { return time.After(d) },
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max) + 1))
		},
	}, nil
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Breaker exposes the shared circuit breaker, mainly for health
// reporting.
func (m *Manager) Breaker() *breaker.Breaker { return m.breaker }

// Orders returns the local view of orders this manager has placed.
func (m *Manager) Orders() *order.Store { return m.orders }

// Metrics returns the recorder receiving this manager's latency
// samples.
func (m *Manager) Metrics() *metrics.Recorder { return m.metrics }

// sinceMs returns the wall-clock time since start in milliseconds.
func (m *Manager) sinceMs(start time.Time) float64 {
	return float64(m.nowFn().Sub(start).Microseconds()) / 1000
}

// tokenResult is the credential-exchange response.
type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Authenticate performs the connectivity check (once) followed by a
// client_credentials exchange. The circuit breaker is consulted before
// any network call and updated with the outcome.
func (m *Manager) Authenticate(ctx context.Context) (Session, error) {
	if err := m.breaker.Allow(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	m.session.State = StateAuthenticating
	needProbe := !m.probed
	m.mu.Unlock()

	if needProbe {
		if err := m.probeConnectivity(ctx); err != nil {
			m.breaker.Failure()
			m.setUnauthenticated()
			return Session{}, err
		}
		m.mu.Lock()
		m.probed = true
		m.mu.Unlock()
	}

	query := url.Values{}
	query.Set("grant_type", "client_credentials")
	query.Set("client_id", m.cfg.Credentials.ClientID)
	query.Set("client_secret", m.cfg.Credentials.ClientSecret)

	sess, err := m.exchange(ctx, query)
	if err != nil {
		m.breaker.Failure()
		m.setUnauthenticated()
		return Session{}, err
	}

	m.breaker.Success()
	m.setSession(sess)
	m.logger.Info("authenticated", "expires_at", sess.ExpiresAt)
	return sess, nil
}

// exchange performs one credential exchange and maps failures onto
// the error taxonomy.
func (m *Manager) exchange(ctx context.Context, query url.Values) (Session, error) {
	var tok tokenResult
	err := m.rest.get(ctx, "/public/auth", query, "", &tok)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok {
			return Session{}, &AuthError{Reason: "credential exchange rejected", Err: apiErr}
		}
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return Session{}, netErr
		}
		return Session{}, &AuthError{Reason: "malformed auth response", Err: err}
	}
	if tok.AccessToken == "" {
		return Session{}, &AuthError{Reason: "malformed auth response: missing access_token"}
	}

	return Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    m.nowFn().Add(time.Duration(tok.ExpiresIn) * time.Second),
		State:        StateActive,
	}, nil
}

// AuthenticateWithRetry wraps Authenticate with a bounded retry loop.
// The delay before retry n is base*2^n plus random jitter, capped at
// the configured ceiling; the base doubles for reset/timeout-class
// errors. Exhaustion surfaces the last error under ErrAuthExhausted.
func (m *Manager) AuthenticateWithRetry(ctx context.Context) (Session, error) {
	var lastErr error

	for attempt := 0; attempt < m.cfg.MaxAuthAttempts; attempt++ {
		if attempt > 0 {
			delay := m.backoffDelay(attempt-1, lastErr)
			m.logger.Warn("authentication failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return Session{}, ctx.Err()
			case <-m.afterFn(delay):
			}
		}

		sess, err := m.Authenticate(ctx)
		if err == nil {
			return sess, nil
		}
		lastErr = err
	}

	m.setUnauthenticated()
	return Session{}, fmt.Errorf("%w after %d attempts: %w", ErrAuthExhausted, m.cfg.MaxAuthAttempts, lastErr)
}

// backoffDelay computes the wait before the n-th retry (n starting at
// zero): in [base*2^n, base*2^n + maxJitter], exponential part capped
// at AuthMaxDelay.
func (m *Manager) backoffDelay(n int, lastErr error) time.Duration {
	base := m.cfg.AuthBaseDelay
	if transientClass(lastErr) {
		base *= 2
	}

	d := base << n
	if d > m.cfg.AuthMaxDelay || d <= 0 {
		d = m.cfg.AuthMaxDelay
	}
	return d + m.jitter(m.cfg.AuthMaxJitter)
}

// RefreshIfNeeded exchanges the refresh token for a new Session when
// the current one is within RefreshMargin of expiry; a failed refresh
// falls back to a full AuthenticateWithRetry. Concurrent callers
// collapse into a single in-flight operation.
func (m *Manager) RefreshIfNeeded(ctx context.Context) (Session, error) {
	if sess, ok := m.freshSession(); ok {
		return sess, nil
	}

	v, err, _ := m.group.Do("refresh", func() (any, error) {
		// Re-check: a concurrent caller may have refreshed already.
		if sess, ok := m.freshSession(); ok {
			return sess, nil
		}

		m.mu.Lock()
		refreshToken := m.session.RefreshToken
		m.mu.Unlock()

		if refreshToken != "" {
			sess, err := m.refresh(ctx, refreshToken)
			if err == nil {
				return sess, nil
			}
			m.logger.Warn("token refresh failed, re-authenticating", "error", err)
		}

		return m.AuthenticateWithRetry(ctx)
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

// freshSession returns the session when it is active and not yet
// within the refresh margin.
func (m *Manager) freshSession() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.State != StateActive {
		return Session{}, false
	}
	if !m.nowFn().Before(m.session.ExpiresAt.Add(-m.cfg.RefreshMargin)) {
		return Session{}, false
	}
	return m.session, true
}

// refresh performs one refresh_token exchange under the breaker.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (Session, error) {
	if err := m.breaker.Allow(); err != nil {
		return Session{}, err
	}

	query := url.Values{}
	query.Set("grant_type", "refresh_token")
	query.Set("refresh_token", refreshToken)

	sess, err := m.exchange(ctx, query)
	if err != nil {
		m.breaker.Failure()
		return Session{}, err
	}

	m.breaker.Success()
	m.setSession(sess)
	m.logger.Debug("session refreshed", "expires_at", sess.ExpiresAt)
	return sess, nil
}

func (m *Manager) setSession(sess Session) {
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
}

func (m *Manager) setUnauthenticated() {
	m.mu.Lock()
	m.session = Session{State: StateUnauthenticated}
	m.mu.Unlock()
}

// submit runs one authenticated REST operation: token refresh, breaker
// gate, bearer-token call. The refresh path carries its own breaker
// gate, so submit consults the breaker only for the call it makes
// itself; an admitted half-open probe is always answered with Success
// or Failure.
func (m *Manager) submit(ctx context.Context, path string, query url.Values, out any) error {
	sess, err := m.RefreshIfNeeded(ctx)
	if err != nil {
		return err
	}

	if err := m.breaker.Allow(); err != nil {
		return err
	}

	if err := m.rest.get(ctx, path, query, sess.AccessToken, out); err != nil {
		m.breaker.Failure()
		return err
	}
	m.breaker.Success()
	return nil
}

// newOrderLabel generates the client-side label attached to every
// submitted order.
func newOrderLabel() string {
	return "qfb-" + uuid.NewString()
}

// orderResult is the envelope for order operations.
type orderResult struct {
	Order order.Order `json:"order"`
}

// PlaceOrder submits a limit or market order and returns the venue's
// view of it. A fresh uuid label is attached for client-side tracking.
func (m *Manager) PlaceOrder(ctx context.Context, instrument string, direction order.Direction, amount, price float64, orderType string) (order.Order, error) {
	path := "/private/buy"
	if direction == order.DirectionSell {
		path = "/private/sell"
	}
	if orderType == "" {
		orderType = "limit"
	}

	query := url.Values{}
	query.Set("instrument_name", instrument)
	query.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	query.Set("type", orderType)
	query.Set("label", newOrderLabel())
	if price > 0 {
		query.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	}

	start := m.nowFn()
	var res orderResult
	if err := m.submit(ctx, path, query, &res); err != nil {
		return order.Order{}, fmt.Errorf("place order %s %s: %w", direction, instrument, err)
	}
	m.metrics.RecordOrderPlacement(instrument, m.sinceMs(start))
	m.orders.Put(res.Order)
	return res.Order, nil
}

// CancelOrder cancels a working order.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) (order.Order, error) {
	query := url.Values{}
	query.Set("order_id", orderID)

	start := m.nowFn()
	var res order.Order
	if err := m.submit(ctx, "/private/cancel", query, &res); err != nil {
		return order.Order{}, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	m.metrics.RecordOrderCancellation(res.Instrument, m.sinceMs(start))
	m.orders.Put(res)
	return res, nil
}

// ModifyOrder adjusts amount and/or price of a working order. Zero
// values leave the corresponding field unchanged.
func (m *Manager) ModifyOrder(ctx context.Context, orderID string, amount, price float64) (order.Order, error) {
	query := url.Values{}
	query.Set("order_id", orderID)
	if amount > 0 {
		query.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	}
	if price > 0 {
		query.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	}

	start := m.nowFn()
	var res orderResult
	if err := m.submit(ctx, "/private/edit", query, &res); err != nil {
		return order.Order{}, fmt.Errorf("modify order %s: %w", orderID, err)
	}
	m.metrics.RecordOrderModification(res.Order.Instrument, m.sinceMs(start))
	m.orders.Put(res.Order)
	return res.Order, nil
}

// Orderbook fetches the current orderbook for an instrument.
func (m *Manager) Orderbook(ctx context.Context, instrument string, depth int) (order.Orderbook, error) {
	query := url.Values{}
	query.Set("instrument_name", instrument)
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}

	var res order.Orderbook
	if err := m.submit(ctx, "/public/get_order_book", query, &res); err != nil {
		return order.Orderbook{}, fmt.Errorf("get orderbook %s: %w", instrument, err)
	}
	return res, nil
}

// Positions fetches the current positions for a currency.
func (m *Manager) Positions(ctx context.Context, currency string) ([]order.Position, error) {
	query := url.Values{}
	query.Set("currency", currency)

	var res []order.Position
	if err := m.submit(ctx, "/private/get_positions", query, &res); err != nil {
		return nil, fmt.Errorf("get positions %s: %w", currency, err)
	}
	return res, nil
}

// Connect opens the streaming transport.
func (m *Manager) Connect(ctx context.Context) error {
	return m.transport.Connect(ctx)
}

// Subscribe registers cb for a streaming channel.
func (m *Manager) Subscribe(ctx context.Context, channel string, cb transport.Callback) error {
	return m.transport.Subscribe(ctx, channel, cb)
}

// Unsubscribe removes cb from a streaming channel.
func (m *Manager) Unsubscribe(ctx context.Context, channel string, cb transport.Callback) error {
	return m.transport.Unsubscribe(ctx, channel, cb)
}

// Fatal surfaces the transport's terminal error (reconnect
// exhaustion) to the process owner.
func (m *Manager) Fatal() <-chan error { return m.transport.Fatal() }

// Transport exposes the owned transport, mainly for health reporting.
func (m *Manager) Transport() *transport.Transport { return m.transport }

// Close shuts down the streaming transport within the ctx grace
// period and clears the session.
func (m *Manager) Close(ctx context.Context) error {
	err := m.transport.Close(ctx)
	m.setUnauthenticated()
	return err
}
