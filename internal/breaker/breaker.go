// Package breaker implements the circuit breaker shared by every
// remote-call path (auth, orders, connect). It trips after a run of
// consecutive failures and admits a single half-open probe once the
// reset window has elapsed.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker is open and the reset
// window has not yet elapsed. Callers must fail fast without making a
// network call.
var ErrOpen = errors.New("circuit breaker open")

// Config tunes the breaker.
type Config struct {
	Threshold    int           // consecutive failures before opening
	ResetTimeout time.Duration // how long to stay open before a half-open probe
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:    5,
		ResetTimeout: 30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. One instance is
// shared across all remote-call paths of a session manager.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	failures      int
	lastFailureAt time.Time
	open          bool
	probing       bool

	now func() time.Time // overridable in tests
}

// New creates a Breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultConfig().Threshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{
		cfg: cfg,
		now: time.Now,
	}
}

// Allow reports whether the next attempt may proceed. While open and
// inside the reset window it returns ErrOpen. Once the window has
// elapsed, exactly one caller is admitted as the half-open probe;
// everyone else keeps getting ErrOpen until that probe reports
// Success or Failure. The breaker stays armed until Success.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.probing {
		return ErrOpen
	}
	if b.now().Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
		b.probing = true
		return nil
	}
	return ErrOpen
}

// Success records a successful call. It clears the failure counter and
// fully closes the breaker, including after a half-open probe.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
	b.probing = false
}

// Failure records a failed call. The breaker opens once the number of
// consecutive failures reaches the threshold. A failed half-open probe
// re-arms the open state and refreshes the failure timestamp.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureAt = b.now()
	b.probing = false
	if b.failures >= b.cfg.Threshold {
		b.open = true
	}
}

// Open reports whether the breaker is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
