package breaker

import (
	"testing"
	"time"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New(Config{Threshold: 3, ResetTimeout: 30 * time.Second})

	// Failures below the threshold keep the breaker closed.
	b.Failure()
	b.Failure()
	if b.Open() {
		t.Fatal("breaker opened before threshold")
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow before threshold: %v", err)
	}

	// Exactly the threshold-th failure opens it.
	b.Failure()
	if !b.Open() {
		t.Fatal("breaker not open at threshold")
	}
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("Allow while open = %v, want ErrOpen", err)
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := New(Config{Threshold: 3, ResetTimeout: 30 * time.Second})

	b.Failure()
	b.Failure()
	b.Success()

	if got := b.Failures(); got != 0 {
		t.Fatalf("Failures after success = %d, want 0", got)
	}

	// Two more failures must not open it: the run was broken.
	b.Failure()
	b.Failure()
	if b.Open() {
		t.Fatal("breaker opened despite reset counter")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := New(Config{Threshold: 2, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Failure()
	b.Failure()
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("Allow while open = %v, want ErrOpen", err)
	}

	// Just inside the window: still open.
	now = now.Add(10*time.Second - time.Millisecond)
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("Allow inside reset window = %v, want ErrOpen", err)
	}

	// Window elapsed: probe is admitted but breaker stays armed.
	now = now.Add(time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after reset window: %v", err)
	}
	if !b.Open() {
		t.Fatal("breaker should stay armed until the probe succeeds")
	}

	// Probe success fully closes.
	b.Success()
	if b.Open() {
		t.Fatal("breaker still open after probe success")
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after close: %v", err)
	}
}

func TestBreaker_SingleProbeAtATime(t *testing.T) {
	now := time.Now()
	b := New(Config{Threshold: 2, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Failure()
	b.Failure()
	now = now.Add(11 * time.Second)

	// Only the first caller after the reset window gets through; the
	// window stays shut for everyone else until the probe resolves.
	if err := b.Allow(); err != nil {
		t.Fatalf("first Allow after reset window: %v", err)
	}
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("second Allow during in-flight probe = %v, want ErrOpen", err)
	}
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("third Allow during in-flight probe = %v, want ErrOpen", err)
	}

	// A failed probe frees the slot, but also refreshes the window.
	b.Failure()
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("Allow inside refreshed window = %v, want ErrOpen", err)
	}
	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after refreshed window: %v", err)
	}

	// A successful probe closes the breaker for all callers.
	b.Success()
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after probe success: %v", err)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("second Allow after probe success: %v", err)
	}
}

func TestBreaker_ProbeFailureRearms(t *testing.T) {
	now := time.Now()
	b := New(Config{Threshold: 2, ResetTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	b.Failure()
	b.Failure()

	// Admit the probe, then fail it.
	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe not admitted: %v", err)
	}
	b.Failure()

	// The failure timestamp was refreshed: a fresh reset window applies.
	now = now.Add(9 * time.Second)
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("Allow after failed probe = %v, want ErrOpen", err)
	}
	now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow after refreshed window: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	if b.cfg.Threshold != DefaultConfig().Threshold {
		t.Errorf("Threshold = %d, want %d", b.cfg.Threshold, DefaultConfig().Threshold)
	}
	if b.cfg.ResetTimeout != DefaultConfig().ResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", b.cfg.ResetTimeout, DefaultConfig().ResetTimeout)
	}
}
