package deribit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrAuthExhausted is the terminal error surfaced once every bounded
// authentication retry has failed. The process owner decides what to
// do with it.
var ErrAuthExhausted = errors.New("authentication retries exhausted")

// NetworkKind distinguishes network failure classes for operator
// diagnosis.
type NetworkKind string

const (
	KindDNS     NetworkKind = "dns"
	KindRefused NetworkKind = "refused"
	KindTimeout NetworkKind = "timeout"
	KindReset   NetworkKind = "reset"
	KindProxy   NetworkKind = "proxy"
	KindOther   NetworkKind = "other"
)

// NetworkError is a transport-level failure reaching the venue:
// DNS, connection refusal, timeout, reset, or proxy failure.
type NetworkError struct {
	Kind NetworkKind
	Op   string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s) during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError is a credential-exchange failure: bad credentials or a
// malformed auth response. Never retriable by doubling timeouts.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// classifyNetError converts a raw dial/transport error into a
// NetworkError with the most specific kind it can determine. viaProxy
// marks failures on the proxy leg.
func classifyNetError(op string, err error, viaProxy bool) *NetworkError {
	kind := KindOther

	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		kind = KindDNS
	case os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindRefused
	case errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE):
		kind = KindReset
	}

	if viaProxy && kind != KindDNS {
		kind = KindProxy
	}

	return &NetworkError{Kind: kind, Op: op, Err: err}
}

// transientClass reports whether an error belongs to the
// reset/timeout class, which doubles the retry base delay.
func transientClass(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Kind == KindTimeout || netErr.Kind == KindReset
	}
	return false
}
