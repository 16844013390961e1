package deribit

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// probeConnectivity resolves the venue's address and performs a
// lightweight reachability dial before the first authentication
// attempt, with its own short bounded retry loop. Failures surface as
// NetworkError with a distinct kind (dns, refused, timeout, proxy,
// reset) to aid operator diagnosis.
func (m *Manager) probeConnectivity(ctx context.Context) error {
	target, viaProxy, err := m.probeTarget()
	if err != nil {
		return err
	}

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return fmt.Errorf("probe target %q: %w", target, err)
	}

	var lastErr error
	delay := m.cfg.ProbeBaseDelay

	for attempt := 0; attempt < m.cfg.ProbeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.afterFn(delay):
			}
			delay *= 2
			if delay > m.cfg.ProbeMaxDelay {
				delay = m.cfg.ProbeMaxDelay
			}
		}

		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			lastErr = classifyNetError("resolve "+host, err, false)
			m.logger.Warn("connectivity probe: resolution failed",
				"attempt", attempt+1,
				"error", lastErr,
			)
			continue
		}

		dialer := net.Dialer{Timeout: m.cfg.ProbeDialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			lastErr = classifyNetError("dial "+target, err, viaProxy)
			m.logger.Warn("connectivity probe: dial failed",
				"attempt", attempt+1,
				"error", lastErr,
			)
			continue
		}
		conn.Close()

		m.logger.Debug("connectivity probe succeeded", "target", target)
		return nil
	}

	return lastErr
}

// probeTarget picks the address the probe dials: the proxy when one is
// configured, otherwise the venue itself.
func (m *Manager) probeTarget() (target string, viaProxy bool, err error) {
	raw := m.cfg.RestURL
	if m.cfg.ProxyURL != "" {
		raw = m.cfg.ProxyURL
		viaProxy = true
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse probe url %q: %w", raw, err)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), viaProxy, nil
}

// probe timing defaults, deliberately short: the probe exists to fail
// fast with a precise diagnosis, not to wait out an outage.
const (
	defaultProbeAttempts    = 3
	defaultProbeBaseDelay   = 250 * time.Millisecond
	defaultProbeMaxDelay    = 2 * time.Second
	defaultProbeDialTimeout = 5 * time.Second
)
