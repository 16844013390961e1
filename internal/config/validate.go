package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Venue.ClientID == "" {
		return errors.New("venue.client_id is required")
	}
	if c.Venue.ClientSecret == "" {
		return errors.New("venue.client_secret is required")
	}
	if !strings.HasPrefix(c.Venue.RestURL, "http://") && !strings.HasPrefix(c.Venue.RestURL, "https://") {
		return fmt.Errorf("venue.rest_url must be an http(s) url, got %q", c.Venue.RestURL)
	}
	if !strings.HasPrefix(c.Venue.WSURL, "ws://") && !strings.HasPrefix(c.Venue.WSURL, "wss://") {
		return fmt.Errorf("venue.ws_url must be a ws(s) url, got %q", c.Venue.WSURL)
	}

	if c.Auth.MaxAttempts < 1 {
		return errors.New("auth.max_attempts must be >= 1")
	}
	if c.Auth.MaxDelay < c.Auth.BaseDelay {
		return fmt.Errorf("auth.max_delay (%v) cannot be below auth.base_delay (%v)", c.Auth.MaxDelay, c.Auth.BaseDelay)
	}

	if c.Breaker.Threshold < 1 {
		return errors.New("breaker.threshold must be >= 1")
	}

	if c.Transport.ReconnectMaxAttempts < 1 {
		return errors.New("transport.reconnect_max_attempts must be >= 1")
	}
	if c.Transport.ReconnectMaxDelay < c.Transport.ReconnectBaseDelay {
		return fmt.Errorf("transport.reconnect_max_delay (%v) cannot be below transport.reconnect_base_delay (%v)",
			c.Transport.ReconnectMaxDelay, c.Transport.ReconnectBaseDelay)
	}

	if len(c.Instruments.Names) == 0 {
		return errors.New("instruments.names must list at least one instrument")
	}

	return nil
}
