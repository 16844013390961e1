package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL              = "https://www.deribit.com/api/v2"
	DefaultWSURL                = "wss://www.deribit.com/ws/api/v2"
	TestnetRestURL              = "https://test.deribit.com/api/v2"
	TestnetWSURL                = "wss://test.deribit.com/ws/api/v2"
	DefaultVenueTimeout         = 30 * time.Second
	DefaultAuthMaxAttempts      = 5
	DefaultAuthBaseDelay        = 500 * time.Millisecond
	DefaultAuthMaxDelay         = 30 * time.Second
	DefaultAuthMaxJitter        = 250 * time.Millisecond
	DefaultRefreshMargin        = 60 * time.Second
	DefaultBreakerThreshold     = 5
	DefaultBreakerResetTimeout  = 30 * time.Second
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 45 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultReconnectMaxAttempts = 10
	DefaultBufferSize           = 256
	DefaultHubListenAddr        = ":8080"
	DefaultBookInterval         = "100ms"
	DefaultMetricsMaxSamples    = 1000
)

func (c *BridgeConfig) applyDefaults() {
	// Venue defaults; explicit URLs win over the testnet flag
	if c.Venue.RestURL == "" {
		if c.Venue.Testnet {
			c.Venue.RestURL = TestnetRestURL
		} else {
			c.Venue.RestURL = DefaultRestURL
		}
	}
	if c.Venue.WSURL == "" {
		if c.Venue.Testnet {
			c.Venue.WSURL = TestnetWSURL
		} else {
			c.Venue.WSURL = DefaultWSURL
		}
	}
	if c.Venue.Timeout == 0 {
		c.Venue.Timeout = DefaultVenueTimeout
	}

	// Auth defaults
	if c.Auth.MaxAttempts == 0 {
		c.Auth.MaxAttempts = DefaultAuthMaxAttempts
	}
	if c.Auth.BaseDelay == 0 {
		c.Auth.BaseDelay = DefaultAuthBaseDelay
	}
	if c.Auth.MaxDelay == 0 {
		c.Auth.MaxDelay = DefaultAuthMaxDelay
	}
	if c.Auth.MaxJitter == 0 {
		c.Auth.MaxJitter = DefaultAuthMaxJitter
	}
	if c.Auth.RefreshMargin == 0 {
		c.Auth.RefreshMargin = DefaultRefreshMargin
	}

	// Breaker defaults
	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = DefaultBreakerThreshold
	}
	if c.Breaker.ResetTimeout == 0 {
		c.Breaker.ResetTimeout = DefaultBreakerResetTimeout
	}

	// Transport defaults
	if c.Transport.DialTimeout == 0 {
		c.Transport.DialTimeout = DefaultDialTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PingTimeout == 0 {
		c.Transport.PingTimeout = DefaultPingTimeout
	}
	if c.Transport.RequestTimeout == 0 {
		c.Transport.RequestTimeout = DefaultRequestTimeout
	}
	if c.Transport.ReconnectBaseDelay == 0 {
		c.Transport.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Transport.ReconnectMaxDelay == 0 {
		c.Transport.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Transport.ReconnectMaxAttempts == 0 {
		c.Transport.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.Transport.BufferSize == 0 {
		c.Transport.BufferSize = DefaultBufferSize
	}

	// Hub defaults
	if c.Hub.ListenAddr == "" {
		c.Hub.ListenAddr = DefaultHubListenAddr
	}

	// Instruments defaults
	if c.Instruments.Interval == "" {
		c.Instruments.Interval = DefaultBookInterval
	}

	// Metrics defaults
	if c.Metrics.MaxSamples == 0 {
		c.Metrics.MaxSamples = DefaultMetricsMaxSamples
	}
}
