package config

import "time"

// BridgeConfig is the root configuration for a bridge instance.
type BridgeConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Venue       VenueConfig       `yaml:"venue"`
	Auth        AuthConfig        `yaml:"auth"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Transport   TransportConfig   `yaml:"transport"`
	Hub         HubConfig         `yaml:"hub"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this bridge.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// VenueConfig holds Deribit endpoint and credential settings. Testnet
// selects the test endpoints when explicit URLs are not given.
type VenueConfig struct {
	Testnet      bool          `yaml:"testnet"`
	RestURL      string        `yaml:"rest_url"`
	WSURL        string        `yaml:"ws_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	ProxyURL     string        `yaml:"proxy_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// AuthConfig holds authentication retry and refresh settings.
type AuthConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	MaxJitter     time.Duration `yaml:"max_jitter"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TransportConfig holds streaming connection settings.
type TransportConfig struct {
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	BufferSize           int           `yaml:"buffer_size"`
}

// HubConfig holds the downstream fan-out server settings.
type HubConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// InstrumentsConfig selects the upstream market-data channels.
type InstrumentsConfig struct {
	Names    []string `yaml:"names"`
	Interval string   `yaml:"interval"`
}

// MetricsConfig holds the latency recorder settings.
type MetricsConfig struct {
	MaxSamples int    `yaml:"max_samples"`
	ReportPath string `yaml:"report_path"`
}
