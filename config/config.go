package config

import (
	"fmt"
	"time"
)

// Config is the complete client configuration.
type Config struct {
	// API configures the collaborator HTTP command client.
	API APIConfig `yaml:"api"`
	// Transport configures the WebSocket event stream client.
	Transport TransportConfig `yaml:"transport"`
	// Monitor configures the execution reducer.
	Monitor MonitorConfig `yaml:"monitor"`
	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
	// Metrics configures Prometheus collection.
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry configures the OpenTelemetry SDK.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// APIConfig configures the collaborator command surface client.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url" env:"API_BASE_URL"`
	Token        string        `yaml:"token" env:"API_TOKEN"`
	Timeout      time.Duration `yaml:"timeout" env:"API_TIMEOUT"`
	CommandRate  float64       `yaml:"command_rate" env:"API_COMMAND_RATE"`
	CommandBurst int           `yaml:"command_burst" env:"API_COMMAND_BURST"`
}

// TransportConfig configures the event stream transport.
type TransportConfig struct {
	BaseWSURL         string        `yaml:"base_ws_url" env:"TRANSPORT_BASE_WS_URL"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" env:"TRANSPORT_HANDSHAKE_TIMEOUT"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"TRANSPORT_HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" env:"TRANSPORT_HEARTBEAT_TIMEOUT"`
	MaxReconnects     int           `yaml:"max_reconnects" env:"TRANSPORT_MAX_RECONNECTS"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"TRANSPORT_RECONNECT_DELAY"`
	MaxBackoff        time.Duration `yaml:"max_backoff" env:"TRANSPORT_MAX_BACKOFF"`
	QueueSize         int           `yaml:"queue_size" env:"TRANSPORT_QUEUE_SIZE"`
	FlushInterval     time.Duration `yaml:"flush_interval" env:"TRANSPORT_FLUSH_INTERVAL"`
}

// MonitorConfig configures the execution reducer.
type MonitorConfig struct {
	EventLogCapacity int           `yaml:"event_log_capacity" env:"MONITOR_EVENT_LOG_CAPACITY"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout" env:"MONITOR_EXECUTION_TIMEOUT"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval" env:"MONITOR_WATCHDOG_INTERVAL"`
	CommandTimeout   time.Duration `yaml:"command_timeout" env:"MONITOR_COMMAND_TIMEOUT"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json | console
}

// MetricsConfig configures Prometheus collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	Namespace string `yaml:"namespace" env:"METRICS_NAMESPACE"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"TELEMETRY_ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"TELEMETRY_SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"TELEMETRY_OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"TELEMETRY_SAMPLE_RATE"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:      "http://localhost:8080/api/v1",
			Timeout:      15 * time.Second,
			CommandRate:  5,
			CommandBurst: 5,
		},
		Transport: TransportConfig{
			BaseWSURL:         "ws://localhost:8080/ws/executions",
			HandshakeTimeout:  10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
			MaxReconnects:     3,
			ReconnectDelay:    time.Second,
			MaxBackoff:        30 * time.Second,
			QueueSize:         64,
			FlushInterval:     100 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			EventLogCapacity: 1000,
			ExecutionTimeout: 30 * time.Minute,
			WatchdogInterval: 15 * time.Second,
			CommandTimeout:   10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "flowpulse",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "flowpulse",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks cross-field constraints the loader cannot express.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Transport.BaseWSURL == "" {
		return fmt.Errorf("transport.base_ws_url is required")
	}
	if c.Transport.MaxReconnects < 0 {
		return fmt.Errorf("transport.max_reconnects must be non-negative")
	}
	if c.Monitor.EventLogCapacity < 1 {
		return fmt.Errorf("monitor.event_log_capacity must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be within [0, 1]")
		}
	}
	return nil
}
