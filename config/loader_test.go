package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api/v1", cfg.API.BaseURL)
	assert.Equal(t, "ws://localhost:8080/ws/executions", cfg.Transport.BaseWSURL)
	assert.Equal(t, 3, cfg.Transport.MaxReconnects)
	assert.Equal(t, 30*time.Second, cfg.Transport.MaxBackoff)
	assert.Equal(t, 1000, cfg.Monitor.EventLogCapacity)
	assert.Equal(t, 30*time.Minute, cfg.Monitor.ExecutionTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: https://backend.example.com/api/v1
  token: secret
transport:
  max_reconnects: 7
  reconnect_delay: 250ms
monitor:
  execution_timeout: 5m
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://backend.example.com/api/v1", cfg.API.BaseURL)
	assert.Equal(t, "secret", cfg.API.Token)
	assert.Equal(t, 7, cfg.Transport.MaxReconnects)
	assert.Equal(t, 250*time.Millisecond, cfg.Transport.ReconnectDelay)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.ExecutionTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, 64, cfg.Transport.QueueSize)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api: ["), 0o600))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  max_reconnects: 7\n"), 0o600))

	t.Setenv("FLOWPULSE_TRANSPORT_MAX_RECONNECTS", "9")
	t.Setenv("FLOWPULSE_API_TOKEN", "env-token")
	t.Setenv("FLOWPULSE_MONITOR_EXECUTION_TIMEOUT", "90s")
	t.Setenv("FLOWPULSE_METRICS_ENABLED", "false")
	t.Setenv("FLOWPULSE_TELEMETRY_SAMPLE_RATE", "0.25")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Transport.MaxReconnects)
	assert.Equal(t, "env-token", cfg.API.Token)
	assert.Equal(t, 90*time.Second, cfg.Monitor.ExecutionTimeout)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
}

func TestEnvPrefixConfigurable(t *testing.T) {
	t.Setenv("CUSTOM_LOG_LEVEL", "warn")
	cfg, err := NewLoader().WithEnvPrefix("CUSTOM").Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvBadValueRejected(t *testing.T) {
	t.Setenv("FLOWPULSE_TRANSPORT_MAX_RECONNECTS", "lots")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLOWPULSE_TRANSPORT_MAX_RECONNECTS")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"missing api url", func(c *Config) { c.API.BaseURL = "" }, "api.base_url"},
		{"missing ws url", func(c *Config) { c.Transport.BaseWSURL = "" }, "base_ws_url"},
		{"negative reconnects", func(c *Config) { c.Transport.MaxReconnects = -1 }, "max_reconnects"},
		{"zero log capacity", func(c *Config) { c.Monitor.EventLogCapacity = 0 }, "event_log_capacity"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.OTLPEndpoint = ""
		}, "otlp_endpoint"},
		{"sample rate out of range", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 1.5
		}, "sample_rate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.errSub == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errSub)
			}
		})
	}
}
