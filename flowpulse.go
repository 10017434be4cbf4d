// Package flowpulse provides a top-level convenience entry point for
// building an execution monitor with minimal boilerplate.
//
// Usage:
//
//	cfg, _ := config.NewLoader().WithConfigPath("flowpulse.yaml").Load()
//	mon, err := flowpulse.New(cfg, logger)
//	id, err := mon.Start(ctx, "agent-1", input, nil)
//
// This wires the collaborator API client, the per-execution transport
// factory, and the Prometheus collector together; use the api, transport
// and monitor packages directly when you need finer control.
package flowpulse

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arkviz/flowpulse/api"
	"github.com/arkviz/flowpulse/config"
	"github.com/arkviz/flowpulse/internal/metrics"
	"github.com/arkviz/flowpulse/monitor"
	"github.com/arkviz/flowpulse/transport"
	"golang.org/x/time/rate"
)

// New builds a ready-to-use Monitor from the given configuration.
func New(cfg *config.Config, logger *zap.Logger) (*monitor.Monitor, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var col *metrics.Collector
	if cfg.Metrics.Enabled {
		col = metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer, logger)
	}

	client := api.NewClient(api.Config{
		BaseURL:      cfg.API.BaseURL,
		Token:        cfg.API.Token,
		Timeout:      cfg.API.Timeout,
		CommandRate:  rate.Limit(cfg.API.CommandRate),
		CommandBurst: cfg.API.CommandBurst,
	}, logger)

	streams := monitor.NewStreamFactory(cfg.Transport.BaseWSURL, transport.Config{
		HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Transport.HeartbeatTimeout,
		MaxReconnects:     cfg.Transport.MaxReconnects,
		ReconnectDelay:    cfg.Transport.ReconnectDelay,
		MaxBackoff:        cfg.Transport.MaxBackoff,
		QueueSize:         cfg.Transport.QueueSize,
		FlushInterval:     cfg.Transport.FlushInterval,
		EnableHeartbeat:   true,
	}, logger, col)

	mon := monitor.New(client, streams, monitor.Config{
		EventLogCapacity: cfg.Monitor.EventLogCapacity,
		ExecutionTimeout: cfg.Monitor.ExecutionTimeout,
		WatchdogInterval: cfg.Monitor.WatchdogInterval,
		CommandTimeout:   cfg.Monitor.CommandTimeout,
	}, logger).WithMetrics(col)

	return mon, nil
}
