package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/arkviz/flowpulse"
	"github.com/arkviz/flowpulse/config"
	"github.com/arkviz/flowpulse/internal/telemetry"
	"github.com/arkviz/flowpulse/monitor"
	"github.com/arkviz/flowpulse/types"
)

// Version information (injected at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = runStart(os.Args[2:])
	case "watch":
		err = runWatch(os.Args[2:])
	case "cancel":
		err = runCancel(os.Args[2:])
	case "version":
		fmt.Printf("flowpulse %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`flowpulse - real-time agent execution monitor

Usage:
  flowpulse start  --agent <id> [--input <json>] [--watch] [--config <path>]
  flowpulse watch  --execution <id> [--agent <id>] [--config <path>]
  flowpulse cancel --execution <id> [--config <path>]
  flowpulse version`)
}

// setup loads configuration, builds the logger and initializes
// telemetry. The returned shutdown func flushes telemetry.
func setup(configPath string) (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(ctx)
		_ = logger.Sync()
	}
	return cfg, logger, shutdown, nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	agentID := fs.String("agent", "", "agent identifier (required)")
	input := fs.String("input", "", "input payload as JSON object")
	watch := fs.Bool("watch", true, "stay attached and stream progress")
	configPath := fs.String("config", "flowpulse.yaml", "config file path")
	priority := fs.String("priority", "", "execution priority: low|normal|high|critical")
	_ = fs.Parse(args)

	if *agentID == "" {
		return fmt.Errorf("--agent is required")
	}

	var inputData map[string]any
	if *input != "" {
		if err := json.Unmarshal([]byte(*input), &inputData); err != nil {
			return fmt.Errorf("parse --input: %w", err)
		}
	}
	var opts *types.ExecutionOptions
	if *priority != "" {
		opts = &types.ExecutionOptions{Priority: types.Priority(*priority)}
	}

	cfg, logger, shutdown, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer shutdown()

	mon, err := flowpulse.New(cfg, logger)
	if err != nil {
		return err
	}
	defer mon.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := mon.Start(ctx, *agentID, inputData, opts)
	if err != nil {
		return err
	}
	fmt.Printf("execution %s started for agent %s\n", id, *agentID)

	if !*watch {
		return nil
	}
	return tail(ctx, mon)
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	executionID := fs.String("execution", "", "execution identifier (required)")
	agentID := fs.String("agent", "", "agent identifier, informational")
	configPath := fs.String("config", "flowpulse.yaml", "config file path")
	_ = fs.Parse(args)

	if *executionID == "" {
		return fmt.Errorf("--execution is required")
	}

	cfg, logger, shutdown, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer shutdown()

	mon, err := flowpulse.New(cfg, logger)
	if err != nil {
		return err
	}
	defer mon.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mon.Attach(ctx, *executionID, *agentID); err != nil {
		return err
	}
	return tail(ctx, mon)
}

func runCancel(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	executionID := fs.String("execution", "", "execution identifier (required)")
	configPath := fs.String("config", "flowpulse.yaml", "config file path")
	_ = fs.Parse(args)

	if *executionID == "" {
		return fmt.Errorf("--execution is required")
	}

	cfg, logger, shutdown, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer shutdown()

	mon, err := flowpulse.New(cfg, logger)
	if err != nil {
		return err
	}
	defer mon.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mon.Attach(ctx, *executionID, ""); err != nil {
		return err
	}
	if err := mon.Cancel(ctx); err != nil {
		return err
	}
	fmt.Printf("cancel requested for execution %s\n", *executionID)
	return nil
}

// tail streams events to stdout until the execution reaches a terminal
// status or the context is cancelled.
func tail(ctx context.Context, mon *monitor.Monitor) error {
	updates := make(chan struct{}, 1)
	mon.OnUpdate(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	printed := 0

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-updates:
			case <-ticker.C:
			}

			events := mon.Events()
			for ; printed < len(events); printed++ {
				ev := events[printed]
				line := fmt.Sprintf("%s  %-5s %-20s %s",
					ev.Timestamp.Format(time.RFC3339), ev.Level, ev.Type, ev.Message)
				if ev.NodeID != "" {
					line += " (node " + ev.NodeID + ")"
				}
				fmt.Println(line)
			}

			if status := mon.Status(); status.IsTerminal() {
				printSummary(mon)
				return nil
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printSummary(mon *monitor.Monitor) {
	exec := mon.Execution()
	if exec == nil {
		return
	}
	live := "offline"
	if mon.Connected() {
		live = "live"
	}
	fmt.Printf("\nexecution %s: %s (%s)\n", exec.ID, exec.Status, live)
	fmt.Printf("  nodes: %d", exec.Aggregates.TotalNodes)
	for status, n := range exec.Aggregates.NodesByStatus {
		fmt.Printf("  %s=%d", status, n)
	}
	fmt.Println()
	if !exec.Aggregates.TotalTokens.IsZero() {
		fmt.Printf("  tokens: %d\n", exec.Aggregates.TotalTokens.TotalTokens)
	}
	fmt.Printf("  elapsed: %s\n", exec.Aggregates.Elapsed.Round(time.Millisecond))
	if exec.Error != "" {
		fmt.Printf("  error: %s\n", exec.Error)
	}
}
