// Command retrackd is the Retrack Engine daemon: it loads a config
// file, opens the bbolt Data Store, wires the Engine, and runs the
// Scheduler Core until SIGINT/SIGTERM — the same
// flags-then-run-until-signal shape as the teacher's
// scheduler.SchedulerManager.RunDaemon, parsed with spf13/pflag in the
// teacher's cmd/mailgrid style.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/retrack-dev/engine/internal/engine"
	"github.com/retrack-dev/engine/internal/engineconfig"
	"github.com/retrack-dev/engine/internal/store"
	"github.com/retrack-dev/engine/retracklog"
)

func main() {
	var (
		configPath  = pflag.String("config", "", "Path to engine config JSON (required)")
		dbPath      = pflag.String("db", "retrack.db", "Path to the bbolt data store file")
		logLevel    = pflag.String("log-level", "", "Override config.log_level")
		logFormat   = pflag.String("log-format", "", "Override config.log_format (json|text)")
		metricsPort = pflag.Int("metrics-port", 0, "Port to serve /metrics, /health, /ready on (0 disables)")
		instanceID  = pflag.String("instance-id", "", "Scheduler lock-ownership id (defaults to the process hostname+pid)")
	)
	pflag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "retrackd: --config is required")
		os.Exit(1)
	}

	cfg, err := engineconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrackd: load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}

	logger := retracklog.New("retrackd", cfg.LogLevel, cfg.LogFormat)

	s, err := store.Open(*dbPath)
	if err != nil {
		logger.Errorf("open data store %q: %v", *dbPath, err)
		os.Exit(1)
	}
	defer s.Close()

	id := *instanceID
	if id == "" {
		id = defaultInstanceID()
	}

	e := engine.New(cfg, s, logger, id)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsPort > 0 {
		go func() {
			if err := e.Scheduler.Metrics.StartMetricsServer(ctx, *metricsPort); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	if err := e.Start(ctx); err != nil {
		logger.Errorf("start scheduler: %v", err)
		os.Exit(1)
	}
	logger.Infof("retrackd started: db=%s instance=%s", *dbPath, id)

	<-ctx.Done()
	logger.Infof("shutting down...")
	e.Stop()
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "retrackd"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
