// The windlass control plane. Receives events, evaluates automations,
// executes actions, and streams events to subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/windlass-io/windlass/internal/controlplane/config"
	"github.com/windlass-io/windlass/internal/controlplane/server"
	"github.com/windlass-io/windlass/internal/telemetry"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("WINDLASS_CONFIG"), "path to config file (JSON)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("windlass control-plane %s (commit %s, built %s)\n", server.Version, server.Commit, server.Date)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, server.Version)
	if err != nil {
		logger.Fatal("initialising tracing", zap.Error(err))
	}
	defer shutdownTracer(context.Background()) //nolint:errcheck

	s, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("building server", zap.Error(err))
	}
	defer s.Close()

	if err := s.Run(ctx); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("goodbye")
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.LoadFromEnv(), nil
	}
	return config.Load(path)
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
