// Package server wires together all control-plane subsystems and exposes the
// HTTP server. main() builds a Server, calls Run, done.
package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/automations"
	"github.com/windlass-io/windlass/internal/controlplane/config"
	"github.com/windlass-io/windlass/internal/controlplane/events"
	"github.com/windlass-io/windlass/internal/controlplane/metrics"
	"github.com/windlass-io/windlass/internal/controlplane/notifications"
	"github.com/windlass-io/windlass/internal/controlplane/runs"
	cpws "github.com/windlass-io/windlass/internal/controlplane/websocket"
	"github.com/windlass-io/windlass/internal/telemetry"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Server is the assembled control plane.
type Server struct {
	cfg    config.Config
	logger *zap.Logger

	// Events
	eventStore *events.Store
	eventBus   *events.Bus
	hub        *cpws.Hub

	// Automations
	automationStore *automations.Store
	engine          *automations.Engine
	executor        *automations.Executor

	// Orchestrated system + notifications
	runManager   *runs.Manager
	webhookStore *notifications.Store

	httpServer *http.Server
}

// New builds a fully-wired Server from config.
func New(cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s.eventBus = events.NewBus(256)

	if err := s.initEvents(); err != nil {
		return nil, err
	}
	if err := s.initWebhooks(); err != nil {
		return nil, err
	}
	s.initRuns()
	if err := s.initAutomations(); err != nil {
		return nil, err
	}
	s.hub = cpws.NewHub(s.eventBus, func(batch []events.Event, source string) error {
		return s.ingestEvents(context.Background(), batch, source)
	}, s.logger.Named("websocket"))

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.executor.Start()
	s.engine.Start()
	if s.cfg.RetentionSchedule != "" && s.cfg.RetentionHorizon.Duration() > 0 {
		if err := s.eventStore.StartRetention(s.cfg.RetentionSchedule, s.cfg.RetentionHorizon.Duration()); err != nil {
			return fmt.Errorf("starting retention sweep: %w", err)
		}
	}

	s.logger.Info("starting control plane",
		zap.String("addr", s.cfg.ListenAddr),
		zap.String("version", Version),
		zap.Bool("postgres", s.cfg.UsesPostgres()),
		zap.Int("automations", len(s.automationStore.List())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Close releases all resources.
func (s *Server) Close() {
	if s.engine != nil {
		s.engine.Stop()
	}
	if s.executor != nil {
		s.executor.Stop()
	}
	if s.eventStore != nil {
		s.eventStore.Close()
	}
	if s.automationStore != nil {
		s.automationStore.Close()
	}
	if s.webhookStore != nil {
		s.webhookStore.Close()
	}
}

// ingestEvents is the single entry point for events from every source:
// the HTTP batch endpoint, the ingest socket, run state transitions, and
// action outcomes. Events are persisted, evaluated, then published to
// stream subscribers, in that order.
func (s *Server) ingestEvents(ctx context.Context, batch []events.Event, source string) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, span := telemetry.StartIngestSpan(ctx, source, len(batch))
	defer span.End()
	if err := s.eventStore.Insert(ctx, batch); err != nil {
		return fmt.Errorf("persisting events: %w", err)
	}
	for _, ev := range batch {
		metrics.EventsReceivedTotal.WithLabelValues(source).Inc()
		s.engine.Observe(ev)
		s.eventBus.Publish(ev)
	}
	return nil
}

// emit feeds a single internally generated event through the pipeline.
func (s *Server) emit(ev events.Event) {
	ev = ev.Receive()
	if err := ev.Validate(); err != nil {
		s.logger.Error("dropping invalid internal event",
			zap.String("event", ev.Event),
			zap.Error(err),
		)
		return
	}
	if err := s.ingestEvents(context.Background(), []events.Event{ev}, "internal"); err != nil {
		s.logger.Error("ingesting internal event", zap.Error(err))
	}
}

// ── Init helpers ─────────────────────────────────────────────

func (s *Server) initEvents() error {
	key, err := s.pageTokenKey()
	if err != nil {
		return err
	}
	store, err := events.NewStore(events.StoreConfig{
		SQLitePath:  filepath.Join(s.cfg.DataDir, "events.db"),
		PostgresDSN: s.cfg.PostgresDSN,
		TokenKey:    key,
	}, s.logger.Named("events"))
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}
	s.eventStore = store
	return nil
}

// pageTokenKey returns the configured signing key. When none is configured
// a random key is generated on first start and persisted under the data
// dir, so page tokens stay valid across restarts.
func (s *Server) pageTokenKey() ([]byte, error) {
	if s.cfg.PageTokenKey != "" {
		return []byte(s.cfg.PageTokenKey), nil
	}
	path := filepath.Join(s.cfg.DataDir, "page-token.key")
	if key, err := os.ReadFile(path); err == nil && len(key) > 0 {
		return key, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating page token key: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("persisting page token key: %w", err)
	}
	s.logger.Info("generated page token key", zap.String("path", path))
	return key, nil
}

func (s *Server) initWebhooks() error {
	store, err := notifications.NewStore(
		filepath.Join(s.cfg.DataDir, "webhooks.db"),
		s.logger.Named("webhooks"),
	)
	if err != nil {
		return fmt.Errorf("opening webhook store: %w", err)
	}
	s.webhookStore = store
	return nil
}

func (s *Server) initRuns() {
	s.runManager = runs.NewManager(s.logger.Named("runs"))
	s.runManager.SetEmitter(s.emit)
}

func (s *Server) initAutomations() error {
	store, err := automations.NewStore(automations.StoreConfig{
		SQLitePath:  filepath.Join(s.cfg.DataDir, "automations.db"),
		PostgresDSN: s.cfg.PostgresDSN,
	}, s.logger.Named("automations"))
	if err != nil {
		return fmt.Errorf("opening automation store: %w", err)
	}
	s.automationStore = store

	if s.cfg.AutomationsSeedFile != "" {
		seed, err := automations.LoadSeedFile(s.cfg.AutomationsSeedFile)
		if err != nil {
			return fmt.Errorf("loading automations seed: %w", err)
		}
		if err := store.Seed(seed, s.logger.Named("automations")); err != nil {
			return err
		}
	}

	rt := &automations.Runtime{
		Orchestrator: s.runManager,
		Notifier:     s.webhookStore.Notifier(),
		Emit:         s.emit,
		Logger:       s.logger.Named("actions"),
	}
	s.executor = automations.NewExecutor(rt, s.cfg.ExecutorWorkers, s.cfg.ExecutorQueueSize, s.logger.Named("executor"))
	dispatcher := automations.NewDispatcher(s.executor, s.logger.Named("dispatcher"))
	s.engine = automations.NewEngine(store, dispatcher, s.logger.Named("engine"))
	s.engine.SetGranularity(s.cfg.SweepGranularity.Duration())
	return nil
}
