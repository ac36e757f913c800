package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoheal/internal/breaker"
	"autoheal/internal/clock"
	"autoheal/internal/config"
	"autoheal/internal/history"
	"autoheal/internal/ingest"
	"autoheal/internal/logging"
	"autoheal/internal/notify"
	"autoheal/internal/recovery"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alert recovery service.
type Service struct {
	cfg          config.Config
	logger       *slog.Logger
	closeLog     func()
	registry     *prometheus.Registry
	breakers     *breaker.Registry
	store        *history.Store
	orchestrator *recovery.Orchestrator
	httpSrv      *http.Server
	natsSub      interface{ Close() error }
	readyFlag    atomic.Bool
	clock        clock.Clock
}

// NewService builds a service instance from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := recovery.NewMetrics(registry)

	breakers := breaker.New(breaker.Config{
		FailureThreshold: cfg.Recovery.FailureThreshold,
		Cooldown:         time.Duration(cfg.Recovery.OpenCooldownSec) * time.Second,
	}, breaker.WithLogger(logger), breaker.WithObserver(metrics), breaker.WithNow(clk.Now))

	store := history.New(cfg.Recovery.HistorySize)

	dispatcher, err := notify.NewDispatcher(cfg.Notify, logger)
	if err != nil {
		closeLog()
		return nil, err
	}

	orchestratorOpts := []recovery.OrchestratorOption{recovery.WithHistory(store)}
	if dispatcher != nil {
		orchestratorOpts = append(orchestratorOpts, recovery.WithNotifier(dispatcher))
	}
	orchestrator := recovery.NewOrchestrator(logger, metrics, clk, orchestratorOpts...)
	registerRoutes(orchestrator, cfg, breakers, logger)

	service := &Service{
		cfg:          cfg,
		logger:       logger,
		closeLog:     closeLog,
		registry:     registry,
		breakers:     breakers,
		store:        store,
		orchestrator: orchestrator,
		clock:        clk,
	}

	service.buildHTTPServer()
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// registerRoutes binds the configured alert routing table to handler instances.
// One handler instance per strategy is shared across all routes so the
// circuit breaker state is common to every alert using the same API.
// Params: orchestrator, validated config, breaker registry, and logger.
// Returns: none.
func registerRoutes(orchestrator *recovery.Orchestrator, cfg config.Config, breakers *breaker.Registry, logger *slog.Logger) {
	workflow := recovery.NewWorkflowRetryHandler(cfg.GitHub, breakers, logger)
	rateLimit := recovery.NewRateLimitBackoffHandler(workflow, cfg.Recovery.Backoff, logger)
	handlers := map[string]recovery.Handler{
		config.StrategyWorkflowRetry:    workflow,
		config.StrategyRateLimitBackoff: rateLimit,
	}
	for _, route := range cfg.Route {
		// Validate guarantees every configured strategy is known.
		orchestrator.RegisterHandler(route.Alert, handlers[route.Strategy])
	}
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order: stop intake first,
// then drain in-flight recovery work.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.orchestrator.Drain(ctx); err != nil {
		s.logger.Error("recovery drain failed", "error", err.Error())
		markErr(err)
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with ingest, query, and health endpoints.
// Params: none.
// Returns: none.
func (s *Service) buildHTTPServer() {
	httpCfg := s.cfg.Ingest.HTTP
	mux := http.NewServeMux()
	mux.HandleFunc(httpCfg.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(httpCfg.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	mux.Handle(httpCfg.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	if httpCfg.Enabled {
		mux.Handle(httpCfg.WebhookPath, ingest.NewWebhookHandler(s.orchestrator, httpCfg.MaxBodyBytes))
		mux.Handle(httpCfg.AttemptsPath, ingest.NewAttemptsHandler(s.store))
	}

	s.httpSrv = &http.Server{
		Addr:              httpCfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildNATSSubscriber starts NATS webhook ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(s.cfg.Ingest.NATS, s.orchestrator, s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}
