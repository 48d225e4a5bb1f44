package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callprobe/callprobe/internal/amd"
	"github.com/callprobe/callprobe/internal/api"
	"github.com/callprobe/callprobe/internal/config"
	"github.com/callprobe/callprobe/internal/database"
	"github.com/callprobe/callprobe/internal/metrics"
	"github.com/callprobe/callprobe/internal/provider"
	"github.com/callprobe/callprobe/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callprobe",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"public_url", cfg.PublicURL,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	calls := database.NewCallRepository(db)
	events := database.NewDetectionEventRepository(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Detection core: state machine, resolver, provider strategies.
	machine := amd.NewMachine(calls, events, cfg.DecisionThreshold, logger)
	resolver := amd.NewResolver(calls, logger)

	providerClient := provider.NewClient(provider.Config{
		BaseURL:    cfg.ProviderBaseURL,
		AccountSID: cfg.ProviderAccountSID,
		AuthToken:  cfg.ProviderAuthToken,
	})
	strategies := amd.NewStrategies(providerClient, amd.StrategyConfig{
		PublicURL:        cfg.PublicURL,
		TrunkDomain:      cfg.TrunkDomain,
		StreamAppSID:     cfg.StreamAppSID,
		DetectionTimeout: cfg.DetectionTimeout,
	})

	orchestrator := amd.NewOrchestrator(calls, events, machine, resolver, strategies, cfg.CallerID, logger)
	orchestrator.StartReconcileTicker(appCtx, cfg.ReconcileInterval, cfg.ReconcileMaxAge)

	// Media relay for the stream strategy.
	registry := relay.NewRegistry(logger)
	orchestrator.SetSessionRegistry(registry)
	streamHandler := relay.NewHandler(
		registry,
		machine,
		resolver,
		relay.NewInferenceDialer(cfg.InferenceURL),
		cfg.DecisionThreshold,
		cfg.MaxStreamDuration,
		logger,
	)

	// Prometheus metrics gathered at scrape time.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(registry, calls, time.Now()))
	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	// HTTP server using the api package.
	handler := api.NewServer(cfg, orchestrator, calls, events, streamHandler, metricsHandler)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	orchestrator.Shutdown()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callprobe stopped")
}
