// Package main is the entry point for the tapescan market scanner.
//
// The scanner sits between an upstream ingester (which writes raw market
// snapshots to Redis) and downstream consumers (WebSocket subscribers and
// Redis pub/sub listeners). Each cycle it enriches the raw snapshot with
// session-derived indicators, writes only the fields that changed, runs
// every ticker through the rule network and publishes per-channel match
// deltas.
//
// Startup sequence:
// 1. Load configuration from environment variables
// 2. Initialize logging
// 3. Wire all dependencies (store, databases, rule network, pipeline)
// 4. Start the HTTP server, the enrichment loop and the pub/sub listeners
// 5. Wait for shutdown signal and drain gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tapescan/tapescan/internal/config"
	"github.com/tapescan/tapescan/internal/di"
	"github.com/tapescan/tapescan/internal/scheduler"
	"github.com/tapescan/tapescan/pkg/logger"
)

func main() {
	// Load configuration first to get the log level.
	cfg, err := config.Load()
	if err != nil {
		// Use a fallback logger so the configuration error is still visible.
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting tapescan")

	// ctx governs every background loop: the enrichment pipeline, the
	// pub/sub listeners and the rule-change listener all exit when it is
	// cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// HTTP server.
	go func() {
		if err := container.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// Enrichment loop.
	go container.Pipeline.Run(ctx)

	// Pub/sub bridges: session transitions and remote rule edits.
	go container.SessionListener.Run(ctx)
	go container.RuleManager.RunListener(ctx)

	// Recurring jobs: safety reload, state snapshots, DB maintenance.
	container.Scheduler.Start()

	// Wait for interrupt.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Drain HTTP connections first so in-flight requests and streams see
	// a clean close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	container.Scheduler.Stop()
	cancel()

	// Persist the session state so a restart inside the same trading day
	// resumes with intraday extremes and windows intact.
	snapshotJob := scheduler.NewStateSnapshotJob(container.State, container.Clock, container.SnapshotsRepo, log)
	if err := snapshotJob.Run(); err != nil {
		log.Warn().Err(err).Msg("Final state snapshot failed")
	}

	container.Close()
	log.Info().Msg("Shutdown complete")
}
