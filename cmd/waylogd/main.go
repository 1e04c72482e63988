// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package main is the entry point for the waylogd sync daemon.
//
// Waylog keeps a device's location history usable offline. Captured GPS
// fixes pass two admission gates, land in a durable SQLite queue, and are
// uploaded opportunistically by supervised workers. Edits and deletes of
// already-synced entries queue the same way, applied optimistically and
// rolled back from durable before-state if the server ultimately says no.
//
// The daemon initializes components in the following order:
//
//  1. Configuration: environment variables and config file (Koanf v2)
//  2. Database: SQLite queue, timeline, and mutation stores
//  3. Services: admission gates, timeline, mutation queue, event hub
//  4. Transport: HTTP backend client behind a circuit breaker
//  5. Supervisor tree: sync workers, eviction, diagnostics HTTP server
//
// Shutdown is graceful on SIGINT and SIGTERM: workers finish the sample
// in flight, release unclaimed work, and the queue survives on disk.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/waylog/waylog/internal/api"
	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/database"
	"github.com/waylog/waylog/internal/events"
	"github.com/waylog/waylog/internal/logging"
	"github.com/waylog/waylog/internal/mutation"
	"github.com/waylog/waylog/internal/queue"
	"github.com/waylog/waylog/internal/supervisor"
	"github.com/waylog/waylog/internal/timeline"
	"github.com/waylog/waylog/internal/transport"
	"github.com/waylog/waylog/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.Logger()

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("backend", cfg.Transport.BaseURL).
		Msg("Starting waylogd")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	hub := events.NewHub(log)
	defer func() {
		if err := hub.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event hub")
		}
	}()

	queueSvc := queue.NewService(db, cfg.Queue, cfg.UploadGate, cfg.TimelineGate, hub, log)
	timelineSvc := timeline.NewService(db, log)
	mutationSvc := mutation.NewService(db, hub, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed the admission gates from the newest stored entry so a restart
	// does not admit a stationary fix the previous run would have dropped.
	if last, err := timelineSvc.Latest(ctx); err != nil {
		logging.Warn().Err(err).Msg("Could not seed admission gates")
	} else if last != nil {
		queueSvc.SeedGates(ctx, last)
	}

	backend := transport.NewCircuitBreakerClient(transport.NewClient(cfg.Transport))

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	tree.AddSyncService(worker.NewSampleWorker("sample-worker", queueSvc, backend, cfg.Worker, log))
	tree.AddSyncService(worker.NewMutationWorker("mutation-worker", mutationSvc, backend, cfg.Worker, log))
	tree.AddSyncService(worker.NewMergeWorker("merge-worker", timelineSvc, backend, cfg.Worker, log))
	tree.AddMaintenanceService(worker.NewEvictionService("eviction", queueSvc, cfg.Queue, log))

	if cfg.Server.Enabled {
		handler := api.NewHandler(queueSvc, mutationSvc, timelineSvc, log)
		tree.AddAPIService(api.NewServer(cfg.Server, api.Routes(handler), log))
	} else {
		logging.Info().Msg("Diagnostics HTTP server disabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Waylog stopped gracefully")
}
