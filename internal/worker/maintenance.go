// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/models"
	"github.com/waylog/waylog/internal/timeline"
	"github.com/waylog/waylog/internal/transport"
)

// Merger is what the merge worker needs from the timeline store.
// Satisfied by *timeline.Service.
type Merger interface {
	MergeFromServer(ctx context.Context, rows []*models.ServerRow) (timeline.MergeStats, error)
}

// MergeWorker periodically pulls enriched rows from the backend and
// reconciles them into the local timeline. The pull window overlaps
// between runs; the merge is idempotent so replayed rows are harmless.
type MergeWorker struct {
	name     string
	store    Merger
	api      transport.API
	interval time.Duration
	lookback time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewMergeWorker builds the enrichment pull loop.
func NewMergeWorker(name string, store Merger, api transport.API, cfg config.WorkerConfig, log zerolog.Logger) *MergeWorker {
	return &MergeWorker{
		name:     name,
		store:    store,
		api:      api,
		interval: cfg.MergeInterval,
		lookback: cfg.MergeLookback,
		log:      log.With().Str("worker", name).Logger(),
		now:      time.Now,
	}
}

// Serve implements suture.Service.
func (w *MergeWorker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// One pull at startup so a fresh device catches up immediately.
	w.pull(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.pull(ctx)
		}
	}
}

func (w *MergeWorker) String() string { return w.name }

func (w *MergeWorker) pull(ctx context.Context) {
	to := w.now()
	from := to.Add(-w.lookback)

	rows, err := w.api.FetchEnriched(ctx, from, to)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("enrichment pull failed")
		}
		return
	}
	stats, err := w.store.MergeFromServer(ctx, rows)
	if err != nil {
		w.log.Error().Err(err).Msg("merge failed")
		return
	}
	if stats.Enriched > 0 || stats.Inserted > 0 {
		w.log.Info().Int("enriched", stats.Enriched).Int("inserted", stats.Inserted).
			Msg("timeline merged from server")
	}
}

// Evictor is what the eviction service needs from the queue. Satisfied
// by *queue.Service.
type Evictor interface {
	RunEviction(ctx context.Context) (int, error)
}

// EvictionService trims the durable queue on a fixed cadence so the
// store stays within its capacity and retention bounds.
type EvictionService struct {
	name     string
	queue    Evictor
	interval time.Duration
	log      zerolog.Logger
}

// NewEvictionService builds the periodic queue trimmer.
func NewEvictionService(name string, q Evictor, cfg config.QueueConfig, log zerolog.Logger) *EvictionService {
	return &EvictionService{
		name:     name,
		queue:    q,
		interval: cfg.EvictionInterval,
		log:      log.With().Str("worker", name).Logger(),
	}
}

// Serve implements suture.Service.
func (s *EvictionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			evicted, err := s.queue.RunEviction(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Error().Err(err).Msg("eviction pass failed")
				continue
			}
			if evicted > 0 {
				s.log.Info().Int("evicted", evicted).Msg("queue trimmed")
			}
		}
	}
}

func (s *EvictionService) String() string { return s.name }
