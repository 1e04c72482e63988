// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package worker runs the background sync loops as supervised services:
// claiming queued samples and mutations, submitting them to the backend,
// mapping each outcome back onto the stores, pulling enriched data, and
// running periodic eviction. Every worker implements suture.Service.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/metrics"
	"github.com/waylog/waylog/internal/models"
	"github.com/waylog/waylog/internal/transport"
)

// SampleQueue is what the sample worker needs from the location queue.
// Satisfied by *queue.Service.
type SampleQueue interface {
	Claim(ctx context.Context) (*models.QueuedSample, error)
	ConfirmSynced(ctx context.Context, localID, serverID int64) error
	ReleaseForRetry(ctx context.Context, localID int64, errText string) error
	Reject(ctx context.Context, localID int64, reason string) error
}

// SampleWorker drains the location queue against the backend. Several
// instances may run concurrently; the claim protocol keeps them from
// stepping on each other.
type SampleWorker struct {
	name    string
	queue   SampleQueue
	api     transport.API
	limiter *rate.Limiter
	poll    time.Duration
	log     zerolog.Logger
}

// NewSampleWorker builds one sample sync loop.
func NewSampleWorker(name string, q SampleQueue, api transport.API, cfg config.WorkerConfig, log zerolog.Logger) *SampleWorker {
	return &SampleWorker{
		name:    name,
		queue:   q,
		api:     api,
		limiter: newLimiter(cfg),
		poll:    cfg.PollInterval,
		log:     log.With().Str("worker", name).Logger(),
	}
}

// Serve implements suture.Service: drain the queue, sleep one poll
// interval, repeat until the context ends.
func (w *SampleWorker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("drain pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *SampleWorker) String() string { return w.name }

// drain claims and submits until the queue is empty.
func (w *SampleWorker) drain(ctx context.Context) error {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		sample, err := w.queue.Claim(ctx)
		if err != nil {
			return err
		}
		if sample == nil {
			return nil
		}
		w.syncOne(ctx, sample)
	}
}

// syncOne submits one claimed sample and maps the outcome: success
// confirms, a server rejection is terminal, anything else releases the
// claim for a later retry.
func (w *SampleWorker) syncOne(ctx context.Context, sample *models.QueuedSample) {
	start := time.Now()
	serverID, err := w.api.SubmitLocation(ctx, sample)
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.TransportRequests.WithLabelValues("submit_location", "ok").Inc()
		if err := w.queue.ConfirmSynced(ctx, sample.ID, serverID); err != nil {
			w.log.Error().Err(err).Int64("id", sample.ID).Msg("confirm failed")
		}

	case transport.IsRejection(err):
		metrics.TransportRequests.WithLabelValues("submit_location", "rejected").Inc()
		if err := w.queue.Reject(ctx, sample.ID, err.Error()); err != nil {
			w.log.Error().Err(err).Int64("id", sample.ID).Msg("reject failed")
		}

	default:
		metrics.TransportRequests.WithLabelValues("submit_location", "error").Inc()
		if err := w.queue.ReleaseForRetry(ctx, sample.ID, err.Error()); err != nil {
			w.log.Error().Err(err).Int64("id", sample.ID).Msg("release failed")
		}
	}
}

func newLimiter(cfg config.WorkerConfig) *rate.Limiter {
	if cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
}
