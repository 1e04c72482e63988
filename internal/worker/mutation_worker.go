// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/metrics"
	"github.com/waylog/waylog/internal/models"
	"github.com/waylog/waylog/internal/transport"
)

// MutationQueue is what the mutation worker needs from the pending
// mutation store. Satisfied by *mutation.Service.
type MutationQueue interface {
	Next(ctx context.Context) (*models.PendingMutation, error)
	Confirm(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64, errText string) error
	MarkRejected(ctx context.Context, id int64, reason string) error
	Rollback(ctx context.Context, id int64) error
}

// MutationWorker submits pending edits and deletes in order. Mutations
// are strictly serial: an edit must not overtake the delete of the same
// entry, so a single worker drains the queue head-first.
type MutationWorker struct {
	name    string
	queue   MutationQueue
	api     transport.API
	limiter *rate.Limiter
	poll    time.Duration
	log     zerolog.Logger
}

// NewMutationWorker builds the mutation sync loop.
func NewMutationWorker(name string, q MutationQueue, api transport.API, cfg config.WorkerConfig, log zerolog.Logger) *MutationWorker {
	return &MutationWorker{
		name:    name,
		queue:   q,
		api:     api,
		limiter: newLimiter(cfg),
		poll:    cfg.PollInterval,
		log:     log.With().Str("worker", name).Logger(),
	}
}

// Serve implements suture.Service.
func (w *MutationWorker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if err := w.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("mutation drain failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *MutationWorker) String() string { return w.name }

func (w *MutationWorker) drain(ctx context.Context) error {
	for {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		m, err := w.queue.Next(ctx)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		if err := w.syncOne(ctx, m); err != nil {
			// Stop the pass so a transient failure does not spin on
			// the same head-of-queue mutation.
			return err
		}
	}
}

// syncOne submits one mutation. Success confirms and discards the
// record. A server rejection marks the record rejected, then rolls the
// optimistic local change back from the captured before-state. A
// transient failure releases the record for a later pass and ends the
// drain.
func (w *MutationWorker) syncOne(ctx context.Context, m *models.PendingMutation) error {
	err := w.submit(ctx, m)

	switch {
	case err == nil:
		metrics.TransportRequests.WithLabelValues(w.operation(m), "ok").Inc()
		return w.queue.Confirm(ctx, m.ID)

	case transport.IsRejection(err):
		metrics.TransportRequests.WithLabelValues(w.operation(m), "rejected").Inc()
		if mErr := w.queue.MarkRejected(ctx, m.ID, err.Error()); mErr != nil {
			return mErr
		}
		if rErr := w.queue.Rollback(ctx, m.ID); rErr != nil {
			w.log.Error().Err(rErr).Int64("id", m.ID).Msg("rollback failed")
			return rErr
		}
		w.log.Warn().Int64("id", m.ID).Str("kind", m.Kind.String()).
			Str("reason", err.Error()).Msg("mutation rejected, local change rolled back")
		return nil

	default:
		metrics.TransportRequests.WithLabelValues(w.operation(m), "error").Inc()
		if rErr := w.queue.Release(ctx, m.ID, err.Error()); rErr != nil {
			return rErr
		}
		return err
	}
}

func (w *MutationWorker) submit(ctx context.Context, m *models.PendingMutation) error {
	switch m.Kind {
	case models.MutationUpdate:
		return w.api.SubmitUpdate(ctx, m)
	case models.MutationDelete:
		return w.api.SubmitDelete(ctx, m)
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
}

func (w *MutationWorker) operation(m *models.PendingMutation) string {
	if m.Kind == models.MutationDelete {
		return "submit_delete"
	}
	return "submit_update"
}
