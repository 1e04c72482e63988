// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package queue implements the durable location queue: admission of
// captured samples, the two-tier optimistic claim protocol, sync outcome
// bookkeeping, and the eviction policy. The queue and the timeline store
// share one database; every upload-bound sample gets a linked timeline
// row at enqueue time so sync outcomes can be projected back by local id.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/database"
	"github.com/waylog/waylog/internal/events"
	"github.com/waylog/waylog/internal/filter"
	"github.com/waylog/waylog/internal/metrics"
	"github.com/waylog/waylog/internal/models"
)

// claimBatchSize bounds how many candidates one claim attempt considers
// per tier before giving up. Losing a race to every one of these means
// the queue is drained faster than we can scan it, which is fine.
const claimBatchSize = 16

// Service owns the location queue. Safe for concurrent use: claim safety
// comes from conditional updates in the store, not from locks here.
type Service struct {
	db  *database.DB
	cfg config.QueueConfig
	hub *events.Hub
	log zerolog.Logger

	uploadGate   *filter.Gate
	timelineGate *filter.Gate
}

// NewService wires the queue over its database, admission gates, and
// event hub.
func NewService(db *database.DB, cfg config.QueueConfig, upload, timeline config.FilterConfig, hub *events.Hub, log zerolog.Logger) *Service {
	return &Service{
		db:           db,
		cfg:          cfg,
		hub:          hub,
		log:          log.With().Str("component", "queue").Logger(),
		uploadGate:   filter.NewGate(upload),
		timelineGate: filter.NewGate(timeline),
	}
}

// Capture runs a just-captured sample through the admission gates and
// stores what passes. User-invoked samples (manual check-ins) bypass both
// gates entirely. Passive samples are judged by each gate independently:
// the upload gate decides whether the sample is queued for the server,
// the timeline gate whether it appears in local history at all. A sample
// that passes neither is dropped and announced on the skipped topic.
//
// The returned sample is nil when nothing was stored.
func (s *Service) Capture(ctx context.Context, pos models.Position, capturedAt time.Time, userInvoked bool) (*models.QueuedSample, error) {
	if userInvoked {
		return s.enqueue(ctx, pos, capturedAt, true)
	}

	cand := filter.Candidate{Position: pos, CapturedAt: capturedAt}
	uploadOK := s.uploadGate.Admit(cand)
	timelineOK := s.timelineGate.Admit(cand)
	metrics.RecordFilterDecision("upload", uploadOK)
	metrics.RecordFilterDecision("timeline", timelineOK)

	switch {
	case uploadOK:
		return s.enqueue(ctx, pos, capturedAt, false)
	case timelineOK:
		// Worth showing locally, not worth sending: a timeline row with
		// no queue backing. It will never gain a server id.
		entry := &models.TimelineEntry{Position: pos, CapturedAt: capturedAt}
		if _, err := s.db.InsertEntry(ctx, entry); err != nil {
			return nil, err
		}
		s.log.Debug().Int64("entry_id", entry.ID).Msg("sample admitted to timeline only")
		return nil, nil
	default:
		s.publishSample(events.TopicSampleSkipped, events.SampleEvent{
			CapturedAt: capturedAt,
			Reason:     "below admission thresholds",
		})
		return nil, nil
	}
}

// Enqueue inserts a sample directly, skipping the admission gates. Every
// insert starts Pending with zero attempts; an idempotency token is
// generated when the caller did not supply one.
func (s *Service) Enqueue(ctx context.Context, sample *models.QueuedSample) error {
	if sample.IdempotencyToken == "" {
		sample.IdempotencyToken = uuid.NewString()
	}
	entry := &models.TimelineEntry{
		Position:   sample.Position,
		CapturedAt: sample.CapturedAt,
	}
	if err := s.db.InsertSampleWithTimeline(ctx, sample, entry); err != nil {
		return err
	}

	source := "passive"
	if sample.UserInvoked {
		source = "user_invoked"
	}
	metrics.QueueAdmissions.WithLabelValues(source).Inc()
	s.publishSample(events.TopicSampleEnqueued, events.SampleEvent{
		LocalID:     sample.ID,
		UserInvoked: sample.UserInvoked,
		CapturedAt:  sample.CapturedAt,
	})
	s.log.Debug().
		Int64("id", sample.ID).
		Bool("user_invoked", sample.UserInvoked).
		Msg("sample enqueued")
	return nil
}

func (s *Service) enqueue(ctx context.Context, pos models.Position, capturedAt time.Time, userInvoked bool) (*models.QueuedSample, error) {
	sample := &models.QueuedSample{
		Position:    pos,
		CapturedAt:  capturedAt,
		UserInvoked: userInvoked,
	}
	if err := s.Enqueue(ctx, sample); err != nil {
		return nil, err
	}
	return sample, nil
}

// Claim hands ownership of exactly one Pending, non-rejected sample to
// the caller, or returns nil when nothing is claimable. User-invoked
// samples are always considered first, oldest first; only when that tier
// is empty or fully contended does the claim fall through to passive
// samples in their own chronological order. Each candidate is taken with
// a conditional status transition, so concurrent claimers race safely: a
// loser observes zero rows affected and moves on.
func (s *Service) Claim(ctx context.Context) (*models.QueuedSample, error) {
	for _, userInvoked := range []bool{true, false} {
		sample, err := s.claimTier(ctx, userInvoked)
		if err != nil || sample != nil {
			return sample, err
		}
	}
	metrics.RecordClaim("empty")
	return nil, nil
}

func (s *Service) claimTier(ctx context.Context, userInvoked bool) (*models.QueuedSample, error) {
	ids, err := s.db.ClaimCandidateIDs(ctx, userInvoked, claimBatchSize)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		won, err := s.db.TryClaim(ctx, id, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if !won {
			// Another claimer raced us to this candidate; try the next.
			metrics.RecordClaim("lost")
			continue
		}
		metrics.RecordClaim("won")
		return s.db.GetSample(ctx, id)
	}
	return nil, nil
}

// ConfirmSynced marks a claimed sample as accepted by the server and
// projects the server id onto the linked timeline row. Confirming a
// sample that is not currently Syncing is a silent no-op, so duplicate
// confirmations are harmless.
func (s *Service) ConfirmSynced(ctx context.Context, localID, serverID int64) error {
	ok, err := s.db.ConfirmSampleSynced(ctx, localID, serverID)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug().Int64("id", localID).Msg("confirm ignored, sample not syncing")
		return nil
	}

	if _, err := s.db.SetEntryServerID(ctx, localID, serverID); err != nil {
		return err
	}

	metrics.SyncOutcomes.WithLabelValues("synced").Inc()
	metrics.SyncLastSuccess.SetToCurrentTime()
	s.publishSample(events.TopicSampleSynced, events.SampleEvent{
		LocalID:  localID,
		ServerID: &serverID,
	})
	s.log.Info().Int64("id", localID).Int64("server_id", serverID).Msg("sample synced")
	return nil
}

// ReleaseForRetry returns a claimed sample to Pending after a transient
// failure, recording the error and bumping the attempt count. There is
// deliberately no attempt ceiling: a valid sample is retried until it
// syncs or the eviction policy retires it.
func (s *Service) ReleaseForRetry(ctx context.Context, localID int64, errText string) error {
	ok, err := s.db.ReleaseSampleForRetry(ctx, localID, errText, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug().Int64("id", localID).Msg("release ignored, sample not syncing")
		return nil
	}
	metrics.SyncOutcomes.WithLabelValues("retried").Inc()
	s.log.Warn().Int64("id", localID).Str("error", errText).Msg("sample released for retry")
	return nil
}

// Reject permanently excludes a sample after an authoritative server
// rejection, in any status, and deletes the linked timeline row: the
// server's admission rule is authoritative, so a rejected point should
// not exist in local history either.
func (s *Service) Reject(ctx context.Context, localID int64, reason string) error {
	if err := s.db.RejectSample(ctx, localID, reason); err != nil {
		return err
	}
	if _, err := s.db.DeleteEntryByQueueID(ctx, localID); err != nil {
		return err
	}

	metrics.SyncOutcomes.WithLabelValues("rejected").Inc()
	s.publishSample(events.TopicSampleRejected, events.SampleEvent{
		LocalID: localID,
		Reason:  reason,
	})
	s.log.Warn().Int64("id", localID).Str("reason", reason).Msg("sample rejected")
	return nil
}

// RunEviction applies the retention policy once: completed records
// (Synced or rejected) go first, oldest first, until the queue fits the
// configured capacity; then Pending records older than the retention
// window are retired. Records in Syncing are never touched.
func (s *Service) RunEviction(ctx context.Context) (int, error) {
	removed, err := s.db.EvictQueue(ctx, s.cfg.Capacity, s.cfg.Retention, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.QueueEvictions.WithLabelValues("completed").Add(float64(removed))
		s.log.Info().Int("removed", removed).Msg("eviction pass complete")
	}
	return removed, nil
}

// Status returns a read-only snapshot of the queue for diagnostic
// display. Pure projection, no side effects.
func (s *Service) Status(ctx context.Context) (*models.QueueStatus, error) {
	st, err := s.db.QueueStatus(ctx, s.cfg.Capacity)
	if err != nil {
		return nil, err
	}
	metrics.UpdateQueueDepth(st.Pending, st.Syncing, st.Synced, st.Rejected)
	return st, nil
}

// SeedGates primes both admission gates from the most recent timeline
// entry so a process restart does not admit one free sample per gate.
func (s *Service) SeedGates(ctx context.Context, last *models.TimelineEntry) {
	if last == nil {
		return
	}
	cand := filter.Candidate{Position: last.Position, CapturedAt: last.CapturedAt}
	s.uploadGate.MarkAdmitted(cand)
	s.timelineGate.MarkAdmitted(cand)
}

func (s *Service) publishSample(topic string, ev events.SampleEvent) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(topic, ev); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("publish event")
	}
}
