// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package mutation queues user edits and deletes against already-synced
// timeline entries. Each mutation captures its "before" state durably at
// enqueue time, before the optimistic local change is applied, so a
// terminal rejection can roll the local store back even after a process
// restart. Unlike the location queue, mutations carry an attempt ceiling.
package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/waylog/waylog/internal/database"
	"github.com/waylog/waylog/internal/events"
	"github.com/waylog/waylog/internal/metrics"
	"github.com/waylog/waylog/internal/models"
)

// Service owns the pending-mutation queue.
type Service struct {
	db  *database.DB
	hub *events.Hub
	log zerolog.Logger
}

// NewService wires the mutation queue over its database and event hub.
func NewService(db *database.DB, hub *events.Hub, log zerolog.Logger) *Service {
	return &Service{
		db:  db,
		hub: hub,
		log: log.With().Str("component", "mutation").Logger(),
	}
}

// Update describes the fields an edit wants to change. Nil leaves a
// field alone; NotesIncluded distinguishes "leave notes alone" from
// "set notes to this value, possibly empty".
type Update struct {
	Latitude      *float64
	Longitude     *float64
	CapturedAt    *time.Time
	Notes         *string
	NotesIncluded bool
}

// EnqueueUpdate records an edit against the entry with the given server
// identity and applies it optimistically to the local row. The entry's
// current values for every touched field are captured into the durable
// mutation record first, so the edit can be undone later.
func (s *Service) EnqueueUpdate(ctx context.Context, serverID int64, upd Update) (*models.PendingMutation, error) {
	entry, err := s.db.GetEntryByServerID(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("load target entry: %w", err)
	}

	m := &models.PendingMutation{
		Kind:           models.MutationUpdate,
		TargetServerID: serverID,
		NewLatitude:    upd.Latitude,
		NewLongitude:   upd.Longitude,
		NewCapturedAt:  upd.CapturedAt,
		NewNotes:       upd.Notes,
		NotesIncluded:  upd.NotesIncluded,
	}
	if upd.Latitude != nil {
		m.OrigLatitude = &entry.Position.Latitude
	}
	if upd.Longitude != nil {
		m.OrigLongitude = &entry.Position.Longitude
	}
	if upd.CapturedAt != nil {
		capturedAt := entry.CapturedAt
		m.OrigCapturedAt = &capturedAt
	}
	if upd.NotesIncluded {
		m.OrigNotes = entry.Notes
	}

	if err := s.db.InsertMutation(ctx, m); err != nil {
		return nil, err
	}

	// The durable record exists; now the optimistic local change.
	fieldUpd := database.EntryFieldUpdate{
		Latitude:      upd.Latitude,
		Longitude:     upd.Longitude,
		CapturedAt:    upd.CapturedAt,
		Notes:         upd.Notes,
		NotesIncluded: upd.NotesIncluded,
	}
	if err := s.db.UpdateEntryFields(ctx, entry.ID, fieldUpd); err != nil {
		return nil, fmt.Errorf("apply optimistic update: %w", err)
	}

	s.log.Debug().Int64("id", m.ID).Int64("server_id", serverID).Msg("update queued")
	return m, nil
}

// EnqueueDelete records a delete against the entry with the given server
// identity and removes the local row optimistically. The full entry is
// serialized into the mutation record so a rejection can re-insert it.
func (s *Service) EnqueueDelete(ctx context.Context, serverID int64) (*models.PendingMutation, error) {
	entry, err := s.db.GetEntryByServerID(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("load target entry: %w", err)
	}

	snapshot, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("snapshot entry: %w", err)
	}

	m := &models.PendingMutation{
		Kind:            models.MutationDelete,
		TargetServerID:  serverID,
		DeletedSnapshot: snapshot,
	}
	if err := s.db.InsertMutation(ctx, m); err != nil {
		return nil, err
	}

	if err := s.db.DeleteEntry(ctx, entry.ID); err != nil {
		return nil, fmt.Errorf("apply optimistic delete: %w", err)
	}

	s.log.Debug().Int64("id", m.ID).Int64("server_id", serverID).Msg("delete queued")
	return m, nil
}

// Next returns the oldest syncable mutation, or nil when none are
// eligible. Mutations that hit the attempt ceiling or are rejected never
// come back.
func (s *Service) Next(ctx context.Context) (*models.PendingMutation, error) {
	mutations, err := s.db.SyncableMutations(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(mutations) == 0 {
		return nil, nil
	}
	return mutations[0], nil
}

// Confirm discards a mutation after the server accepted it. The
// optimistic local change is already the true state.
func (s *Service) Confirm(ctx context.Context, id int64) error {
	m, err := s.db.GetMutation(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.DeleteMutation(ctx, id); err != nil {
		return err
	}

	metrics.MutationOutcomes.WithLabelValues(m.Kind.String(), "confirmed").Inc()
	s.publish(events.TopicMutationConfirmed, events.MutationEvent{
		LocalID:        m.ID,
		TargetServerID: m.TargetServerID,
		Kind:           m.Kind.String(),
	})
	s.log.Info().Int64("id", id).Msg("mutation confirmed")
	return nil
}

// Release bumps the attempt count after a transient failure. Once the
// ceiling is reached the mutation stops syncing; resolving it is then
// MarkRejected's job.
func (s *Service) Release(ctx context.Context, id int64, errText string) error {
	if err := s.db.IncrementMutationAttempts(ctx, id); err != nil {
		return err
	}
	m, err := s.db.GetMutation(ctx, id)
	if err != nil {
		return err
	}

	metrics.MutationOutcomes.WithLabelValues(m.Kind.String(), "retried").Inc()
	s.log.Warn().
		Int64("id", id).
		Int("attempts", m.Attempts).
		Str("error", errText).
		Msg("mutation released for retry")
	return nil
}

// MarkRejected is terminal and sticky: the mutation is excluded from all
// future sync work and its reason is kept for diagnostic display.
func (s *Service) MarkRejected(ctx context.Context, id int64, reason string) error {
	if err := s.db.MarkMutationRejected(ctx, id, reason); err != nil {
		return err
	}
	s.log.Warn().Int64("id", id).Str("reason", reason).Msg("mutation rejected")
	return nil
}

// Rollback undoes the optimistic local change from the durable record
// alone and discards the mutation. For updates every captured original
// field is restored onto the target entry; for deletes the serialized
// snapshot is re-inserted. The in-memory state that existed at enqueue
// time plays no part, so rollback works across a process restart.
func (s *Service) Rollback(ctx context.Context, id int64) error {
	m, err := s.db.GetMutation(ctx, id)
	if err != nil {
		return err
	}
	if !m.HasRollbackData() {
		return database.ErrNoRollbackData
	}

	switch m.Kind {
	case models.MutationUpdate:
		if err := s.rollbackUpdate(ctx, m); err != nil {
			return err
		}
	case models.MutationDelete:
		if err := s.rollbackDelete(ctx, m); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}

	if err := s.db.DeleteMutation(ctx, id); err != nil {
		return err
	}

	metrics.MutationOutcomes.WithLabelValues(m.Kind.String(), "rolled_back").Inc()
	s.publish(events.TopicMutationRolledBack, events.MutationEvent{
		LocalID:        m.ID,
		TargetServerID: m.TargetServerID,
		Kind:           m.Kind.String(),
		Reason:         strField(m.RejectReason),
	})
	s.log.Info().Int64("id", id).Str("kind", m.Kind.String()).Msg("mutation rolled back")
	return nil
}

// Count returns total and rejected mutation counts for the status view.
func (s *Service) Count(ctx context.Context) (total, rejected int, err error) {
	return s.db.CountMutations(ctx)
}

func (s *Service) rollbackUpdate(ctx context.Context, m *models.PendingMutation) error {
	entry, err := s.db.GetEntryByServerID(ctx, m.TargetServerID)
	if err != nil {
		return fmt.Errorf("load entry for rollback: %w", err)
	}

	upd := database.EntryFieldUpdate{
		Latitude:      m.OrigLatitude,
		Longitude:     m.OrigLongitude,
		CapturedAt:    m.OrigCapturedAt,
		Notes:         m.OrigNotes,
		NotesIncluded: m.NotesIncluded,
	}
	return s.db.UpdateEntryFields(ctx, entry.ID, upd)
}

func (s *Service) rollbackDelete(ctx context.Context, m *models.PendingMutation) error {
	var entry models.TimelineEntry
	if err := json.Unmarshal(m.DeletedSnapshot, &entry); err != nil {
		return fmt.Errorf("decode deleted snapshot: %w", err)
	}
	// Fresh row. The originating queue record may have been evicted since
	// the snapshot was taken, so the stale back-reference must not come
	// along: re-inserting it would trip the foreign key.
	entry.ID = 0
	entry.QueueID = nil
	_, err := s.db.InsertEntry(ctx, &entry)
	return err
}

func (s *Service) publish(topic string, ev events.MutationEvent) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(topic, ev); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Msg("publish event")
	}
}

func strField(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
