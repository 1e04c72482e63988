// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package timeline maintains the user-visible location history and its
// reconciliation with the server: projecting sync outcomes onto linked
// rows, merging enriched server data without clobbering offline edits,
// user edits, and export/import in CSV and GeoJSON form.
package timeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/waylog/waylog/internal/database"
	"github.com/waylog/waylog/internal/metrics"
	"github.com/waylog/waylog/internal/models"
)

// Service owns the timeline store.
type Service struct {
	db  *database.DB
	log zerolog.Logger
}

// NewService wires the timeline store over its database.
func NewService(db *database.DB, log zerolog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.With().Str("component", "timeline").Logger(),
	}
}

// SyncOutcome is the result of a sample sync attempt, as far as the
// timeline cares: either a server identity to adopt, or a rejection.
type SyncOutcome struct {
	ServerID int64
	Rejected bool
}

// ProjectSyncOutcome applies a sync outcome to the row linked to the
// given queue id. On success the row adopts the server identity; on
// rejection the row is deleted outright, because the server's admission
// rule is authoritative and a rejected point should not exist in local
// history either. Lookup is by the queue back-reference, never by time
// or geometry matching. Missing rows are tolerated: the linked row may
// already have been removed.
func (s *Service) ProjectSyncOutcome(ctx context.Context, queueID int64, outcome SyncOutcome) error {
	if outcome.Rejected {
		removed, err := s.db.DeleteEntryByQueueID(ctx, queueID)
		if err != nil {
			return err
		}
		if removed {
			s.log.Debug().Int64("queue_id", queueID).Msg("timeline row dropped after rejection")
		}
		return nil
	}

	ok, err := s.db.SetEntryServerID(ctx, queueID, outcome.ServerID)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug().Int64("queue_id", queueID).Msg("no timeline row to project onto")
	}
	return nil
}

// MergeStats summarizes one MergeFromServer run.
type MergeStats struct {
	Enriched int
	Inserted int
}

// MergeFromServer reconciles a batch of enriched server rows into the
// local store. Rows whose server identity is already known locally get
// their enrichment fields overwritten unconditionally, except notes:
// non-empty local notes always win, so a user's offline edit is never
// silently clobbered by a later merge. Unknown server identities become
// new rows with no queue back-reference (entries created on another
// device or edited directly on the server). The merge is idempotent.
func (s *Service) MergeFromServer(ctx context.Context, rows []*models.ServerRow) (MergeStats, error) {
	var stats MergeStats
	now := time.Now().UTC()

	for _, row := range rows {
		existing, err := s.db.GetEntryByServerID(ctx, row.ServerID)
		switch {
		case errors.Is(err, database.ErrNotFound):
			entry := entryFromServerRow(row, now)
			if _, err := s.db.InsertEntry(ctx, entry); err != nil {
				return stats, err
			}
			stats.Inserted++
			metrics.TimelineMerges.WithLabelValues("inserted").Inc()

		case err != nil:
			return stats, err

		default:
			overwriteNotes := !existing.HasNotes()
			if _, err := s.db.ApplyEnrichment(ctx, row.ServerID, row, overwriteNotes, now); err != nil {
				return stats, err
			}
			stats.Enriched++
			metrics.TimelineMerges.WithLabelValues("enriched").Inc()
		}
	}

	s.log.Debug().
		Int("enriched", stats.Enriched).
		Int("inserted", stats.Inserted).
		Msg("server merge complete")
	return stats, nil
}

// Get loads one entry by local id.
func (s *Service) Get(ctx context.Context, id int64) (*models.TimelineEntry, error) {
	return s.db.GetEntry(ctx, id)
}

// GetByServerID loads one entry by server identity.
func (s *Service) GetByServerID(ctx context.Context, serverID int64) (*models.TimelineEntry, error) {
	return s.db.GetEntryByServerID(ctx, serverID)
}

// ListByDate returns the entries captured on one calendar day, in the
// given location's reckoning of that day, oldest first.
func (s *Service) ListByDate(ctx context.Context, day time.Time, loc *time.Location) ([]*models.TimelineEntry, error) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return s.db.ListEntries(ctx, start, start.AddDate(0, 0, 1))
}

// UpdateFields applies a partial edit to one entry. This is the
// optimistic local half of an edit; the durable mutation record that can
// undo it is the mutation queue's concern.
func (s *Service) UpdateFields(ctx context.Context, id int64, upd database.EntryFieldUpdate) error {
	return s.db.UpdateEntryFields(ctx, id, upd)
}

// Delete removes one entry by local id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.db.DeleteEntry(ctx, id)
}

// Insert adds an entry directly, bypassing capture and merge. Used by
// import and by mutation rollback.
func (s *Service) Insert(ctx context.Context, e *models.TimelineEntry) error {
	_, err := s.db.InsertEntry(ctx, e)
	return err
}

// Count returns the number of stored entries.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.db.CountEntries(ctx)
}

// Latest returns the most recently captured entry, or nil when the
// store is empty. Used to seed the admission gates after a restart.
func (s *Service) Latest(ctx context.Context) (*models.TimelineEntry, error) {
	entries, err := s.db.AllEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[len(entries)-1], nil
}

func entryFromServerRow(row *models.ServerRow, enrichedAt time.Time) *models.TimelineEntry {
	serverID := row.ServerID
	return &models.TimelineEntry{
		ServerID:      &serverID,
		Position:      row.Position,
		CapturedAt:    row.CapturedAt,
		ShortAddress:  row.ShortAddress,
		FullAddress:   row.FullAddress,
		Place:         row.Place,
		Region:        row.Region,
		Country:       row.Country,
		PostalCode:    row.PostalCode,
		ActivityLabel: row.ActivityLabel,
		Notes:         row.Notes,
		TimezoneID:    row.TimezoneID,
		EnrichedAt:    &enrichedAt,
	}
}
