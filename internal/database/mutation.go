// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/waylog/waylog/internal/models"
)

const mutationColumns = `id, kind, target_server_id,
	new_latitude, new_longitude, new_captured_at, new_notes, notes_included,
	orig_latitude, orig_longitude, orig_captured_at, orig_notes,
	deleted_snapshot, attempts, rejected, reject_reason, created_at`

// InsertMutation inserts a pending mutation and fills in its local ID.
func (db *DB) InsertMutation(ctx context.Context, m *models.PendingMutation) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
		m.CreatedAt = createdAt
	}

	res, err := db.conn.ExecContext(ctx, `INSERT INTO pending_mutations (
		kind, target_server_id,
		new_latitude, new_longitude, new_captured_at, new_notes, notes_included,
		orig_latitude, orig_longitude, orig_captured_at, orig_notes,
		deleted_snapshot, attempts, rejected, reject_reason, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, ?)`,
		m.Kind, m.TargetServerID,
		m.NewLatitude, m.NewLongitude, fmtTimePtr(m.NewCapturedAt), m.NewNotes, m.NotesIncluded,
		m.OrigLatitude, m.OrigLongitude, fmtTimePtr(m.OrigCapturedAt), m.OrigNotes,
		[]byte(m.DeletedSnapshot), fmtTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("mutation insert id: %w", err)
	}
	m.ID = id
	return nil
}

// GetMutation loads one pending mutation by local ID.
func (db *DB) GetMutation(ctx context.Context, id int64) (*models.PendingMutation, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mutationColumns+` FROM pending_mutations WHERE id = ?`, id)
	return scanMutation(row)
}

// SyncableMutations returns mutations still eligible for submission,
// oldest first.
func (db *DB) SyncableMutations(ctx context.Context, limit int) ([]*models.PendingMutation, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+mutationColumns+`
		FROM pending_mutations
		WHERE rejected = 0 AND attempts < ?
		ORDER BY created_at ASC LIMIT ?`,
		models.MutationMaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("syncable mutations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ms []*models.PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

// IncrementMutationAttempts bumps the attempt count after a transient
// failure.
func (db *DB) IncrementMutationAttempts(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pending_mutations SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("increment mutation attempts %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMutationRejected sets the sticky rejected flag. The record is kept
// for audit; it just never syncs again.
func (db *DB) MarkMutationRejected(ctx context.Context, id int64, reason string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE pending_mutations SET rejected = 1, reject_reason = ? WHERE id = ?`,
		reason, id)
	if err != nil {
		return fmt.Errorf("reject mutation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMutation removes a mutation record (confirmed success, or consumed
// by rollback).
func (db *DB) DeleteMutation(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mutation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMutations returns (total, rejected) counts for diagnostics.
func (db *DB) CountMutations(ctx context.Context) (total, rejected int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(rejected), 0) FROM pending_mutations`).
		Scan(&total, &rejected)
	if err != nil {
		return 0, 0, fmt.Errorf("count mutations: %w", err)
	}
	return total, rejected, nil
}

func scanMutation(sc scanner) (*models.PendingMutation, error) {
	var (
		m                         models.PendingMutation
		newLat, newLon            sql.NullFloat64
		newCapturedAt, newNotes   sql.NullString
		origLat, origLon          sql.NullFloat64
		origCapturedAt, origNotes sql.NullString
		snapshot                  []byte
		rejectReason, createdAt   sql.NullString
	)

	err := sc.Scan(
		&m.ID, &m.Kind, &m.TargetServerID,
		&newLat, &newLon, &newCapturedAt, &newNotes, &m.NotesIncluded,
		&origLat, &origLon, &origCapturedAt, &origNotes,
		&snapshot, &m.Attempts, &m.Rejected, &rejectReason, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mutation: %w", err)
	}

	m.NewLatitude = floatPtr(newLat)
	m.NewLongitude = floatPtr(newLon)
	m.NewNotes = strPtr(newNotes)
	m.OrigLatitude = floatPtr(origLat)
	m.OrigLongitude = floatPtr(origLon)
	m.OrigNotes = strPtr(origNotes)
	m.RejectReason = strPtr(rejectReason)
	if len(snapshot) > 0 {
		m.DeletedSnapshot = snapshot
	}
	if m.NewCapturedAt, err = scanTimePtr(newCapturedAt); err != nil {
		return nil, err
	}
	if m.OrigCapturedAt, err = scanTimePtr(origCapturedAt); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		if m.CreatedAt, err = parseTime(createdAt.String); err != nil {
			return nil, err
		}
	}
	return &m, nil
}
