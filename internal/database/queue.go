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

const sampleColumns = `id, latitude, longitude, altitude, speed, bearing, accuracy,
	captured_at, status, attempts, last_attempt_at, last_error,
	idempotency_token, server_confirmed, server_id, rejected, reject_reason,
	user_invoked, activity_id, note`

// InsertSampleWithTimeline inserts a queued sample and its linked timeline
// entry in one transaction. The sample and entry IDs are filled in on
// success, and the entry's QueueID is pointed at the new sample.
func (db *DB) InsertSampleWithTimeline(ctx context.Context, s *models.QueuedSample, e *models.TimelineEntry) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertSampleTx(ctx, tx, s); err != nil {
		return err
	}

	if e != nil {
		e.QueueID = &s.ID
		id, err := insertEntryTx(ctx, tx, e)
		if err != nil {
			return err
		}
		e.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// InsertSample inserts a queued sample without a timeline row.
func (db *DB) InsertSample(ctx context.Context, s *models.QueuedSample) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertSampleTx(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func insertSampleTx(ctx context.Context, tx *sql.Tx, s *models.QueuedSample) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO location_queue (
		latitude, longitude, altitude, speed, bearing, accuracy,
		captured_at, status, attempts, last_attempt_at, last_error,
		idempotency_token, server_confirmed, server_id, rejected, reject_reason,
		user_invoked, activity_id, note
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, ?, 0, NULL, 0, NULL, ?, ?, ?)`,
		s.Position.Latitude, s.Position.Longitude,
		s.Position.Altitude, s.Position.Speed, s.Position.Bearing, s.Position.Accuracy,
		fmtTime(s.CapturedAt), models.StatusPending,
		s.IdempotencyToken, s.UserInvoked, s.ActivityID, s.Note,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sample insert id: %w", err)
	}
	s.ID = id
	s.Status = models.StatusPending
	s.Attempts = 0
	s.Rejected = false
	return nil
}

// GetSample loads one queued sample by local ID.
func (db *DB) GetSample(ctx context.Context, id int64) (*models.QueuedSample, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+sampleColumns+` FROM location_queue WHERE id = ?`, id)
	return scanSample(row)
}

// ClaimCandidateIDs returns the IDs of Pending, non-rejected samples in one
// tier (user-invoked or passive), oldest capture first.
func (db *DB) ClaimCandidateIDs(ctx context.Context, userInvoked bool, limit int) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM location_queue
		WHERE status = ? AND rejected = 0 AND user_invoked = ?
		ORDER BY captured_at ASC LIMIT ?`,
		models.StatusPending, userInvoked, limit)
	if err != nil {
		return nil, fmt.Errorf("query claim candidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TryClaim performs the conditional Pending -> Syncing transition. It
// reports false when another caller won the race (zero rows affected).
func (db *DB) TryClaim(ctx context.Context, id int64, attemptAt time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE location_queue
		SET status = ?, last_attempt_at = ?
		WHERE id = ? AND status = ? AND rejected = 0`,
		models.StatusSyncing, fmtTime(attemptAt), id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim sample %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return n == 1, nil
}

// ConfirmSampleSynced performs the Syncing -> Synced transition. It is a
// silent no-op when the sample is not currently Syncing, which makes
// duplicate confirmations harmless.
func (db *DB) ConfirmSampleSynced(ctx context.Context, id, serverID int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE location_queue
		SET status = ?, server_confirmed = 1, server_id = ?
		WHERE id = ? AND status = ?`,
		models.StatusSynced, serverID, id, models.StatusSyncing)
	if err != nil {
		return false, fmt.Errorf("confirm sample %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseSampleForRetry performs Syncing -> Pending after a transient
// failure, incrementing the attempt count and recording the error.
func (db *DB) ReleaseSampleForRetry(ctx context.Context, id int64, errText string, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE location_queue
		SET status = ?, attempts = attempts + 1, last_error = ?, last_attempt_at = ?
		WHERE id = ? AND status = ?`,
		models.StatusPending, errText, fmtTime(at), id, models.StatusSyncing)
	if err != nil {
		return false, fmt.Errorf("release sample %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RejectSample sets the sticky rejected flag regardless of current status.
func (db *DB) RejectSample(ctx context.Context, id int64, reason string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE location_queue
		SET rejected = 1, reject_reason = ?
		WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("reject sample %d: %w", id, err)
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

// QueueStatus builds the read-only diagnostic snapshot.
func (db *DB) QueueStatus(ctx context.Context, capacity int) (*models.QueueStatus, error) {
	st := &models.QueueStatus{Capacity: capacity}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, rejected, COUNT(*) FROM location_queue GROUP BY status, rejected`)
	if err != nil {
		return nil, fmt.Errorf("queue status counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status models.SyncStatus
		var rejected bool
		var count int
		if err := rows.Scan(&status, &rejected, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		st.Total += count
		if rejected {
			st.Rejected += count
			continue
		}
		switch status {
		case models.StatusPending:
			st.Pending += count
		case models.StatusSyncing:
			st.Syncing += count
		case models.StatusSynced:
			st.Synced += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest, newest sql.NullString
	err = db.conn.QueryRowContext(ctx, `SELECT MIN(captured_at), MAX(captured_at)
		FROM location_queue WHERE status = ? AND rejected = 0`,
		models.StatusPending).Scan(&oldest, &newest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending range: %w", err)
	}
	if st.OldestPendingAt, err = scanTimePtr(oldest); err != nil {
		return nil, err
	}
	if st.NewestPendingAt, err = scanTimePtr(newest); err != nil {
		return nil, err
	}

	var lastSynced sql.NullString
	err = db.conn.QueryRowContext(ctx, `SELECT MAX(last_attempt_at)
		FROM location_queue WHERE status = ?`, models.StatusSynced).Scan(&lastSynced)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("last synced: %w", err)
	}
	if st.LastSyncedAt, err = scanTimePtr(lastSynced); err != nil {
		return nil, err
	}

	if capacity > 0 {
		st.Usage = float64(st.Total) / float64(capacity)
	}
	return st, nil
}

// EvictQueue trims the queue down to capacity. Syncing records are never
// touched. Synced and rejected records go first, oldest capture first; only
// then are Pending records older than the retention window removed. Pending
// records inside the window are never evicted, whatever the excess.
func (db *DB) EvictQueue(ctx context.Context, capacity int, retention time.Duration, now time.Time) (int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM location_queue`).Scan(&total); err != nil {
		return 0, fmt.Errorf("eviction count: %w", err)
	}
	excess := total - capacity
	if excess <= 0 {
		return 0, nil
	}

	removed, err := db.evictWhere(ctx, excess,
		`(status = ? OR rejected = 1) AND status != ?`,
		models.StatusSynced, models.StatusSyncing)
	if err != nil {
		return removed, err
	}
	excess -= removed

	if excess > 0 {
		cutoff := fmtTime(now.Add(-retention))
		n, err := db.evictWhere(ctx, excess,
			`status = ? AND rejected = 0 AND captured_at < ?`,
			models.StatusPending, cutoff)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// evictWhere deletes up to limit matching rows, oldest capture first.
func (db *DB) evictWhere(ctx context.Context, limit int, where string, args ...interface{}) (int, error) {
	query := fmt.Sprintf(`DELETE FROM location_queue WHERE id IN (
		SELECT id FROM location_queue WHERE %s ORDER BY captured_at ASC LIMIT ?)`, where)
	args = append(args, limit)

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("evict rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(sc scanner) (*models.QueuedSample, error) {
	var (
		s                             models.QueuedSample
		altitude, speed, bearing, acc sql.NullFloat64
		capturedAt                    string
		lastAttemptAt, lastError      sql.NullString
		serverID, activityID          sql.NullInt64
		rejectReason, note            sql.NullString
	)

	err := sc.Scan(
		&s.ID, &s.Position.Latitude, &s.Position.Longitude,
		&altitude, &speed, &bearing, &acc,
		&capturedAt, &s.Status, &s.Attempts, &lastAttemptAt, &lastError,
		&s.IdempotencyToken, &s.ServerConfirmed, &serverID, &s.Rejected, &rejectReason,
		&s.UserInvoked, &activityID, &note,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan sample: %w", err)
	}

	s.Position.Altitude = floatPtr(altitude)
	s.Position.Speed = floatPtr(speed)
	s.Position.Bearing = floatPtr(bearing)
	s.Position.Accuracy = floatPtr(acc)
	if s.CapturedAt, err = parseTime(capturedAt); err != nil {
		return nil, err
	}
	if s.LastAttemptAt, err = scanTimePtr(lastAttemptAt); err != nil {
		return nil, err
	}
	s.LastError = strPtr(lastError)
	s.ServerID = intPtr(serverID)
	s.RejectReason = strPtr(rejectReason)
	s.ActivityID = intPtr(activityID)
	s.Note = strPtr(note)
	return &s, nil
}
