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

const entryColumns = `id, server_id, latitude, longitude, altitude, speed, bearing, accuracy,
	captured_at, short_address, full_address, place, region, country, postal_code,
	activity_label, notes, timezone_id, app_version, battery_level,
	created_at, enriched_at, queue_id`

// InsertEntry inserts a timeline entry and returns its local ID.
func (db *DB) InsertEntry(ctx context.Context, e *models.TimelineEntry) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertEntryTx(ctx, tx, e)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit entry insert: %w", err)
	}
	e.ID = id
	return id, nil
}

func insertEntryTx(ctx context.Context, tx *sql.Tx, e *models.TimelineEntry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
		e.CreatedAt = createdAt
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO timeline_entries (
		server_id, latitude, longitude, altitude, speed, bearing, accuracy,
		captured_at, short_address, full_address, place, region, country, postal_code,
		activity_label, notes, timezone_id, app_version, battery_level,
		created_at, enriched_at, queue_id
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ServerID, e.Position.Latitude, e.Position.Longitude,
		e.Position.Altitude, e.Position.Speed, e.Position.Bearing, e.Position.Accuracy,
		fmtTime(e.CapturedAt), e.ShortAddress, e.FullAddress, e.Place, e.Region,
		e.Country, e.PostalCode, e.ActivityLabel, e.Notes, e.TimezoneID,
		e.AppVersion, e.BatteryLevel,
		fmtTime(createdAt), fmtTimePtr(e.EnrichedAt), e.QueueID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert timeline entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("timeline insert id: %w", err)
	}
	return id, nil
}

// GetEntry loads one timeline entry by local ID.
func (db *DB) GetEntry(ctx context.Context, id int64) (*models.TimelineEntry, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM timeline_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// GetEntryByQueueID loads the timeline entry linked to a queued sample.
func (db *DB) GetEntryByQueueID(ctx context.Context, queueID int64) (*models.TimelineEntry, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM timeline_entries WHERE queue_id = ?`, queueID)
	return scanEntry(row)
}

// GetEntryByServerID loads the timeline entry with the given server identity.
func (db *DB) GetEntryByServerID(ctx context.Context, serverID int64) (*models.TimelineEntry, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM timeline_entries WHERE server_id = ?`, serverID)
	return scanEntry(row)
}

// SetEntryServerID projects a confirmed sync outcome onto the linked entry.
func (db *DB) SetEntryServerID(ctx context.Context, queueID, serverID int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE timeline_entries SET server_id = ? WHERE queue_id = ?`, serverID, queueID)
	if err != nil {
		return false, fmt.Errorf("set entry server id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteEntryByQueueID removes the entry linked to a rejected sample.
func (db *DB) DeleteEntryByQueueID(ctx context.Context, queueID int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM timeline_entries WHERE queue_id = ?`, queueID)
	if err != nil {
		return false, fmt.Errorf("delete entry by queue id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteEntry removes a timeline entry by local ID.
func (db *DB) DeleteEntry(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM timeline_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
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

// ApplyEnrichment overwrites an entry's enrichment fields from a server row.
// Notes are only overwritten when overwriteNotes is set; the caller decides
// based on whether the local row carries user notes.
func (db *DB) ApplyEnrichment(ctx context.Context, serverID int64, row *models.ServerRow, overwriteNotes bool, enrichedAt time.Time) (bool, error) {
	query := `UPDATE timeline_entries SET
		short_address = ?, full_address = ?, place = ?, region = ?, country = ?,
		postal_code = ?, activity_label = ?, timezone_id = ?, enriched_at = ?`
	args := []interface{}{
		row.ShortAddress, row.FullAddress, row.Place, row.Region, row.Country,
		row.PostalCode, row.ActivityLabel, row.TimezoneID, fmtTime(enrichedAt),
	}
	if overwriteNotes {
		query += `, notes = ?`
		args = append(args, row.Notes)
	}
	query += ` WHERE server_id = ?`
	args = append(args, serverID)

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("apply enrichment for server id %d: %w", serverID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EntryFieldUpdate is a partial update of the user-editable entry fields.
// Nil pointers leave the field untouched; NotesIncluded distinguishes
// "leave notes alone" from "set notes", matching PendingMutation.
type EntryFieldUpdate struct {
	Latitude      *float64
	Longitude     *float64
	CapturedAt    *time.Time
	Notes         *string
	NotesIncluded bool
}

// UpdateEntryFields applies a partial update to one entry.
func (db *DB) UpdateEntryFields(ctx context.Context, id int64, upd EntryFieldUpdate) error {
	set := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	if upd.Latitude != nil {
		set = append(set, "latitude = ?")
		args = append(args, *upd.Latitude)
	}
	if upd.Longitude != nil {
		set = append(set, "longitude = ?")
		args = append(args, *upd.Longitude)
	}
	if upd.CapturedAt != nil {
		set = append(set, "captured_at = ?")
		args = append(args, fmtTime(*upd.CapturedAt))
	}
	if upd.NotesIncluded {
		set = append(set, "notes = ?")
		args = append(args, upd.Notes)
	}
	if len(set) == 0 {
		return nil
	}

	query := "UPDATE timeline_entries SET "
	for i, s := range set {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	query += " WHERE id = ?"
	args = append(args, id)

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", id, err)
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

// ListEntries returns entries captured in [from, to), oldest first.
func (db *DB) ListEntries(ctx context.Context, from, to time.Time) ([]*models.TimelineEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+entryColumns+`
		FROM timeline_entries
		WHERE captured_at >= ? AND captured_at < ?
		ORDER BY captured_at ASC`,
		fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectEntries(rows)
}

// AllEntries returns every timeline entry, oldest first. Used by export.
func (db *DB) AllEntries(ctx context.Context) ([]*models.TimelineEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM timeline_entries ORDER BY captured_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("all entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectEntries(rows)
}

// FindEntryNear returns the entry whose capture timestamp is closest to t
// within the tolerance, or ErrNotFound. Import uses it for its
// update-vs-insert decision.
func (db *DB) FindEntryNear(ctx context.Context, t time.Time, tolerance time.Duration) (*models.TimelineEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+entryColumns+`
		FROM timeline_entries
		WHERE captured_at >= ? AND captured_at <= ?
		ORDER BY captured_at ASC`,
		fmtTime(t.Add(-tolerance)), fmtTime(t.Add(tolerance)))
	if err != nil {
		return nil, fmt.Errorf("find entry near: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}

	best := entries[0]
	bestDiff := absDuration(best.CapturedAt.Sub(t))
	for _, e := range entries[1:] {
		if d := absDuration(e.CapturedAt.Sub(t)); d < bestDiff {
			best, bestDiff = e, d
		}
	}
	return best, nil
}

// CountEntries returns the number of timeline rows.
func (db *DB) CountEntries(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timeline_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func collectEntries(rows *sql.Rows) ([]*models.TimelineEntry, error) {
	var entries []*models.TimelineEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(sc scanner) (*models.TimelineEntry, error) {
	var (
		e                             models.TimelineEntry
		serverID, queueID             sql.NullInt64
		altitude, speed, bearing, acc sql.NullFloat64
		capturedAt, createdAt         string
		shortAddr, fullAddr, place    sql.NullString
		region, country, postalCode   sql.NullString
		activityLabel, notes, tzID    sql.NullString
		appVersion                    sql.NullString
		batteryLevel                  sql.NullFloat64
		enrichedAt                    sql.NullString
	)

	err := sc.Scan(
		&e.ID, &serverID, &e.Position.Latitude, &e.Position.Longitude,
		&altitude, &speed, &bearing, &acc,
		&capturedAt, &shortAddr, &fullAddr, &place, &region, &country, &postalCode,
		&activityLabel, &notes, &tzID, &appVersion, &batteryLevel,
		&createdAt, &enrichedAt, &queueID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan timeline entry: %w", err)
	}

	e.ServerID = intPtr(serverID)
	e.QueueID = intPtr(queueID)
	e.Position.Altitude = floatPtr(altitude)
	e.Position.Speed = floatPtr(speed)
	e.Position.Bearing = floatPtr(bearing)
	e.Position.Accuracy = floatPtr(acc)
	e.ShortAddress = strPtr(shortAddr)
	e.FullAddress = strPtr(fullAddr)
	e.Place = strPtr(place)
	e.Region = strPtr(region)
	e.Country = strPtr(country)
	e.PostalCode = strPtr(postalCode)
	e.ActivityLabel = strPtr(activityLabel)
	e.Notes = strPtr(notes)
	e.TimezoneID = strPtr(tzID)
	e.AppVersion = strPtr(appVersion)
	e.BatteryLevel = floatPtr(batteryLevel)

	if e.CapturedAt, err = parseTime(capturedAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.EnrichedAt, err = scanTimePtr(enrichedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
