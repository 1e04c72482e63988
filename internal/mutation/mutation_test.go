// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package mutation

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/database"
	"github.com/waylog/waylog/internal/events"
	"github.com/waylog/waylog/internal/logging"
	"github.com/waylog/waylog/internal/models"
)

func newTestService(t *testing.T) (*Service, *database.DB) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newServiceOver(t, db), db
}

func newServiceOver(t *testing.T, db *database.DB) *Service {
	t.Helper()
	log := logging.NewTestLogger(io.Discard)
	hub := events.NewHub(log)
	t.Cleanup(func() { _ = hub.Close() })
	return NewService(db, hub, log)
}

func seedSyncedEntry(t *testing.T, db *database.DB, serverID int64) *models.TimelineEntry {
	t.Helper()
	notes := "lunch at the market"
	e := &models.TimelineEntry{
		ServerID:   &serverID,
		Position:   models.Position{Latitude: 52.5200, Longitude: 13.4050},
		CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Notes:      &notes,
		Place:      strPtr("Markthalle Neun"),
	}
	if _, err := db.InsertEntry(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	return e
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func TestEnqueueUpdate_CapturesOriginalsAndAppliesOptimistically(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedSyncedEntry(t, db, 500)

	newNotes := "dinner actually"
	m, err := svc.EnqueueUpdate(ctx, 500, Update{
		Latitude:      floatPtr(48.8566),
		Notes:         &newNotes,
		NotesIncluded: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if m.OrigLatitude == nil || *m.OrigLatitude != 52.52 {
		t.Errorf("original latitude not captured: %v", m.OrigLatitude)
	}
	if m.OrigLongitude != nil {
		t.Error("untouched fields must not capture originals")
	}
	if m.OrigNotes == nil || *m.OrigNotes != "lunch at the market" {
		t.Errorf("original notes not captured: %v", m.OrigNotes)
	}
	if !m.HasRollbackData() {
		t.Error("update must carry rollback data")
	}

	// The optimistic change is visible immediately.
	entry, err := db.GetEntryByServerID(ctx, 500)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Position.Latitude != 48.8566 {
		t.Errorf("optimistic latitude not applied: %v", entry.Position.Latitude)
	}
	if entry.Notes == nil || *entry.Notes != "dinner actually" {
		t.Errorf("optimistic notes not applied: %v", entry.Notes)
	}
}

func TestEnqueueDelete_SnapshotsAndRemoves(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	e := seedSyncedEntry(t, db, 501)

	m, err := svc.EnqueueDelete(ctx, 501)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.DeletedSnapshot) == 0 {
		t.Fatal("delete must snapshot the full entry")
	}

	if _, err := db.GetEntry(ctx, e.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("optimistic delete not applied, err=%v", err)
	}
}

func TestRollback_Update(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedSyncedEntry(t, db, 502)

	newAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m, err := svc.EnqueueUpdate(ctx, 502, Update{
		Latitude:      floatPtr(1),
		Longitude:     floatPtr(2),
		CapturedAt:    &newAt,
		Notes:         nil,
		NotesIncluded: true, // clear notes
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Rollback(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	entry, err := db.GetEntryByServerID(ctx, 502)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Position.Latitude != 52.52 || entry.Position.Longitude != 13.405 {
		t.Errorf("position not restored: %+v", entry.Position)
	}
	if !entry.CapturedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("captured_at not restored: %v", entry.CapturedAt)
	}
	if entry.Notes == nil || *entry.Notes != "lunch at the market" {
		t.Errorf("notes not restored: %v", entry.Notes)
	}

	// The mutation record is gone.
	if _, err := db.GetMutation(ctx, m.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("rolled-back mutation must be discarded, err=%v", err)
	}
}

func TestRollback_Delete(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedSyncedEntry(t, db, 503)

	m, err := svc.EnqueueDelete(ctx, 503)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Rollback(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	entry, err := db.GetEntryByServerID(ctx, 503)
	if err != nil {
		t.Fatalf("deleted entry not restored: %v", err)
	}
	if entry.Place == nil || *entry.Place != "Markthalle Neun" {
		t.Errorf("snapshot fields lost in restore: %v", entry.Place)
	}
	if entry.Notes == nil || *entry.Notes != "lunch at the market" {
		t.Errorf("notes lost in restore: %v", entry.Notes)
	}
}

func TestRollback_EventCarriesKindName(t *testing.T) {
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	log := logging.NewTestLogger(io.Discard)
	hub := events.NewHub(log)
	t.Cleanup(func() { _ = hub.Close() })
	svc := NewService(db, hub, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := hub.Subscribe(ctx, events.TopicMutationRolledBack)
	if err != nil {
		t.Fatal(err)
	}

	seedSyncedEntry(t, db, 508)
	m, err := svc.EnqueueDelete(ctx, 508)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Rollback(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-msgs:
		var ev events.MutationEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			t.Fatalf("decode rolledback event: %v", err)
		}
		msg.Ack()
		if ev.Kind != "delete" {
			t.Errorf("event kind must be the readable name, got %q", ev.Kind)
		}
		if ev.TargetServerID != 508 {
			t.Errorf("wrong target server id: %d", ev.TargetServerID)
		}
	case <-ctx.Done():
		t.Fatal("no rolledback event published")
	}
}

func TestRollback_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "waylog.db")

	db, err := database.New(&config.DatabaseConfig{Path: path, BusyTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	svc := newServiceOver(t, db)
	seedSyncedEntry(t, db, 504)

	m, err := svc.EnqueueUpdate(ctx, 504, Update{Latitude: floatPtr(0.5)})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh process: only durable state is available.
	db2, err := database.New(&config.DatabaseConfig{Path: path, BusyTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	svc2 := newServiceOver(t, db2)

	if err := svc2.Rollback(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	entry, err := db2.GetEntryByServerID(ctx, 504)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Position.Latitude != 52.52 {
		t.Errorf("latitude not restored after restart: %v", entry.Position.Latitude)
	}
}

func TestAttemptCeiling(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedSyncedEntry(t, db, 505)

	m, err := svc.EnqueueUpdate(ctx, 505, Update{Latitude: floatPtr(1)})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < models.MutationMaxAttempts; i++ {
		next, err := svc.Next(ctx)
		if err != nil || next == nil {
			t.Fatalf("round %d: expected a syncable mutation, got %v (%v)", i, next, err)
		}
		if err := svc.Release(ctx, next.ID, "503 from server"); err != nil {
			t.Fatal(err)
		}
	}

	// Ceiling reached: the mutation stops syncing but still exists.
	next, err := svc.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("mutation past the attempt ceiling must not sync: %+v", next)
	}
	if _, err := db.GetMutation(ctx, m.ID); err != nil {
		t.Errorf("capped mutation must be retained: %v", err)
	}
}

func TestMarkRejectedThenRollback(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedSyncedEntry(t, db, 506)

	m, err := svc.EnqueueUpdate(ctx, 506, Update{Latitude: floatPtr(3)})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkRejected(ctx, m.ID, "edit conflicts with server state"); err != nil {
		t.Fatal(err)
	}

	// Rejected mutations never sync again.
	next, err := svc.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("rejected mutation came back through Next: %+v", next)
	}

	if err := svc.Rollback(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	entry, err := db.GetEntryByServerID(ctx, 506)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Position.Latitude != 52.52 {
		t.Errorf("rollback after rejection did not restore: %v", entry.Position.Latitude)
	}
}

func TestRollbackDelete_AfterQueueEviction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	sample := &models.QueuedSample{
		Position:         models.Position{Latitude: 52.52, Longitude: 13.405},
		CapturedAt:       at,
		IdempotencyToken: "9c7f2a1e-evict",
	}
	entry := &models.TimelineEntry{
		Position:   sample.Position,
		CapturedAt: at,
	}
	if err := db.InsertSampleWithTimeline(ctx, sample, entry); err != nil {
		t.Fatal(err)
	}
	if ok, err := db.TryClaim(ctx, sample.ID, at); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if ok, err := db.ConfirmSampleSynced(ctx, sample.ID, 900); err != nil || !ok {
		t.Fatalf("confirm: ok=%v err=%v", ok, err)
	}
	if ok, err := db.SetEntryServerID(ctx, sample.ID, 900); err != nil || !ok {
		t.Fatalf("set server id: ok=%v err=%v", ok, err)
	}

	m, err := svc.EnqueueDelete(ctx, 900)
	if err != nil {
		t.Fatal(err)
	}

	// The synced queue record is evicted while the delete is still pending,
	// leaving the snapshot's queue back-reference dangling.
	if n, err := db.EvictQueue(ctx, 0, time.Hour, at.Add(time.Hour)); err != nil || n != 1 {
		t.Fatalf("evict: n=%d err=%v", n, err)
	}

	if err := svc.MarkRejected(ctx, m.ID, "server kept the entry"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Rollback(ctx, m.ID); err != nil {
		t.Fatalf("rollback after eviction: %v", err)
	}

	restored, err := db.GetEntryByServerID(ctx, 900)
	if err != nil {
		t.Fatalf("deleted entry not restored: %v", err)
	}
	if restored.QueueID != nil {
		t.Errorf("restored entry must not reference the evicted queue record: %v", *restored.QueueID)
	}
}

func TestConfirmDiscardsMutation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedSyncedEntry(t, db, 507)

	m, err := svc.EnqueueUpdate(ctx, 507, Update{Latitude: floatPtr(4)})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Confirm(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := db.GetMutation(ctx, m.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("confirmed mutation must be discarded, err=%v", err)
	}

	// The optimistic change stands.
	entry, err := db.GetEntryByServerID(ctx, 507)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Position.Latitude != 4 {
		t.Errorf("confirmed edit reverted: %v", entry.Position.Latitude)
	}
}
