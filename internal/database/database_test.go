// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/waylog/waylog/internal/config"
	"github.com/waylog/waylog/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{Path: ":memory:", BusyTimeout: time.Second})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSample(capturedAt time.Time, userInvoked bool) *models.QueuedSample {
	return &models.QueuedSample{
		Position:         models.Position{Latitude: 52.52, Longitude: 13.405},
		CapturedAt:       capturedAt,
		IdempotencyToken: uuid.NewString(),
		UserInvoked:      userInvoked,
	}
}

func mustInsert(t *testing.T, db *DB, s *models.QueuedSample) int64 {
	t.Helper()
	if err := db.InsertSample(context.Background(), s); err != nil {
		t.Fatalf("insert sample: %v", err)
	}
	return s.ID
}

func TestInsertSample_Defaults(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := newSample(time.Now().UTC(), false)
	mustInsert(t, db, s)

	got, err := db.GetSample(ctx, s.ID)
	if err != nil {
		t.Fatalf("get sample: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("expected pending, got %v", got.Status)
	}
	if got.Attempts != 0 || got.Rejected || got.ServerConfirmed {
		t.Errorf("unexpected defaults: %+v", got)
	}
	if got.IdempotencyToken != s.IdempotencyToken {
		t.Errorf("idempotency token changed across round trip")
	}
	if !got.CanSync() {
		t.Error("fresh sample should be syncable")
	}
}

func TestInsertSampleWithTimeline_Linked(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := newSample(time.Now().UTC(), false)
	e := &models.TimelineEntry{
		Position:   s.Position,
		CapturedAt: s.CapturedAt,
	}
	if err := db.InsertSampleWithTimeline(ctx, s, e); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	linked, err := db.GetEntryByQueueID(ctx, s.ID)
	if err != nil {
		t.Fatalf("get linked entry: %v", err)
	}
	if linked.ID != e.ID {
		t.Errorf("expected entry %d, got %d", e.ID, linked.ID)
	}
	if linked.QueueID == nil || *linked.QueueID != s.ID {
		t.Errorf("back-reference not set: %+v", linked.QueueID)
	}
	if linked.IsSynced() {
		t.Error("local-only entry must not be synced")
	}
}

func TestTryClaim_Transitions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := mustInsert(t, db, newSample(now, false))

	ok, err := db.TryClaim(ctx, id, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("first claim must succeed")
	}

	// Second claim must observe zero rows affected.
	ok, err = db.TryClaim(ctx, id, now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Error("claiming a Syncing sample must fail")
	}

	got, _ := db.GetSample(ctx, id)
	if got.Status != models.StatusSyncing {
		t.Errorf("expected syncing, got %v", got.Status)
	}
	if got.LastAttemptAt == nil {
		t.Error("claim must record the attempt timestamp")
	}
}

func TestTryClaim_RejectedExcluded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := mustInsert(t, db, newSample(now, false))
	if err := db.RejectSample(ctx, id, "server said no"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	ok, err := db.TryClaim(ctx, id, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Error("rejected sample must never be claimable")
	}
}

func TestConfirmSampleSynced(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := mustInsert(t, db, newSample(now, false))

	// Confirming a Pending sample is a silent no-op.
	ok, err := db.ConfirmSampleSynced(ctx, id, 900)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ok {
		t.Error("confirm must no-op unless Syncing")
	}

	if _, err := db.TryClaim(ctx, id, now); err != nil {
		t.Fatal(err)
	}
	ok, err = db.ConfirmSampleSynced(ctx, id, 900)
	if err != nil || !ok {
		t.Fatalf("confirm after claim: ok=%v err=%v", ok, err)
	}

	got, _ := db.GetSample(ctx, id)
	if got.Status != models.StatusSynced || !got.ServerConfirmed {
		t.Errorf("expected synced+confirmed, got %+v", got)
	}
	if got.ServerID == nil || *got.ServerID != 900 {
		t.Errorf("server id not recorded: %v", got.ServerID)
	}

	// Duplicate confirmation is harmless.
	ok, err = db.ConfirmSampleSynced(ctx, id, 900)
	if err != nil {
		t.Fatalf("duplicate confirm: %v", err)
	}
	if ok {
		t.Error("duplicate confirm must be a no-op")
	}
}

func TestReleaseSampleForRetry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id := mustInsert(t, db, newSample(now, false))
	if _, err := db.TryClaim(ctx, id, now); err != nil {
		t.Fatal(err)
	}

	ok, err := db.ReleaseSampleForRetry(ctx, id, "connection refused", now.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}

	got, _ := db.GetSample(ctx, id)
	if got.Status != models.StatusPending {
		t.Errorf("expected pending after release, got %v", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.Attempts)
	}
	if got.LastError == nil || *got.LastError != "connection refused" {
		t.Errorf("error text not recorded: %v", got.LastError)
	}
	if !got.CanSync() {
		t.Error("released sample must be claimable again")
	}
}

func TestClaimCandidateIDs_TierOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	passiveOld := mustInsert(t, db, newSample(base, false))
	checkin := mustInsert(t, db, newSample(base.Add(time.Hour), true))
	passiveNew := mustInsert(t, db, newSample(base.Add(2*time.Hour), false))

	userIDs, err := db.ClaimCandidateIDs(ctx, true, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(userIDs) != 1 || userIDs[0] != checkin {
		t.Errorf("user tier: got %v, want [%d]", userIDs, checkin)
	}

	passiveIDs, err := db.ClaimCandidateIDs(ctx, false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(passiveIDs) != 2 || passiveIDs[0] != passiveOld || passiveIDs[1] != passiveNew {
		t.Errorf("passive tier: got %v, want [%d %d]", passiveIDs, passiveOld, passiveNew)
	}
}

func TestRejectSample_Cascade(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s := newSample(time.Now().UTC(), false)
	e := &models.TimelineEntry{Position: s.Position, CapturedAt: s.CapturedAt}
	if err := db.InsertSampleWithTimeline(ctx, s, e); err != nil {
		t.Fatal(err)
	}

	if err := db.RejectSample(ctx, s.ID, "below server thresholds"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.DeleteEntryByQueueID(ctx, s.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := db.GetEntryByQueueID(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected timeline entry gone, got err=%v", err)
	}

	got, _ := db.GetSample(ctx, s.ID)
	if !got.Rejected || got.RejectReason == nil {
		t.Errorf("rejection not recorded: %+v", got)
	}
}

func TestQueueStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mustInsert(t, db, newSample(base, false))
	mustInsert(t, db, newSample(base.Add(time.Hour), false))
	claimed := mustInsert(t, db, newSample(base.Add(2*time.Hour), false))
	if _, err := db.TryClaim(ctx, claimed, base.Add(3*time.Hour)); err != nil {
		t.Fatal(err)
	}
	rejected := mustInsert(t, db, newSample(base.Add(4*time.Hour), false))
	if err := db.RejectSample(ctx, rejected, "no"); err != nil {
		t.Fatal(err)
	}

	st, err := db.QueueStatus(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if st.Pending != 2 || st.Syncing != 1 || st.Rejected != 1 {
		t.Errorf("counts wrong: %+v", st)
	}
	if st.Total != 4 {
		t.Errorf("expected total 4, got %d", st.Total)
	}
	if st.OldestPendingAt == nil || !st.OldestPendingAt.Equal(base) {
		t.Errorf("oldest pending wrong: %v", st.OldestPendingAt)
	}
	if st.Usage != 0.04 {
		t.Errorf("expected usage 0.04, got %v", st.Usage)
	}
}

func TestEvictQueue_NeverTouchesSyncing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Three Syncing records over a capacity of 1.
	for i := 0; i < 3; i++ {
		id := mustInsert(t, db, newSample(base.Add(time.Duration(i)*time.Minute), false))
		if _, err := db.TryClaim(ctx, id, base); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := db.EvictQueue(ctx, 1, 24*time.Hour, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("eviction removed %d Syncing records, must remove none", removed)
	}
}

func TestEvictQueue_Ordering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := base.Add(48 * time.Hour)

	// One synced, one rejected, one stale pending, one fresh pending.
	syncedID := mustInsert(t, db, newSample(base, false))
	if _, err := db.TryClaim(ctx, syncedID, base); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ConfirmSampleSynced(ctx, syncedID, 1); err != nil {
		t.Fatal(err)
	}
	rejectedID := mustInsert(t, db, newSample(base.Add(time.Minute), false))
	if err := db.RejectSample(ctx, rejectedID, "no"); err != nil {
		t.Fatal(err)
	}
	stalePending := mustInsert(t, db, newSample(base.Add(2*time.Minute), false))
	freshPending := mustInsert(t, db, newSample(now.Add(-time.Minute), false))

	// Capacity 2: the synced and rejected rows must go before any pending.
	removed, err := db.EvictQueue(ctx, 2, 24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if _, err := db.GetSample(ctx, syncedID); !errors.Is(err, ErrNotFound) {
		t.Error("synced record should have been evicted first")
	}
	if _, err := db.GetSample(ctx, rejectedID); !errors.Is(err, ErrNotFound) {
		t.Error("rejected record should have been evicted first")
	}
	if _, err := db.GetSample(ctx, stalePending); err != nil {
		t.Error("stale pending must survive while capacity is met")
	}

	// Capacity 1: the retention-expired pending goes, the fresh one stays.
	removed, err = db.EvictQueue(ctx, 1, 24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := db.GetSample(ctx, stalePending); !errors.Is(err, ErrNotFound) {
		t.Error("retention-expired pending should have been evicted")
	}
	if _, err := db.GetSample(ctx, freshPending); err != nil {
		t.Error("fresh pending must never be evicted")
	}

	// Capacity 0 with only a fresh pending left: nothing to remove.
	removed, err = db.EvictQueue(ctx, 0, 24*time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("fresh pending must survive capacity pressure, removed %d", removed)
	}
}

func TestEvictQueue_UnlinksTimeline(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	s := newSample(base, false)
	e := &models.TimelineEntry{Position: s.Position, CapturedAt: s.CapturedAt}
	if err := db.InsertSampleWithTimeline(ctx, s, e); err != nil {
		t.Fatal(err)
	}
	if _, err := db.TryClaim(ctx, s.ID, base); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ConfirmSampleSynced(ctx, s.ID, 7); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SetEntryServerID(ctx, s.ID, 7); err != nil {
		t.Fatal(err)
	}

	if _, err := db.EvictQueue(ctx, 0, 24*time.Hour, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	// The queue row is gone but the synced history row survives, unlinked.
	if _, err := db.GetSample(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Error("synced queue row should have been evicted")
	}
	got, err := db.GetEntry(ctx, e.ID)
	if err != nil {
		t.Fatalf("timeline row must survive eviction: %v", err)
	}
	if got.QueueID != nil {
		t.Errorf("queue back-reference should be cleared, got %v", *got.QueueID)
	}
}

func TestMutationLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	lat := 48.8566
	origLat := 48.85
	m := &models.PendingMutation{
		Kind:           models.MutationUpdate,
		TargetServerID: 42,
		NewLatitude:    &lat,
		OrigLatitude:   &origLat,
	}
	if err := db.InsertMutation(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMutation(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != models.MutationUpdate || got.TargetServerID != 42 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.NewLatitude == nil || *got.NewLatitude != lat {
		t.Errorf("new latitude lost: %v", got.NewLatitude)
	}
	if !got.CanSync() {
		t.Error("fresh mutation should be syncable")
	}
	if !got.HasRollbackData() {
		t.Error("update with original values must have rollback data")
	}

	// Attempts climb to the ceiling.
	for i := 0; i < models.MutationMaxAttempts; i++ {
		if err := db.IncrementMutationAttempts(ctx, m.ID); err != nil {
			t.Fatal(err)
		}
	}
	got, _ = db.GetMutation(ctx, m.ID)
	if got.CanSync() {
		t.Error("mutation at attempt ceiling must not sync")
	}

	syncable, err := db.SyncableMutations(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(syncable) != 0 {
		t.Errorf("expected no syncable mutations, got %d", len(syncable))
	}

	// Rejection is sticky and the record is retained for audit.
	if err := db.MarkMutationRejected(ctx, m.ID, "conflict"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetMutation(ctx, m.ID)
	if !got.Rejected || got.RejectReason == nil || *got.RejectReason != "conflict" {
		t.Errorf("rejection not recorded: %+v", got)
	}

	if err := db.DeleteMutation(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetMutation(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateEntryFields_NotesDiscriminator(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	notes := "lunch spot"
	e := &models.TimelineEntry{
		Position:   models.Position{Latitude: 1, Longitude: 2},
		CapturedAt: time.Now().UTC(),
		Notes:      &notes,
	}
	if _, err := db.InsertEntry(ctx, e); err != nil {
		t.Fatal(err)
	}

	// NotesIncluded=false leaves notes alone.
	lat := 3.0
	if err := db.UpdateEntryFields(ctx, e.ID, EntryFieldUpdate{Latitude: &lat}); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetEntry(ctx, e.ID)
	if got.Notes == nil || *got.Notes != "lunch spot" {
		t.Errorf("notes must be untouched, got %v", got.Notes)
	}

	// NotesIncluded=true with nil clears them.
	if err := db.UpdateEntryFields(ctx, e.ID, EntryFieldUpdate{NotesIncluded: true}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetEntry(ctx, e.ID)
	if got.Notes != nil {
		t.Errorf("notes should be cleared, got %q", *got.Notes)
	}
}

func TestFindEntryNear(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{0, 10 * time.Second, time.Hour} {
		e := &models.TimelineEntry{
			Position:   models.Position{Latitude: 1, Longitude: 2},
			CapturedAt: base.Add(offset),
		}
		if _, err := db.InsertEntry(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.FindEntryNear(ctx, base.Add(9*time.Second), time.Second*2)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CapturedAt.Equal(base.Add(10 * time.Second)) {
		t.Errorf("expected nearest entry at +10s, got %v", got.CapturedAt)
	}

	if _, err := db.FindEntryNear(ctx, base.Add(30*time.Minute), time.Second); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound outside tolerance, got %v", err)
	}
}
