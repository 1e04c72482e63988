// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package models

import (
	"encoding/json"
	"time"
)

// MutationMaxAttempts is the retry ceiling for pending mutations. A stuck
// edit is cheaper to abandon than a lost GPS sample, and unbounded retries
// of a conflicting edit would mask a real inconsistency.
const MutationMaxAttempts = 5

// PendingMutation is one queued edit or delete against a timeline entry
// that is already synced. It carries enough "before" state, captured at
// enqueue time, to roll the optimistic local change back after a terminal
// rejection, even across a process restart.
type PendingMutation struct {
	ID             int64        `json:"id"`
	Kind           MutationKind `json:"kind"`
	TargetServerID int64        `json:"target_server_id"`

	// New values. Each is independently nullable so a mutation can touch
	// only a subset of fields. NotesIncluded distinguishes "leave notes
	// alone" (false) from "set notes to this value, possibly empty" (true).
	NewLatitude   *float64   `json:"new_latitude,omitempty"`
	NewLongitude  *float64   `json:"new_longitude,omitempty"`
	NewCapturedAt *time.Time `json:"new_captured_at,omitempty"`
	NewNotes      *string    `json:"new_notes,omitempty"`
	NotesIncluded bool       `json:"notes_included"`

	// Original values for every field the mutation may touch, captured
	// before the optimistic local update was applied.
	OrigLatitude   *float64   `json:"orig_latitude,omitempty"`
	OrigLongitude  *float64   `json:"orig_longitude,omitempty"`
	OrigCapturedAt *time.Time `json:"orig_captured_at,omitempty"`
	OrigNotes      *string    `json:"orig_notes,omitempty"`

	// DeletedSnapshot holds the full serialized TimelineEntry for deletes.
	DeletedSnapshot json.RawMessage `json:"deleted_snapshot,omitempty"`

	Attempts     int     `json:"attempts"`
	Rejected     bool    `json:"rejected"`
	RejectReason *string `json:"reject_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CanSync reports whether the mutation is still eligible for submission.
func (m *PendingMutation) CanSync() bool {
	return !m.Rejected && m.Attempts < MutationMaxAttempts
}

// HasRollbackData reports whether the captured before-state is sufficient
// to undo the optimistic local change.
func (m *PendingMutation) HasRollbackData() bool {
	switch m.Kind {
	case MutationDelete:
		return len(m.DeletedSnapshot) > 0
	case MutationUpdate:
		return m.OrigLatitude != nil || m.OrigLongitude != nil ||
			m.OrigCapturedAt != nil || m.OrigNotes != nil || m.NotesIncluded
	default:
		return false
	}
}
