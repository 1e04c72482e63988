// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package models

import "time"

// Position is the geographic shape shared by queued samples and timeline
// entries. Latitude and longitude are always present; the remaining fields
// are optional capture metadata.
type Position struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// QueuedSample is one captured location awaiting or having completed upload.
//
// The idempotency token is generated once at insert and never regenerated;
// it lets the server de-duplicate a resubmission after a crash between
// "server accepted" and "local commit".
type QueuedSample struct {
	ID         int64     `json:"id"`
	Position   Position  `json:"position"`
	CapturedAt time.Time `json:"captured_at"`

	Status        SyncStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`

	IdempotencyToken string `json:"idempotency_token"`
	ServerConfirmed  bool   `json:"server_confirmed"`
	ServerID         *int64 `json:"server_id,omitempty"`

	Rejected     bool    `json:"rejected"`
	RejectReason *string `json:"reject_reason,omitempty"`

	// UserInvoked marks a manual check-in; check-in metadata below is only
	// meaningful when it is set.
	UserInvoked bool    `json:"user_invoked"`
	ActivityID  *int64  `json:"activity_id,omitempty"`
	Note        *string `json:"note,omitempty"`
}

// CanSync reports whether the sample is eligible for a claim.
// Rejection is sticky: a rejected sample is never claimable again.
func (s *QueuedSample) CanSync() bool {
	return s.Status == StatusPending && !s.Rejected
}

// QueueStatus is the read-only diagnostic snapshot of the location queue.
type QueueStatus struct {
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Synced   int `json:"synced"`
	Rejected int `json:"rejected"`

	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
	NewestPendingAt *time.Time `json:"newest_pending_at,omitempty"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`

	Capacity int     `json:"capacity"`
	Total    int     `json:"total"`
	Usage    float64 `json:"usage"`
}
