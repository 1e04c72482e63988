// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package models

import "time"

// TimelineEntry is one row of the user-visible history. Its lifecycle is
// independent from QueuedSample, but a row created at capture time carries
// QueueID as a unique back-reference so sync outcomes can be projected onto
// it without re-matching by time or geometry.
type TimelineEntry struct {
	ID       int64  `json:"id"`
	ServerID *int64 `json:"server_id,omitempty"`

	Position   Position  `json:"position"`
	CapturedAt time.Time `json:"captured_at"`

	// Enrichment fields, filled by server merges.
	ShortAddress  *string `json:"short_address,omitempty"`
	FullAddress   *string `json:"full_address,omitempty"`
	Place         *string `json:"place,omitempty"`
	Region        *string `json:"region,omitempty"`
	Country       *string `json:"country,omitempty"`
	PostalCode    *string `json:"postal_code,omitempty"`
	ActivityLabel *string `json:"activity_label,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	TimezoneID    *string `json:"timezone_id,omitempty"`

	// Capture-time device metadata. Descriptive only.
	AppVersion   *string  `json:"app_version,omitempty"`
	BatteryLevel *float64 `json:"battery_level,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`

	// QueueID links back to the originating QueuedSample. Nil for rows
	// created directly from an online write or a server merge.
	QueueID *int64 `json:"queue_id,omitempty"`
}

// IsSynced reports whether the entry has a server identity.
func (e *TimelineEntry) IsSynced() bool { return e.ServerID != nil }

// IsEnriched reports whether a server merge has ever touched the entry.
func (e *TimelineEntry) IsEnriched() bool { return e.EnrichedAt != nil }

// HasNotes reports whether the entry carries non-empty local notes.
// A merge must never clobber notes when this is true.
func (e *TimelineEntry) HasNotes() bool {
	return e.Notes != nil && *e.Notes != ""
}

// ServerRow is one enriched location as returned by the backend. It carries
// the subset of fields the engine merges; everything else the server returns
// is ignored.
type ServerRow struct {
	ServerID   int64     `json:"server_id"`
	Position   Position  `json:"position"`
	CapturedAt time.Time `json:"captured_at"`

	ShortAddress  *string `json:"short_address,omitempty"`
	FullAddress   *string `json:"full_address,omitempty"`
	Place         *string `json:"place,omitempty"`
	Region        *string `json:"region,omitempty"`
	Country       *string `json:"country,omitempty"`
	PostalCode    *string `json:"postal_code,omitempty"`
	ActivityLabel *string `json:"activity_label,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	TimezoneID    *string `json:"timezone_id,omitempty"`
}
