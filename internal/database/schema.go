// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package database

// schema creates the three record stores. queue_id on timeline_entries is
// UNIQUE: at most one timeline row references a given queued sample, and
// the reference is the join key for projecting sync outcomes. It is set to
// NULL when eviction removes the queue row so synced history survives.
const schema = `
CREATE TABLE IF NOT EXISTS location_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	altitude REAL,
	speed REAL,
	bearing REAL,
	accuracy REAL,
	captured_at TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TEXT,
	last_error TEXT,
	idempotency_token TEXT NOT NULL UNIQUE,
	server_confirmed INTEGER NOT NULL DEFAULT 0,
	server_id INTEGER,
	rejected INTEGER NOT NULL DEFAULT 0,
	reject_reason TEXT,
	user_invoked INTEGER NOT NULL DEFAULT 0,
	activity_id INTEGER,
	note TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_claim
	ON location_queue(status, rejected, user_invoked, captured_at);
CREATE INDEX IF NOT EXISTS idx_queue_captured_at
	ON location_queue(captured_at);

CREATE TABLE IF NOT EXISTS timeline_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id INTEGER,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	altitude REAL,
	speed REAL,
	bearing REAL,
	accuracy REAL,
	captured_at TEXT NOT NULL,
	short_address TEXT,
	full_address TEXT,
	place TEXT,
	region TEXT,
	country TEXT,
	postal_code TEXT,
	activity_label TEXT,
	notes TEXT,
	timezone_id TEXT,
	app_version TEXT,
	battery_level REAL,
	created_at TEXT NOT NULL,
	enriched_at TEXT,
	queue_id INTEGER UNIQUE REFERENCES location_queue(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_timeline_server_id ON timeline_entries(server_id);
CREATE INDEX IF NOT EXISTS idx_timeline_captured_at ON timeline_entries(captured_at);

CREATE TABLE IF NOT EXISTS pending_mutations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	target_server_id INTEGER NOT NULL,
	new_latitude REAL,
	new_longitude REAL,
	new_captured_at TEXT,
	new_notes TEXT,
	notes_included INTEGER NOT NULL DEFAULT 0,
	orig_latitude REAL,
	orig_longitude REAL,
	orig_captured_at TEXT,
	orig_notes TEXT,
	deleted_snapshot BLOB,
	attempts INTEGER NOT NULL DEFAULT 0,
	rejected INTEGER NOT NULL DEFAULT 0,
	reject_reason TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mutations_syncable
	ON pending_mutations(rejected, attempts, created_at);
`
