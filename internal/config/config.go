// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package config loads and validates Waylog configuration using Koanf v2
// with layered sources: struct defaults, an optional YAML file, and
// environment variables (highest priority, prefix WAYLOG_).
package config

import "time"

// Config is the root configuration for the engine and daemon.
type Config struct {
	Database     DatabaseConfig  `koanf:"database"`
	UploadGate   FilterConfig    `koanf:"upload_gate"`
	TimelineGate FilterConfig    `koanf:"timeline_gate"`
	Queue        QueueConfig     `koanf:"queue"`
	Worker       WorkerConfig    `koanf:"worker"`
	Transport    TransportConfig `koanf:"transport"`
	Server       ServerConfig    `koanf:"server"`
	Logging      LoggingConfig   `koanf:"logging"`
}

// DatabaseConfig configures the SQLite durable store.
type DatabaseConfig struct {
	// Path is the database file path. ":memory:" is accepted for tests.
	Path string `koanf:"path"`

	// BusyTimeout is forwarded to SQLite's busy_timeout pragma.
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// FilterConfig holds admission thresholds for one filter instance.
// Both the minimum interval and the minimum distance must be met (AND
// semantics, mirroring the server's own admission rule).
type FilterConfig struct {
	// MinInterval is the minimum elapsed time since the last admitted sample.
	MinInterval time.Duration `koanf:"min_interval"`

	// MinDistanceMeters is the minimum great-circle distance since the last
	// admitted sample.
	MinDistanceMeters float64 `koanf:"min_distance_meters"`

	// AccuracyCeilingMeters rejects any sample whose reported accuracy is
	// numerically worse than this value. Zero disables the check.
	AccuracyCeilingMeters float64 `koanf:"accuracy_ceiling_meters"`
}

// QueueConfig governs queue capacity and eviction.
type QueueConfig struct {
	// Capacity is the soft cap on total queue records; eviction trims past it.
	Capacity int `koanf:"capacity"`

	// Retention is how long an unsynced but valid record survives before
	// eviction may purge it. Unsynced records are otherwise retried forever.
	Retention time.Duration `koanf:"retention"`

	// EvictionInterval is how often the eviction service runs.
	EvictionInterval time.Duration `koanf:"eviction_interval"`
}

// WorkerConfig paces the sync workers.
type WorkerConfig struct {
	// PollInterval is how long a worker sleeps when the queue is empty.
	PollInterval time.Duration `koanf:"poll_interval"`

	// RatePerSecond caps submissions per second; zero means unlimited.
	RatePerSecond float64 `koanf:"rate_per_second"`

	// Burst is the rate limiter burst size.
	Burst int `koanf:"burst"`

	// MergeInterval is how often enriched locations are pulled from the
	// server and merged into the timeline.
	MergeInterval time.Duration `koanf:"merge_interval"`

	// MergeLookback is how far back each merge fetch reaches.
	MergeLookback time.Duration `koanf:"merge_lookback"`
}

// TransportConfig configures the backend HTTP client.
type TransportConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

// ServerConfig configures the loopback diagnostics endpoint.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
