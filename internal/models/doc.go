// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

// Package models defines the domain types shared across the engine:
// queued location samples, timeline entries, and pending mutations,
// together with their status enumerations and derived predicates.
//
// Optional fields are pointer-typed; nil means "not present" and is
// preserved through storage and JSON round trips.
package models
