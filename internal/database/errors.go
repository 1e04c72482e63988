// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package database

import "errors"

var (
	// ErrNotFound is returned when a record lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrNoRollbackData is returned when a mutation lacks the before-state
	// needed to undo its optimistic local change.
	ErrNoRollbackData = errors.New("mutation has no rollback data")
)
