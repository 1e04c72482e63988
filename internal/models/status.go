// Waylog - Offline-first Location Synchronization Engine
// Copyright 2026 Waylog Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/waylog/waylog

package models

import (
	"database/sql/driver"
	"fmt"
)

// SyncStatus is the upload state of a queued sample.
type SyncStatus int

const (
	// StatusPending marks a sample waiting to be claimed.
	StatusPending SyncStatus = iota
	// StatusSyncing marks a sample claimed by exactly one worker.
	StatusSyncing
	// StatusSynced marks a sample confirmed by the server.
	StatusSynced
)

// String returns the storage representation of the status.
func (s SyncStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSyncing:
		return "syncing"
	case StatusSynced:
		return "synced"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseSyncStatus converts a storage string back to a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "syncing":
		return StatusSyncing, nil
	case "synced":
		return StatusSynced, nil
	default:
		return 0, fmt.Errorf("unknown sync status %q", s)
	}
}

// Value implements driver.Valuer so statuses are stored as text.
func (s SyncStatus) Value() (driver.Value, error) {
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *SyncStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseSyncStatus(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into SyncStatus", src)
	}
}

// MarshalJSON emits the status as its string form.
func (s SyncStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the string form.
func (s *SyncStatus) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid sync status %s", data)
	}
	parsed, err := ParseSyncStatus(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MutationKind is the operation carried by a pending mutation.
type MutationKind int

const (
	// MutationUpdate edits a subset of fields on a synced entry.
	MutationUpdate MutationKind = iota
	// MutationDelete removes a synced entry.
	MutationDelete
)

// String returns the storage representation of the kind.
func (k MutationKind) String() string {
	switch k {
	case MutationUpdate:
		return "update"
	case MutationDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseMutationKind converts a storage string back to a MutationKind.
func ParseMutationKind(s string) (MutationKind, error) {
	switch s {
	case "update":
		return MutationUpdate, nil
	case "delete":
		return MutationDelete, nil
	default:
		return 0, fmt.Errorf("unknown mutation kind %q", s)
	}
}

// Value implements driver.Valuer.
func (k MutationKind) Value() (driver.Value, error) {
	return k.String(), nil
}

// Scan implements sql.Scanner.
func (k *MutationKind) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseMutationKind(v)
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	case []byte:
		return k.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into MutationKind", src)
	}
}
