// Package models defines the data persisted in the database tables used by
// the key management components.
package models

import (
	"fmt"
	"time"
)

// MigrationStatus is the per-user migration state. Values are ordered so
// callers can compare with < and >=.
type MigrationStatus int

const (
	MigrationNotStarted MigrationStatus = 0
	MigrationInProgress MigrationStatus = 1
	MigrationCompleted  MigrationStatus = 2
)

func (s MigrationStatus) String() string {
	switch s {
	case MigrationNotStarted:
		return "NOT_STARTED"
	case MigrationInProgress:
		return "IN_PROGRESS"
	case MigrationCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("MigrationStatus(%d)", int(s))
	}
}

// UserState is a row of the encryption table.
type UserState struct {
	UID             string
	Mode            string
	RecoveryEnabled bool
	Status          MigrationStatus
	// StartedAt is set when the current or last run claimed the migration.
	StartedAt *time.Time
}
