// Package migrator moves one user's legacy key files into the namespaced
// layout read by the key manager. The run is guarded by a persisted
// per-user status so that it happens exactly once and resumes safely after
// an interruption.
package migrator

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/logging"
	"github.com/dmitrijs2005/gophkeys/internal/models"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/encryption"
	"github.com/dmitrijs2005/gophkeys/internal/storage/view"
)

// KeyStore is where migrated keys are written.
// KeyStore is where migrated keys are written.
type KeyStore interface {
	GetUserKey(ctx context.Context, uid, keyType string) ([]byte, error)
	SetUserKey(ctx context.Context, uid, keyType string, data []byte) error
	GetFileKey(ctx context.Context, path, keyID string) ([]byte, error)
	SetFileKey(ctx context.Context, path, keyID string, data []byte) error
}

// Migrator moves one user's legacy keys into the current layout, guarded by
// the per-user status row so that only one caller runs it at a time.
type Migrator struct {
	state        encryption.Repository
	legacy       view.View
	keys         KeyStore
	log          logging.Logger
	staleTimeout time.Duration
	now          func() time.Time
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithStaleTimeout sets how long an IN_PROGRESS run may go without
// finishing before another caller is allowed to resume it. Zero disables
// resumption.
func WithStaleTimeout(d time.Duration) Option {
	return func(m *Migrator) { m.staleTimeout = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// New returns a Migrator with a 30 minute stale timeout.
func New(state encryption.Repository, legacy view.View, keys KeyStore, log logging.Logger, opts ...Option) *Migrator {
	if log == nil {
		log = logging.Discard()
	}
	m := &Migrator{
		state:        state,
		legacy:       legacy,
		keys:         keys,
		log:          log.With("component", "migrator"),
		staleTimeout: 30 * time.Minute,
		now:          time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetStatus returns the user's migration status. A user seen for the first
// time is recorded as NOT_STARTED.
func (m *Migrator) GetStatus(ctx context.Context, uid string) (models.MigrationStatus, error) {
	st, err := m.state.GetState(ctx, uid)
	if err != nil {
		return models.MigrationNotStarted, err
	}
	return st.Status, nil
}

// BeginMigration reports whether this caller won the right to migrate uid.
// It is false when the migration is completed or another run is active.
// An IN_PROGRESS run older than the stale timeout is taken over.
func (m *Migrator) BeginMigration(ctx context.Context, uid string) (bool, error) {
	st, err := m.state.GetState(ctx, uid)
	if err != nil {
		return false, err
	}
	if st.Status >= models.MigrationCompleted {
		return false, nil
	}
	if st.Status == models.MigrationInProgress && m.staleTimeout <= 0 {
		return false, nil
	}

	now := m.now()
	won, err := m.state.Claim(ctx, uid, now, now.Add(-m.staleTimeout))
	if err != nil {
		return false, err
	}
	if !won {
		m.log.Warn(ctx, "migration already started by another process", "user", uid)
		return false, nil
	}
	if st.Status == models.MigrationInProgress {
		m.log.Info(ctx, "resuming stale migration", "user", uid, "started_at", st.StartedAt)
	} else {
		m.log.Info(ctx, "migration started", "user", uid)
	}
	return true, nil
}

// FinishMigration moves uid from IN_PROGRESS to COMPLETED.
func (m *Migrator) FinishMigration(ctx context.Context, uid string) (bool, error) {
	ok, err := m.state.Finish(ctx, uid)
	if err != nil {
		return false, err
	}
	if !ok {
		m.log.Warn(ctx, "could not finish migration", "user", uid)
		return false, nil
	}
	m.log.Info(ctx, "migration finished", "user", uid)
	return true, nil
}

// ResetMigration is the administrative escape IN_PROGRESS -> NOT_STARTED.
// COMPLETED users are never reset.
func (m *Migrator) ResetMigration(ctx context.Context, uid string) (bool, error) {
	ok, err := m.state.Reset(ctx, uid)
	if err != nil {
		return false, err
	}
	if ok {
		m.log.Warn(ctx, "migration reset", "user", uid)
	}
	return ok, nil
}

// Run performs the whole migration of uid if this caller wins it. A caller
// that loses proceeds as if the migration were done and gets (false, nil).
// On error the status stays IN_PROGRESS so a later run retries.
func (m *Migrator) Run(ctx context.Context, uid string) (bool, error) {
	won, err := m.BeginMigration(ctx, uid)
	if err != nil || !won {
		return false, err
	}

	res, err := m.Migrate(ctx, uid)
	if err != nil {
		m.log.Error(ctx, "migration interrupted", "user", uid, "error", err)
		return false, fmt.Errorf("migrate %s: %w", uid, err)
	}

	ok, err := m.FinishMigration(ctx, uid)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("finish %s: %w", uid, common.ErrStatusConflict)
	}

	m.cleanup(ctx, uid)
	m.log.Info(ctx, "user keys migrated", "user", uid,
		"written", res.Written, "unchanged", res.Unchanged, "skipped", res.Skipped)
	return true, nil
}
