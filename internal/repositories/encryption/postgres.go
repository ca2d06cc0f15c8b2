package encryption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophkeys/internal/dbx"
	"github.com/dmitrijs2005/gophkeys/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetState(ctx context.Context, uid string) (*models.UserState, error) {
	query :=
		`INSERT INTO encryption (uid) VALUES ($1)
		 ON CONFLICT (uid) DO UPDATE SET uid = EXCLUDED.uid
		 RETURNING uid, mode, recovery_enabled, migration_status, migration_started_at
		 `

	var (
		st        models.UserState
		status    int
		startedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, uid).
		Scan(&st.UID, &st.Mode, &st.RecoveryEnabled, &status, &startedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	st.Status = models.MigrationStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		st.StartedAt = &t
	}
	return &st, nil
}

// transition runs a keyed conditional update; exactly one affected row wins.
func (r *PostgresRepository) transition(ctx context.Context, query string, args ...any) (bool, error) {
	err := dbx.ExecOne(ctx, r.db, query, args...)
	if errors.Is(err, dbx.ErrNoRowAffected) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) Claim(ctx context.Context, uid string, now, staleBefore time.Time) (bool, error) {
	query :=
		`UPDATE encryption SET migration_status = 1, migration_started_at = $2
		 WHERE uid = $1
		   AND (migration_status = 0
		        OR (migration_status = 1 AND migration_started_at < $3))
		 `
	return r.transition(ctx, query, uid, now, staleBefore)
}

func (r *PostgresRepository) Finish(ctx context.Context, uid string) (bool, error) {
	query :=
		`UPDATE encryption SET migration_status = 2
		 WHERE uid = $1 AND migration_status = 1
		 `
	return r.transition(ctx, query, uid)
}

func (r *PostgresRepository) Reset(ctx context.Context, uid string) (bool, error) {
	query :=
		`UPDATE encryption SET migration_status = 0, migration_started_at = NULL
		 WHERE uid = $1 AND migration_status = 1
		 `
	return r.transition(ctx, query, uid)
}

func (r *PostgresRepository) SetRecoveryEnabled(ctx context.Context, uid string, enabled bool) error {
	query :=
		`INSERT INTO encryption (uid, recovery_enabled) VALUES ($1, $2)
		 ON CONFLICT (uid) DO UPDATE SET recovery_enabled = EXCLUDED.recovery_enabled
		 `

	if _, err := r.db.ExecContext(ctx, query, uid, enabled); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RecoveryEnabled reports false for users without a row.
func (r *PostgresRepository) RecoveryEnabled(ctx context.Context, uid string) (bool, error) {
	query := `SELECT recovery_enabled FROM encryption WHERE uid = $1`

	var enabled bool
	err := r.db.QueryRowContext(ctx, query, uid).Scan(&enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return enabled, nil
}
