package users

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophkeys/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Backends(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, `SELECT DISTINCT backend FROM users ORDER BY backend`)
}

func (r *PostgresRepository) ListUIDs(ctx context.Context, backend string) ([]string, error) {
	query :=
		`SELECT uid FROM users
		 WHERE backend = $1
		 ORDER BY uid
		 `
	return r.queryStrings(ctx, query, backend)
}

func (r *PostgresRepository) Exists(ctx context.Context, backend, uid string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE backend = $1 AND uid = $2)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, backend, uid).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}
