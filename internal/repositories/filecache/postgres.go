package filecache

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

func (r *PostgresRepository) FixEncryptedSizes(ctx context.Context) (int64, error) {
	query :=
		`UPDATE filecache SET size = unencrypted_size
		 WHERE encrypted = 1 AND size <> unencrypted_size
		 `

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountSizeMismatches(ctx context.Context) (int64, error) {
	query :=
		`SELECT COUNT(*) FROM filecache
		 WHERE encrypted = 1 AND size <> unencrypted_size
		 `

	var n int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
