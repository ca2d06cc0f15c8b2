package appconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/dbx"
	"github.com/dmitrijs2005/gophkeys/internal/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetValue returns common.ErrorNotFound when the key is not set.
func (r *PostgresRepository) GetValue(ctx context.Context, appID, key string) (string, error) {
	query :=
		`SELECT configvalue FROM appconfig
		 WHERE appid = $1 AND configkey = $2
		 `

	var value string
	err := r.db.QueryRowContext(ctx, query, appID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return value, nil
}

func (r *PostgresRepository) SetValue(ctx context.Context, appID, key, value string) error {
	query :=
		`INSERT INTO appconfig (appid, configkey, configvalue)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (appid, configkey) DO UPDATE SET configvalue = EXCLUDED.configvalue
		 `

	if _, err := r.db.ExecContext(ctx, query, appID, key, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, appID string) ([]models.AppValue, error) {
	query :=
		`SELECT appid, configkey, configvalue FROM appconfig
		 WHERE appid = $1
		 ORDER BY configkey
		 `

	rows, err := r.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.AppValue
	for rows.Next() {
		var v models.AppValue
		if err := rows.Scan(&v.AppID, &v.Key, &v.Value); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteKey(ctx context.Context, appID, key string) error {
	query := `DELETE FROM appconfig WHERE appid = $1 AND configkey = $2`

	if _, err := r.db.ExecContext(ctx, query, appID, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteApp(ctx context.Context, appID string) error {
	query := `DELETE FROM appconfig WHERE appid = $1`

	if _, err := r.db.ExecContext(ctx, query, appID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
