package preferences

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

func (r *PostgresRepository) GetValue(ctx context.Context, userID, appID, key string) (string, error) {
	query :=
		`SELECT configvalue FROM preferences
		 WHERE userid = $1 AND appid = $2 AND configkey = $3
		 `

	var value string
	err := r.db.QueryRowContext(ctx, query, userID, appID, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return value, nil
}

func (r *PostgresRepository) SetValue(ctx context.Context, userID, appID, key, value string) error {
	query :=
		`INSERT INTO preferences (userid, appid, configkey, configvalue)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (userid, appid, configkey) DO UPDATE SET configvalue = EXCLUDED.configvalue
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, appID, key, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListApp(ctx context.Context, appID string) ([]models.Preference, error) {
	query :=
		`SELECT userid, appid, configkey, configvalue FROM preferences
		 WHERE appid = $1
		 ORDER BY userid, configkey
		 `

	rows, err := r.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Preference
	for rows.Next() {
		var p models.Preference
		if err := rows.Scan(&p.UserID, &p.AppID, &p.Key, &p.Value); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) DeleteApp(ctx context.Context, appID string) error {
	query := `DELETE FROM preferences WHERE appid = $1`

	if _, err := r.db.ExecContext(ctx, query, appID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
