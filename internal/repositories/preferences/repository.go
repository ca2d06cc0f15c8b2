// Package preferences persists per-user settings keyed by (userid, appid, configkey).
package preferences

import (
	"context"

	"github.com/dmitrijs2005/gophkeys/internal/models"
)

type Repository interface {
	GetValue(ctx context.Context, userID, appID, key string) (string, error)
	SetValue(ctx context.Context, userID, appID, key, value string) error
	ListApp(ctx context.Context, appID string) ([]models.Preference, error)
	DeleteApp(ctx context.Context, appID string) error
}
