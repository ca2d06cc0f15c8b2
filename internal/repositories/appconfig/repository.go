// Package appconfig persists application-wide settings keyed by (appid, configkey).
package appconfig

import (
	"context"

	"github.com/dmitrijs2005/gophkeys/internal/models"
)

type Repository interface {
	GetValue(ctx context.Context, appID, key string) (string, error)
	SetValue(ctx context.Context, appID, key, value string) error
	List(ctx context.Context, appID string) ([]models.AppValue, error)
	DeleteKey(ctx context.Context, appID, key string) error
	DeleteApp(ctx context.Context, appID string) error
}
