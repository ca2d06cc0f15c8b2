// Package configstore exposes app and user settings stored in the
// appconfig and preferences tables, with caller-supplied defaults.
package configstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/repomanager"
)

// Store reads and writes appconfig and preferences values.
type Store struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// New returns a Store over db.
func New(db *sql.DB, rm repomanager.RepositoryManager) *Store {
	return &Store{db: db, repomanager: rm}
}

// GetAppValue returns def when the key is not set.
func (s *Store) GetAppValue(ctx context.Context, app, key, def string) (string, error) {
	v, err := s.repomanager.AppConfig(s.db).GetValue(ctx, app, key)
	if errors.Is(err, common.ErrorNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetAppValue inserts or replaces an application setting.
func (s *Store) SetAppValue(ctx context.Context, app, key, value string) error {
	return s.repomanager.AppConfig(s.db).SetValue(ctx, app, key, value)
}

// GetUserValue returns def when the user has no such preference.
func (s *Store) GetUserValue(ctx context.Context, uid, app, key, def string) (string, error) {
	v, err := s.repomanager.Preferences(s.db).GetValue(ctx, uid, app, key)
	if errors.Is(err, common.ErrorNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) SetUserValue(ctx context.Context, uid, app, key, value string) error {
	return s.repomanager.Preferences(s.db).SetValue(ctx, uid, app, key, value)
}
