package migrator

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophkeys/internal/models"
)

// memState is an in-memory encryption.Repository with the same
// compare-and-set semantics as the Postgres one.
type memState struct {
	mu   sync.Mutex
	rows map[string]*models.UserState
}

func newMemState() *memState {
	return &memState{rows: map[string]*models.UserState{}}
}

func (s *memState) row(uid string) *models.UserState {
	r, ok := s.rows[uid]
	if !ok {
		r = &models.UserState{UID: uid, Mode: "server"}
		s.rows[uid] = r
	}
	return r
}

func (s *memState) GetState(_ context.Context, uid string) (*models.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *s.row(uid)
	return &c, nil
}

func (s *memState) Claim(_ context.Context, uid string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.row(uid)
	stale := r.Status == models.MigrationInProgress && r.StartedAt != nil && r.StartedAt.Before(staleBefore)
	if r.Status != models.MigrationNotStarted && !stale {
		return false, nil
	}
	r.Status = models.MigrationInProgress
	r.StartedAt = &now
	return true, nil
}

func (s *memState) Finish(_ context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.row(uid)
	if r.Status != models.MigrationInProgress {
		return false, nil
	}
	r.Status = models.MigrationCompleted
	return true, nil
}

func (s *memState) Reset(_ context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.row(uid)
	if r.Status != models.MigrationInProgress {
		return false, nil
	}
	r.Status = models.MigrationNotStarted
	r.StartedAt = nil
	return true, nil
}

func (s *memState) SetRecoveryEnabled(_ context.Context, uid string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row(uid).RecoveryEnabled = enabled
	return nil
}

func (s *memState) RecoveryEnabled(_ context.Context, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.row(uid).RecoveryEnabled, nil
}

// countingKeys wraps a KeyStore, counting writes and optionally failing
// after a number of them.
type countingKeys struct {
	KeyStore
	writes    int
	failAfter int // 0 means never
	err       error
}

func (c *countingKeys) tick() error {
	if c.failAfter > 0 && c.writes >= c.failAfter {
		return c.err
	}
	c.writes++
	return nil
}

func (c *countingKeys) SetUserKey(ctx context.Context, uid, keyType string, data []byte) error {
	if err := c.tick(); err != nil {
		return err
	}
	return c.KeyStore.SetUserKey(ctx, uid, keyType, data)
}

func (c *countingKeys) SetFileKey(ctx context.Context, path, keyID string, data []byte) error {
	if err := c.tick(); err != nil {
		return err
	}
	return c.KeyStore.SetFileKey(ctx, path, keyID, data)
}
