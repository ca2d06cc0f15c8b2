// Package encryption persists the per-user encryption state: migration
// status, recovery opt-in and encryption mode.
package encryption

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophkeys/internal/models"
)

// Repository transitions are compare-and-set: they report false, not an
// error, when the row was not in the expected state.
type Repository interface {
	// GetState returns the user's row, creating it as NOT_STARTED if absent.
	GetState(ctx context.Context, uid string) (*models.UserState, error)
	// Claim moves NOT_STARTED to IN_PROGRESS, or re-claims an IN_PROGRESS
	// row whose start time is before staleBefore. now becomes the new start time.
	Claim(ctx context.Context, uid string, now, staleBefore time.Time) (bool, error)
	// Finish moves IN_PROGRESS to COMPLETED.
	Finish(ctx context.Context, uid string) (bool, error)
	// Reset moves IN_PROGRESS back to NOT_STARTED.
	Reset(ctx context.Context, uid string) (bool, error)
	SetRecoveryEnabled(ctx context.Context, uid string, enabled bool) error
	RecoveryEnabled(ctx context.Context, uid string) (bool, error)
}
