package keymanager

import (
	"context"

	"github.com/dmitrijs2005/gophkeys/internal/repositories/encryption"
)

// RecoveryPolicy keeps the per-user recovery opt-in in the encryption table.
type RecoveryPolicy struct {
	repo encryption.Repository
}

// NewRecoveryPolicy returns a RecoveryPolicy backed by repo.
func NewRecoveryPolicy(repo encryption.Repository) *RecoveryPolicy {
	return &RecoveryPolicy{repo: repo}
}

func (p *RecoveryPolicy) RecoveryEnabledForUser(ctx context.Context, uid string) (bool, error) {
	return p.repo.RecoveryEnabled(ctx, uid)
}

func (p *RecoveryPolicy) SetRecoveryForUser(ctx context.Context, uid string, enabled bool) error {
	return p.repo.SetRecoveryEnabled(ctx, uid, enabled)
}
