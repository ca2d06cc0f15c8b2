package keymanager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/gophkeys/internal/common"
)

var errNoRecoveryShare = errors.New("no recovery share key")

// RecoveryReport counts the files visited by a recovery key operation.
type RecoveryReport struct {
	Files   int
	Updated int
	Skipped int
}

// recoveryApplies reports whether new share keys of uid's files must include
// the recovery key: the administrator enabled recovery and uid opted in.
func (m *KeyManager) recoveryApplies(ctx context.Context, uid string) (bool, error) {
	adminEnabled, err := m.config.GetAppValue(ctx, common.AppID, common.RecoveryAdminEnabledSetting, "0")
	if err != nil {
		return false, err
	}
	if adminEnabled != "1" || uid == "" {
		return false, nil
	}
	return m.util.RecoveryEnabledForUser(ctx, uid)
}

// shareHolders lists the recipients that hold a share key for path.
func (m *KeyManager) shareHolders(ctx context.Context, path string) ([]string, error) {
	ids, err := m.storage.ListFileKeyIDs(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		if r, ok := strings.CutSuffix(id, common.ShareKeySuffix); ok && r != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

// reshare seals plainKey of path again for the recipients derived from the
// current holders. Holders that can no longer receive a key lose their stale
// share key.
func (m *KeyManager) reshare(ctx context.Context, owner, path string, holders []string, plainKey []byte, withRecovery bool) error {
	system, err := m.systemRecipients(ctx)
	if err != nil {
		return err
	}
	pubID, err := m.publicShareKeyID(ctx)
	if err != nil {
		return err
	}
	recID, err := m.recoveryKeyID(ctx)
	if err != nil {
		return err
	}

	var sharees []string
	public := false
	for _, h := range holders {
		switch {
		case h == pubID:
			public = true
		case system[h], h == owner:
		default:
			sharees = append(sharees, h)
		}
	}

	recipients, err := m.SharingRecipients(ctx, owner, sharees, public)
	if err != nil {
		return err
	}
	if withRecovery && !slices.Contains(recipients, recID) {
		recipients = append(recipients, recID)
	}
	ready, notReady, err := m.FilterReadyRecipients(ctx, recipients)
	if err != nil {
		return err
	}
	if len(notReady) > 0 {
		m.log.Warn(ctx, "recipients without a key pair skipped", "path", path, "users", notReady)
	}

	if err := m.EncryptFileKeyFor(ctx, path, plainKey, ready); err != nil {
		return err
	}
	for _, h := range holders {
		if !slices.Contains(ready, h) {
			if err := m.DeleteShareKey(ctx, path, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddRecoveryKeys gives the recovery key a share key on every file of uid
// that lacks one. File keys are opened with uid's private key from the bound
// session. Nothing changes unless recovery applies to uid.
func (m *KeyManager) AddRecoveryKeys(ctx context.Context, uid string) (*RecoveryReport, error) {
	rep := &RecoveryReport{}
	applies, err := m.recoveryApplies(ctx, uid)
	if err != nil {
		return rep, err
	}
	if !applies {
		m.log.Info(ctx, "recovery does not apply, no keys added", "user", uid)
		return rep, nil
	}
	recID, err := m.recoveryKeyID(ctx)
	if err != nil {
		return rep, err
	}
	files, err := m.storage.ListKeyedFiles(ctx, uid)
	if err != nil {
		return rep, err
	}
	if len(files) == 0 {
		return rep, nil
	}
	if err := m.requireSessionKey(uid); err != nil {
		return rep, err
	}

	var errs []error
	for _, p := range files {
		rep.Files++
		holders, err := m.shareHolders(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if slices.Contains(holders, recID) {
			rep.Skipped++
			continue
		}
		plain, err := m.DecryptFileKey(ctx, p, uid)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		err = m.reshare(ctx, uid, p, holders, plain, false)
		common.WipeByteArray(plain)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		rep.Updated++
	}
	m.log.Info(ctx, "recovery keys added", "user", uid, "files", rep.Files, "updated", rep.Updated)
	return rep, errors.Join(errs...)
}

// RemoveRecoveryKeys deletes the recovery share key of every file of uid.
func (m *KeyManager) RemoveRecoveryKeys(ctx context.Context, uid string) (*RecoveryReport, error) {
	rep := &RecoveryReport{}
	recID, err := m.recoveryKeyID(ctx)
	if err != nil {
		return rep, err
	}
	files, err := m.storage.ListKeyedFiles(ctx, uid)
	if err != nil {
		return rep, err
	}

	var errs []error
	for _, p := range files {
		rep.Files++
		ids, err := m.storage.ListFileKeyIDs(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if !slices.Contains(ids, shareKeyID(recID)) {
			rep.Skipped++
			continue
		}
		if err := m.DeleteShareKey(ctx, p, recID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		rep.Updated++
	}
	m.log.Info(ctx, "recovery keys removed", "user", uid, "files", rep.Files, "updated", rep.Updated)
	return rep, errors.Join(errs...)
}

// RecoverUsersFiles opens every file key of uid with the recovery key and
// seals it again for the current recipients, including uid's present public
// key. This restores access after uid lost the login password and was given
// a new key pair. A wrong recoveryPassword fails with common.ErrDecryptFailed
// before any file is touched; files without a recovery share key are skipped.
func (m *KeyManager) RecoverUsersFiles(ctx context.Context, uid string, recoveryPassword []byte) (*RecoveryReport, error) {
	rep := &RecoveryReport{}
	recID, err := m.recoveryKeyID(ctx)
	if err != nil {
		return rep, err
	}
	enc, err := m.storage.GetSystemUserKey(ctx, privateKeyID(recID))
	if err != nil {
		return rep, err
	}
	if len(enc) == 0 {
		return rep, notFound("recovery private key", recID)
	}
	priv, err := m.crypto.DecryptPrivateKey(enc, recoveryPassword)
	if err != nil {
		return rep, fmt.Errorf("recovery key: %w", err)
	}
	defer common.WipeByteArray(priv)

	files, err := m.storage.ListKeyedFiles(ctx, uid)
	if err != nil {
		return rep, err
	}

	var errs []error
	for _, p := range files {
		rep.Files++
		if err := m.recoverFile(ctx, uid, p, recID, priv); err != nil {
			if errors.Is(err, errNoRecoveryShare) {
				rep.Skipped++
				m.log.Warn(ctx, "file not recoverable", "user", uid, "path", p, "error", err)
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		rep.Updated++
	}
	m.log.Info(ctx, "user files recovered", "user", uid,
		"files", rep.Files, "updated", rep.Updated, "skipped", rep.Skipped)
	return rep, errors.Join(errs...)
}

func (m *KeyManager) recoverFile(ctx context.Context, uid, path, recID string, recPriv []byte) error {
	share, err := m.GetShareKey(ctx, path, recID)
	if err != nil {
		return err
	}
	if len(share) == 0 {
		return errNoRecoveryShare
	}
	sealed, err := m.GetFileKey(ctx, path)
	if err != nil {
		return err
	}
	if len(sealed) == 0 {
		return notFound("file key", path)
	}
	plain, err := m.crypto.MultiKeyDecrypt(sealed, share, recPriv)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plain)

	holders, err := m.shareHolders(ctx, path)
	if err != nil {
		return err
	}
	return m.reshare(ctx, uid, path, holders, plain, true)
}

func (m *KeyManager) requireSessionKey(uid string) error {
	if m.session == nil {
		return errors.New("no session bound")
	}
	priv, err := m.session.PrivateKey(uid)
	if err != nil {
		return err
	}
	common.WipeByteArray(priv)
	return nil
}
