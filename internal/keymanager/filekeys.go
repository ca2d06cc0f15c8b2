package keymanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/keystorage"
)

// GetFileKey returns the sealed file key of path, or nil when none is stored.
func (m *KeyManager) GetFileKey(ctx context.Context, path string) ([]byte, error) {
	return m.storage.GetFileKey(ctx, path, common.FileKeyName)
}

// SetFileKey stores the sealed file key of path.
func (m *KeyManager) SetFileKey(ctx context.Context, path string, key []byte) error {
	return m.storage.SetFileKey(ctx, path, common.FileKeyName, key)
}

// GetShareKey returns the share key of recipient for path, or nil when none
// is stored.
func (m *KeyManager) GetShareKey(ctx context.Context, path, recipient string) ([]byte, error) {
	if err := keystorage.ValidateKeyID(recipient); err != nil {
		return nil, err
	}
	return m.storage.GetFileKey(ctx, path, shareKeyID(recipient))
}

// SetShareKeys writes one share key per recipient. Recipient ids are all
// validated before anything is written.
func (m *KeyManager) SetShareKeys(ctx context.Context, path string, shareKeys map[string][]byte) error {
	for id := range shareKeys {
		if err := keystorage.ValidateKeyID(id); err != nil {
			return err
		}
	}
	written := 0
	for id, key := range shareKeys {
		if err := m.storage.SetFileKey(ctx, path, shareKeyID(id), key); err != nil {
			if written > 0 {
				return errors.Join(common.ErrPartialWrite, err)
			}
			return err
		}
		written++
	}
	return nil
}

// DeleteAllFileKeys removes the file key and every share key of path.
func (m *KeyManager) DeleteAllFileKeys(ctx context.Context, path string) error {
	return m.storage.DeleteAllFileKeys(ctx, path)
}

// RenameFileKeys moves every key of src to dst after the file was moved.
func (m *KeyManager) RenameFileKeys(ctx context.Context, src, dst string) error {
	if err := m.storage.RenameKeys(ctx, src, dst); err != nil {
		return err
	}
	m.log.Debug(ctx, "file keys moved", "from", src, "to", dst)
	return nil
}

// CopyFileKeys gives dst the same file key and share keys as src. The copy
// stays readable by exactly the recipients of src.
func (m *KeyManager) CopyFileKeys(ctx context.Context, src, dst string) error {
	if err := m.storage.CopyKeys(ctx, src, dst); err != nil {
		return err
	}
	m.log.Debug(ctx, "file keys copied", "from", src, "to", dst)
	return nil
}

// recipientPublicKey returns the public key of a user or of one of the two
// system recipients.
func (m *KeyManager) recipientPublicKey(ctx context.Context, id string, system map[string]bool) ([]byte, error) {
	if system[id] {
		key, err := m.storage.GetSystemUserKey(ctx, publicKeyID(id))
		if err != nil {
			return nil, err
		}
		if len(key) == 0 {
			return nil, notFound("system public key", id)
		}
		return key, nil
	}
	return m.GetPublicKey(ctx, id)
}

func (m *KeyManager) systemRecipients(ctx context.Context) (map[string]bool, error) {
	rec, err := m.recoveryKeyID(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := m.publicShareKeyID(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]bool{rec: true, pub: true}, nil
}

// EncryptFileKeyFor seals plainKey for every recipient and stores the sealed
// file key together with one share key per recipient.
func (m *KeyManager) EncryptFileKeyFor(ctx context.Context, path string, plainKey []byte, recipients []string) error {
	if len(recipients) == 0 {
		return errors.New("no recipients")
	}
	system, err := m.systemRecipients(ctx)
	if err != nil {
		return err
	}

	pubKeys := make(map[string][]byte, len(recipients))
	for _, id := range recipients {
		if err := keystorage.ValidateKeyID(id); err != nil {
			return err
		}
		key, err := m.recipientPublicKey(ctx, id, system)
		if err != nil {
			return err
		}
		pubKeys[id] = key
	}

	sealed, shares, err := m.crypto.MultiKeyEncrypt(plainKey, pubKeys)
	if err != nil {
		return err
	}
	if err := m.SetFileKey(ctx, path, sealed); err != nil {
		return err
	}
	if err := m.SetShareKeys(ctx, path, shares); err != nil {
		return errors.Join(common.ErrPartialWrite, err)
	}
	return nil
}

// DecryptFileKey recovers the plain file key of path using uid's share key
// and the private key cached in the session by Init.
func (m *KeyManager) DecryptFileKey(ctx context.Context, path, uid string) ([]byte, error) {
	if m.session == nil {
		return nil, errors.New("no session bound")
	}
	priv, err := m.session.PrivateKey(uid)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(priv)

	sealed, err := m.GetFileKey(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(sealed) == 0 {
		return nil, notFound("file key", path)
	}
	share, err := m.GetShareKey(ctx, path, uid)
	if err != nil {
		return nil, err
	}
	if len(share) == 0 {
		return nil, notFound("share key", fmt.Sprintf("%s for %s", path, uid))
	}
	return m.crypto.MultiKeyDecrypt(sealed, share, priv)
}

// SharingRecipients lists everyone who must be able to read a file owned by
// owner: the owner, every sharee that still exists, the public-share id when
// the file is publicly linked, and the recovery id when recovery is enabled
// by the administrator and the owner opted in. Duplicates are dropped and the
// first occurrence keeps its place.
func (m *KeyManager) SharingRecipients(ctx context.Context, owner string, sharees []string, public bool) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	add(owner)
	for _, u := range sharees {
		if seen[u] {
			continue
		}
		ok, err := m.users.UserExists(ctx, u)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.log.Debug(ctx, "skipping unknown sharee", "user", u)
			continue
		}
		add(u)
	}

	if public {
		id, err := m.publicShareKeyID(ctx)
		if err != nil {
			return nil, err
		}
		add(id)
	}

	applies, err := m.recoveryApplies(ctx, owner)
	if err != nil {
		return nil, err
	}
	if applies {
		id, err := m.recoveryKeyID(ctx)
		if err != nil {
			return nil, err
		}
		add(id)
	}
	return out, nil
}

// FilterReadyRecipients splits recipients into those that can receive a
// share key now and those still without a key pair. System recipients are
// always ready.
func (m *KeyManager) FilterReadyRecipients(ctx context.Context, recipients []string) (ready, notReady []string, err error) {
	system, err := m.systemRecipients(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range recipients {
		if system[id] {
			ready = append(ready, id)
			continue
		}
		has, err := m.UserHasKeys(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if has {
			ready = append(ready, id)
		} else {
			notReady = append(notReady, id)
		}
	}
	return ready, notReady, nil
}
