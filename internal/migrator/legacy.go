package migrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/storage/view"
)

// Legacy per-user layout:
//
//	/<uid>/files_encryption/<uid>.private.key
//	/public-keys/<uid>.public.key
//	/<uid>/files_encryption/keyfiles/<path>.key
//	/<uid>/files_encryption/share-keys/<path>.<recipient>.shareKey
const (
	legacyKeyfilesDir  = "keyfiles"
	legacyShareKeysDir = "share-keys"
	legacyPublicKeyDir = "/public-keys"
	legacyKeySuffix    = ".key"
)

// Result counts what one Migrate call did.
type Result struct {
	Written   int
	Unchanged int
	Skipped   int
}

func legacyEncryptionDir(uid string) string {
	return path.Join("/", uid, common.LegacyAppID)
}

func legacyPrivateKeyPath(uid string) string {
	return path.Join(legacyEncryptionDir(uid), uid+".private.key")
}

func legacyPublicKeyPath(uid string) string {
	return path.Join(legacyPublicKeyDir, uid+".public.key")
}

// Migrate copies every legacy key of uid into the key store. Keys already
// present with identical content are left alone, so the call can be
// repeated after an interruption.
func (m *Migrator) Migrate(ctx context.Context, uid string) (Result, error) {
	var res Result

	if err := m.migrateUserKey(ctx, uid, legacyPrivateKeyPath(uid), common.PrivateKeyType, &res); err != nil {
		return res, err
	}
	if err := m.migrateUserKey(ctx, uid, legacyPublicKeyPath(uid), common.PublicKeyType, &res); err != nil {
		return res, err
	}

	// dir -> file names that have a file key
	known := make(map[string]map[string]bool)
	keyfiles := path.Join(legacyEncryptionDir(uid), legacyKeyfilesDir)
	err := m.walk(ctx, keyfiles, "", func(dir, name string) error {
		if !strings.HasSuffix(name, legacyKeySuffix) {
			res.Skipped++
			return nil
		}
		file := strings.TrimSuffix(name, legacyKeySuffix)
		if known[dir] == nil {
			known[dir] = make(map[string]bool)
		}
		known[dir][file] = true

		data, err := m.legacy.ReadFile(ctx, path.Join(keyfiles, dir, name))
		if err != nil {
			return err
		}
		return m.copyFileKey(ctx, filePath(uid, dir, file), common.FileKeyName, data, &res)
	})
	if err != nil {
		return res, fmt.Errorf("file keys: %w", err)
	}

	shareKeys := path.Join(legacyEncryptionDir(uid), legacyShareKeysDir)
	err = m.walk(ctx, shareKeys, "", func(dir, name string) error {
		file, recipient, ok := splitShareKeyName(name, known[dir])
		if !ok {
			m.log.Warn(ctx, "share key without file key", "user", uid, "path", path.Join(dir, name))
			res.Skipped++
			return nil
		}
		data, err := m.legacy.ReadFile(ctx, path.Join(shareKeys, dir, name))
		if err != nil {
			return err
		}
		err = m.copyFileKey(ctx, filePath(uid, dir, file), recipient+common.ShareKeySuffix, data, &res)
		if errors.Is(err, common.ErrInvalidKeyID) {
			m.log.Warn(ctx, "share key with invalid recipient", "user", uid, "path", path.Join(dir, name))
			res.Skipped++
			return nil
		}
		return err
	})
	if err != nil {
		return res, fmt.Errorf("share keys: %w", err)
	}
	return res, nil
}

func filePath(uid, dir, file string) string {
	return path.Join("/", uid, "files", dir, file)
}

// splitShareKeyName splits "<file>.<recipient>.shareKey" using the file
// names known to have a file key in the same directory. The longest known
// name wins so recipients containing dots survive intact.
func splitShareKeyName(name string, known map[string]bool) (file, recipient string, ok bool) {
	stem, found := strings.CutSuffix(name, common.ShareKeySuffix)
	if !found {
		return "", "", false
	}
	for f := range known {
		if len(f) <= len(file) || !strings.HasPrefix(stem, f+".") || len(stem) == len(f)+1 {
			continue
		}
		file = f
	}
	if file == "" {
		return "", "", false
	}
	return file, stem[len(file)+1:], true
}

func (m *Migrator) migrateUserKey(ctx context.Context, uid, src, keyType string, res *Result) error {
	data, err := m.legacy.ReadFile(ctx, src)
	if view.IsNotExist(err) {
		m.log.Debug(ctx, "no legacy key", "user", uid, "type", keyType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	current, err := m.keys.GetUserKey(ctx, uid, keyType)
	if err != nil {
		return err
	}
	if bytes.Equal(current, data) {
		res.Unchanged++
		return nil
	}
	if err := m.keys.SetUserKey(ctx, uid, keyType, data); err != nil {
		return err
	}
	res.Written++
	return nil
}

func (m *Migrator) copyFileKey(ctx context.Context, file, keyID string, data []byte, res *Result) error {
	current, err := m.keys.GetFileKey(ctx, file, keyID)
	if err != nil {
		return err
	}
	if bytes.Equal(current, data) {
		res.Unchanged++
		return nil
	}
	if err := m.keys.SetFileKey(ctx, file, keyID, data); err != nil {
		return err
	}
	res.Written++
	return nil
}

// walk calls fn for every regular file below root with its directory
// relative to root. A missing root is an empty tree.
func (m *Migrator) walk(ctx context.Context, root, rel string, fn func(dir, name string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := m.legacy.ReadDir(ctx, path.Join(root, rel))
	if view.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			if err := m.walk(ctx, root, path.Join(rel, e.Name), fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(rel, e.Name); err != nil {
			return err
		}
	}
	return nil
}

// cleanup removes the legacy files of a completed migration. Failures only
// leave garbage behind and are logged.
func (m *Migrator) cleanup(ctx context.Context, uid string) {
	dirs := []string{
		path.Join(legacyEncryptionDir(uid), legacyKeyfilesDir),
		path.Join(legacyEncryptionDir(uid), legacyShareKeysDir),
	}
	for _, d := range dirs {
		ok, err := m.legacy.IsDir(ctx, d)
		if err == nil && ok {
			err = m.legacy.RemoveAll(ctx, d)
		}
		if err != nil {
			m.log.Warn(ctx, "could not remove legacy keys", "user", uid, "path", d, "error", err)
		}
	}
	for _, f := range []string{legacyPrivateKeyPath(uid), legacyPublicKeyPath(uid)} {
		if err := m.legacy.Remove(ctx, f); err != nil && !view.IsNotExist(err) {
			m.log.Warn(ctx, "could not remove legacy key", "user", uid, "path", f, "error", err)
		}
	}
}
