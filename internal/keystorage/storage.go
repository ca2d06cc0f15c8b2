// Package keystorage stores key material as files in a view.View using the
// module-namespaced layout:
//
//	/<uid>/files_encryption/<moduleId>/<uid>.<keyType>
//	/<uid>/files_encryption/keys/<root>/<path>/<moduleId>/<keyId>
//	/files_encryption/keys/<mount>/<path>/<moduleId>/<keyId>   (system-wide mounts)
//	/files_encryption/<moduleId>/<keyId>                       (system keys)
//
// Getters return (nil, nil) for an absent key.
package keystorage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/storage/view"
)

const encryptionDir = "files_encryption"

// Storage is the KeyStorageBackend over a view.View.
type Storage struct {
	view          view.View
	moduleID      string
	isSystemMount func(string) bool
}

// New returns a Storage writing under moduleID. isSystemMount reports
// whether a top-level folder of a user's files is a system-wide mount point;
// nil means there are none.
func New(v view.View, moduleID string, isSystemMount func(string) bool) *Storage {
	if isSystemMount == nil {
		isSystemMount = func(string) bool { return false }
	}
	return &Storage{view: v, moduleID: moduleID, isSystemMount: isSystemMount}
}

// ModuleID returns the module id the storage writes under.
func (s *Storage) ModuleID() string {
	return s.moduleID
}

// ValidateKeyID rejects ids that could escape their key directory.
func ValidateKeyID(id string) error {
	if id == "" || id == "." || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", common.ErrInvalidKeyID, id)
	}
	return nil
}

// UserKeyPath returns the location of a user's key of the given type.
func (s *Storage) UserKeyPath(uid, keyType string) (string, error) {
	if err := ValidateKeyID(uid); err != nil {
		return "", err
	}
	if err := ValidateKeyID(keyType); err != nil {
		return "", err
	}
	return path.Join("/", uid, encryptionDir, s.moduleID, uid+"."+keyType), nil
}

// SystemKeyPath returns the location of a system key such as "recovery_id.publicKey".
func (s *Storage) SystemKeyPath(keyID string) (string, error) {
	if err := ValidateKeyID(keyID); err != nil {
		return "", err
	}
	return path.Join("/", encryptionDir, s.moduleID, keyID), nil
}

// FileKeyDir maps a file path "/<uid>/<root>/<rel>" to its key directory.
func (s *Storage) FileKeyDir(filePath string) (string, error) {
	clean, err := view.Clean(filePath)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(strings.TrimPrefix(clean, "/"), "/", 3)
	if len(parts) < 3 || parts[0] == "" {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidPath, filePath)
	}
	uid, root, rel := parts[0], parts[1], parts[2]

	if root == "files" && s.isSystemMount(strings.SplitN(rel, "/", 2)[0]) {
		return path.Join("/", encryptionDir, "keys", rel, s.moduleID), nil
	}
	return path.Join("/", uid, encryptionDir, "keys", root, rel, s.moduleID), nil
}

func (s *Storage) fileKeyPath(filePath, keyID string) (string, error) {
	if err := ValidateKeyID(keyID); err != nil {
		return "", err
	}
	dir, err := s.FileKeyDir(filePath)
	if err != nil {
		return "", err
	}
	return path.Join(dir, keyID), nil
}

func (s *Storage) read(ctx context.Context, p string) ([]byte, error) {
	data, err := s.view.ReadFile(ctx, p)
	if err != nil {
		if view.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read key %s: %w", p, err)
	}
	return data, nil
}

func (s *Storage) write(ctx context.Context, p string, data []byte) error {
	if err := s.view.WriteFile(ctx, p, data); err != nil {
		return fmt.Errorf("write key %s: %w", p, err)
	}
	return nil
}

func (s *Storage) remove(ctx context.Context, p string) error {
	if err := s.view.Remove(ctx, p); err != nil && !view.IsNotExist(err) {
		return fmt.Errorf("delete key %s: %w", p, err)
	}
	return nil
}

// GetUserKey returns a key of uid, or nil when it is not stored.
func (s *Storage) GetUserKey(ctx context.Context, uid, keyType string) ([]byte, error) {
	p, err := s.UserKeyPath(uid, keyType)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, p)
}

// SetUserKey writes a key of uid, replacing any previous one.
func (s *Storage) SetUserKey(ctx context.Context, uid, keyType string, data []byte) error {
	p, err := s.UserKeyPath(uid, keyType)
	if err != nil {
		return err
	}
	return s.write(ctx, p, data)
}

// DeleteUserKey removes a key of uid. Deleting an absent key succeeds.
func (s *Storage) DeleteUserKey(ctx context.Context, uid, keyType string) error {
	p, err := s.UserKeyPath(uid, keyType)
	if err != nil {
		return err
	}
	return s.remove(ctx, p)
}

// GetSystemUserKey returns a system key, or nil when it is not stored.
func (s *Storage) GetSystemUserKey(ctx context.Context, keyID string) ([]byte, error) {
	p, err := s.SystemKeyPath(keyID)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, p)
}

// SetSystemUserKey writes a system key such as the recovery or public-share
// key.
func (s *Storage) SetSystemUserKey(ctx context.Context, keyID string, data []byte) error {
	p, err := s.SystemKeyPath(keyID)
	if err != nil {
		return err
	}
	return s.write(ctx, p, data)
}

func (s *Storage) DeleteSystemUserKey(ctx context.Context, keyID string) error {
	p, err := s.SystemKeyPath(keyID)
	if err != nil {
		return err
	}
	return s.remove(ctx, p)
}

// GetFileKey returns one key of a file, or nil when it is not stored.
func (s *Storage) GetFileKey(ctx context.Context, filePath, keyID string) ([]byte, error) {
	p, err := s.fileKeyPath(filePath, keyID)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, p)
}

// SetFileKey writes one key of a file, creating its key directory.
func (s *Storage) SetFileKey(ctx context.Context, filePath, keyID string, data []byte) error {
	p, err := s.fileKeyPath(filePath, keyID)
	if err != nil {
		return err
	}
	return s.write(ctx, p, data)
}

// DeleteFileKey removes one key of a file. Deleting an absent key succeeds.
func (s *Storage) DeleteFileKey(ctx context.Context, filePath, keyID string) error {
	p, err := s.fileKeyPath(filePath, keyID)
	if err != nil {
		return err
	}
	return s.remove(ctx, p)
}

// DeleteAllFileKeys removes the file key and every share key of a file.
func (s *Storage) DeleteAllFileKeys(ctx context.Context, filePath string) error {
	dir, err := s.FileKeyDir(filePath)
	if err != nil {
		return err
	}
	ok, err := s.view.IsDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !ok {
		return nil
	}
	if err := s.view.RemoveAll(ctx, dir); err != nil {
		return fmt.Errorf("delete keys %s: %w", dir, err)
	}
	return nil
}

// ListFileKeyIDs returns the key ids stored for a file ("fileKey",
// "<recipient>.shareKey", ...). A file without keys yields an empty list.
func (s *Storage) ListFileKeyIDs(ctx context.Context, filePath string) ([]string, error) {
	dir, err := s.FileKeyDir(filePath)
	if err != nil {
		return nil, err
	}
	entries, err := s.view.ReadDir(ctx, dir)
	if err != nil {
		if view.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys %s: %w", dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			ids = append(ids, e.Name)
		}
	}
	return ids, nil
}

// ListKeyedFiles returns the paths "/<uid>/files/<rel>" of every file of
// uid that has keys stored under the module, in walk order. Files on
// system-wide mounts are not included.
func (s *Storage) ListKeyedFiles(ctx context.Context, uid string) ([]string, error) {
	if err := ValidateKeyID(uid); err != nil {
		return nil, err
	}
	base := path.Join("/", uid, encryptionDir, "keys", "files")

	var out []string
	var walk func(rel string) error
	walk = func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := path.Join(base, rel)
		entries, err := s.view.ReadDir(ctx, dir)
		if err != nil {
			if view.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("list keys %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir {
				continue
			}
			if e.Name == s.moduleID && rel != "" {
				out = append(out, path.Join("/", uid, "files", rel))
				continue
			}
			if err := walk(path.Join(rel, e.Name)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

// RenameKeys moves all keys of src to dst, following a file move.
func (s *Storage) RenameKeys(ctx context.Context, src, dst string) error {
	return s.relocate(ctx, src, dst, s.view.Rename)
}

// CopyKeys duplicates all keys of src for dst, following a file copy.
func (s *Storage) CopyKeys(ctx context.Context, src, dst string) error {
	return s.relocate(ctx, src, dst, s.view.Copy)
}

func (s *Storage) relocate(ctx context.Context, src, dst string, op func(context.Context, string, string) error) error {
	srcDir, err := s.FileKeyDir(src)
	if err != nil {
		return err
	}
	dstDir, err := s.FileKeyDir(dst)
	if err != nil {
		return err
	}
	ok, err := s.view.IsDir(ctx, srcDir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("keys of %s: %w", src, common.ErrKeyNotFound)
	}
	if err := s.view.Mkdir(ctx, path.Dir(dstDir)); err != nil {
		return err
	}
	if err := op(ctx, srcDir, dstDir); err != nil {
		return fmt.Errorf("relocate keys %s -> %s: %w", srcDir, dstDir, err)
	}
	return nil
}
