// Package view provides path-addressed file access over the data directory.
// Paths are slash separated and rooted at the data directory, for example
// "/alice/files_encryption/keys". Two implementations exist: Local over the
// host filesystem and S3 over an object store bucket.
package view

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophkeys/internal/common"
)

// ErrNotExist is returned (wrapped) when a path does not exist.
var ErrNotExist = fs.ErrNotExist

// Entry is one child of a directory.
type Entry struct {
	Name  string
	IsDir bool
}

// View is the raw file access used by the key storage and the structural
// migration. Directory semantics follow a POSIX filesystem: Rename requires
// the destination's parent to exist and Mkdir creates all missing parents.
type View interface {
	Mkdir(ctx context.Context, p string) error
	FileExists(ctx context.Context, p string) (bool, error)
	IsDir(ctx context.Context, p string) (bool, error)
	ReadFile(ctx context.Context, p string) ([]byte, error)
	WriteFile(ctx context.Context, p string, data []byte) error
	Rename(ctx context.Context, src, dst string) error
	ReadDir(ctx context.Context, p string) ([]Entry, error)
	Remove(ctx context.Context, p string) error
	RemoveAll(ctx context.Context, p string) error
	Copy(ctx context.Context, src, dst string) error
}

// Clean normalises p into a rooted slash path and rejects paths that try to
// climb above the root.
func Clean(p string) (string, error) {
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidPath, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", common.ErrInvalidPath, p)
		}
	}
	return path.Clean("/" + p), nil
}

// IsNotExist reports whether err means a missing path.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
