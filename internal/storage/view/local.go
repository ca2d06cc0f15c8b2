package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/gophkeys/internal/filex"
)

const (
	dirPerm  = filex.DirPerm
	filePerm = 0o600
)

// Local is a View over a directory on the host filesystem.
type Local struct {
	root string
}

// NewLocal returns a Local rooted at root, creating it if needed.
func NewLocal(root string) (*Local, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) abs(p string) (string, error) {
	clean, err := Clean(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

func (l *Local) Mkdir(_ context.Context, p string) error {
	a, err := l.abs(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(a, dirPerm)
}

func (l *Local) FileExists(_ context.Context, p string) (bool, error) {
	a, err := l.abs(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(a)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (l *Local) IsDir(_ context.Context, p string) (bool, error) {
	a, err := l.abs(p)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(a)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return fi.IsDir(), nil
}

func (l *Local) ReadFile(_ context.Context, p string) ([]byte, error) {
	a, err := l.abs(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(a)
}

// WriteFile writes data atomically: a temp file in the same directory is
// renamed over the target, so readers never observe a truncated key.
func (l *Local) WriteFile(_ context.Context, p string, data []byte) error {
	a, err := l.abs(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(a)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, a)
}

func (l *Local) Rename(_ context.Context, src, dst string) error {
	as, err := l.abs(src)
	if err != nil {
		return err
	}
	ad, err := l.abs(dst)
	if err != nil {
		return err
	}
	return os.Rename(as, ad)
}

func (l *Local) ReadDir(_ context.Context, p string) ([]Entry, error) {
	a, err := l.abs(p)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(a)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		out = append(out, Entry{Name: de.Name(), IsDir: de.IsDir()})
	}
	return out, nil
}

func (l *Local) Remove(_ context.Context, p string) error {
	a, err := l.abs(p)
	if err != nil {
		return err
	}
	return os.Remove(a)
}

func (l *Local) RemoveAll(_ context.Context, p string) error {
	a, err := l.abs(p)
	if err != nil {
		return err
	}
	if a == l.root {
		return fmt.Errorf("refusing to remove the data root")
	}
	return os.RemoveAll(a)
}

// Copy copies a file or a directory tree. The destination must not exist.
func (l *Local) Copy(ctx context.Context, src, dst string) error {
	as, err := l.abs(src)
	if err != nil {
		return err
	}
	ad, err := l.abs(dst)
	if err != nil {
		return err
	}
	return filepath.WalkDir(as, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(as, p)
		if err != nil {
			return err
		}
		target := filepath.Join(ad, rel)
		if d.IsDir() {
			return os.MkdirAll(target, dirPerm)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
