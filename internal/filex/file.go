package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirPerm is the mode used for directories under the data root.
const DirPerm = 0o750

// EnsureDir resolves dir to an absolute path, creating it and any missing
// parents. Relative paths are taken from the working directory.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, DirPerm); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
