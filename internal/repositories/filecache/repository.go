// Package filecache reads and repairs the size bookkeeping of the file index.
package filecache

import "context"

type Repository interface {
	// FixEncryptedSizes sets size = unencrypted_size on every encrypted row
	// where they differ and returns the number of rows changed.
	FixEncryptedSizes(ctx context.Context) (int64, error)
	// CountSizeMismatches counts encrypted rows still needing the fix.
	CountSizeMismatches(ctx context.Context) (int64, error)
}
