package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Key lookup and validation errors.
	ErrKeyNotFound  = errors.New("key not found")
	ErrInvalidKeyID = errors.New("invalid key id")
	ErrInvalidPath  = errors.New("invalid key path")
	ErrKeysExist    = errors.New("user already has a key pair")

	// Cryptographic errors. ErrDecryptFailed covers both a wrong passphrase
	// and corrupted ciphertext; AEAD open does not tell them apart.
	ErrDecryptFailed     = errors.New("decryption failed")
	ErrUnsupportedCipher = errors.New("unsupported cipher")

	// Write errors.
	ErrPartialWrite = errors.New("partial write, retry the whole operation")

	// Migration errors.
	ErrStatusConflict = errors.New("migration status changed concurrently")

	// Startup gate.
	ErrRequirementsNotMet = errors.New("encryption requirements not met")
)
