package keymanager

import (
	"context"

	"github.com/dmitrijs2005/gophkeys/internal/cryptox"
	"github.com/dmitrijs2005/gophkeys/internal/session"
)

// Storage is the key storage backend. Getters return (nil, nil) for an
// absent key.
type Storage interface {
	GetUserKey(ctx context.Context, uid, keyType string) ([]byte, error)
	SetUserKey(ctx context.Context, uid, keyType string, data []byte) error
	GetSystemUserKey(ctx context.Context, keyID string) ([]byte, error)
	SetSystemUserKey(ctx context.Context, keyID string, data []byte) error
	DeleteSystemUserKey(ctx context.Context, keyID string) error
	GetFileKey(ctx context.Context, path, keyID string) ([]byte, error)
	SetFileKey(ctx context.Context, path, keyID string, data []byte) error
	DeleteFileKey(ctx context.Context, path, keyID string) error
	DeleteAllFileKeys(ctx context.Context, path string) error
	DeleteUserKey(ctx context.Context, uid, keyType string) error
	ListFileKeyIDs(ctx context.Context, path string) ([]string, error)
	ListKeyedFiles(ctx context.Context, uid string) ([]string, error)
	RenameKeys(ctx context.Context, src, dst string) error
	CopyKeys(ctx context.Context, src, dst string) error
}

// Crypto is the subset of cryptox.Crypt the key manager uses.
type Crypto interface {
	GenerateKeyPair() (*cryptox.KeyPair, error)
	EncryptPrivateKey(privateKey, passphrase []byte) ([]byte, error)
	DecryptPrivateKey(encrypted, passphrase []byte) ([]byte, error)
	MultiKeyEncrypt(data []byte, publicKeys map[string][]byte) ([]byte, map[string][]byte, error)
	MultiKeyDecrypt(data, shareKey, privateKey []byte) ([]byte, error)
	Hash(data []byte) string
}

// ConfigStore reads application settings.
type ConfigStore interface {
	GetAppValue(ctx context.Context, app, key, def string) (string, error)
}

// UserDirectory tells whether a user account exists.
type UserDirectory interface {
	UserExists(ctx context.Context, uid string) (bool, error)
}

// SessionCache holds the decrypted private key of the current login.
type SessionCache interface {
	SetPrivateKey(uid string, key []byte)
	PrivateKey(uid string) ([]byte, error)
	SetStatus(st session.InitState)
	Status() session.InitState
}

// Util answers per-user policy questions kept outside key storage.
type Util interface {
	RecoveryEnabledForUser(ctx context.Context, uid string) (bool, error)
	SetRecoveryForUser(ctx context.Context, uid string, enabled bool) error
}
