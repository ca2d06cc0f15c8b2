// Package keymanager is the single API for reading and writing key
// material: user key pairs, the recovery and public-share system keys, file
// keys and per-recipient share keys. It also owns the decrypt-then-cache
// step that makes a user's private key available to the current session.
package keymanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/cryptox"
	"github.com/dmitrijs2005/gophkeys/internal/keystorage"
	"github.com/dmitrijs2005/gophkeys/internal/logging"
	"github.com/dmitrijs2005/gophkeys/internal/session"
)

// Deps are the collaborators of a KeyManager.
type Deps struct {
	Storage Storage
	Crypto  Crypto
	Config  ConfigStore
	Users   UserDirectory
	Session SessionCache
	Logger  logging.Logger
	Util    Util
}

// KeyManager reads and writes key material through a Storage backend. A
// KeyManager without a session can manage keys but cannot open file keys.
type KeyManager struct {
	storage Storage
	crypto  Crypto
	config  ConfigStore
	users   UserDirectory
	session SessionCache
	log     logging.Logger
	util    Util
}

// New builds a KeyManager from d. A nil Logger discards output.
func New(d Deps) *KeyManager {
	log := d.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &KeyManager{
		storage: d.Storage,
		crypto:  d.Crypto,
		config:  d.Config,
		users:   d.Users,
		session: d.Session,
		log:     log.With("component", "keymanager"),
		util:    d.Util,
	}
}

// WithSession returns a copy of m bound to the session of one request.
func (m *KeyManager) WithSession(s SessionCache) *KeyManager {
	c := *m
	c.session = s
	return &c
}

func publicKeyID(id string) string  { return id + "." + common.PublicKeyType }
func privateKeyID(id string) string { return id + "." + common.PrivateKeyType }
func shareKeyID(id string) string   { return id + common.ShareKeySuffix }

func notFound(what, id string) error {
	return fmt.Errorf("%s of %s: %w", what, id, common.ErrKeyNotFound)
}

// GetPublicKey returns the user's public key or common.ErrKeyNotFound.
func (m *KeyManager) GetPublicKey(ctx context.Context, uid string) ([]byte, error) {
	key, err := m.storage.GetUserKey(ctx, uid, common.PublicKeyType)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, notFound("public key", uid)
	}
	return key, nil
}

// GetPrivateKey returns the user's encrypted private key or common.ErrKeyNotFound.
func (m *KeyManager) GetPrivateKey(ctx context.Context, uid string) ([]byte, error) {
	key, err := m.storage.GetUserKey(ctx, uid, common.PrivateKeyType)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, notFound("private key", uid)
	}
	return key, nil
}

// SetPublicKey stores uid's public key.
func (m *KeyManager) SetPublicKey(ctx context.Context, uid string, key []byte) error {
	return m.storage.SetUserKey(ctx, uid, common.PublicKeyType, key)
}

// SetPrivateKey stores key as given; it must already be encrypted under the
// user's login passphrase.
func (m *KeyManager) SetPrivateKey(ctx context.Context, uid string, key []byte) error {
	return m.storage.SetUserKey(ctx, uid, common.PrivateKeyType, key)
}

// UserHasKeys is true only when both halves of the pair are present.
func (m *KeyManager) UserHasKeys(ctx context.Context, uid string) (bool, error) {
	priv, err := m.storage.GetUserKey(ctx, uid, common.PrivateKeyType)
	if err != nil {
		return false, err
	}
	pub, err := m.storage.GetUserKey(ctx, uid, common.PublicKeyType)
	if err != nil {
		return false, err
	}
	return len(priv) > 0 && len(pub) > 0, nil
}

// CreateUserKeys bootstraps a key pair for uid, protecting the private half
// with passphrase. The public half is written last so UserHasKeys never
// reports a pair whose private key is missing. An existing complete pair is
// never overwritten.
func (m *KeyManager) CreateUserKeys(ctx context.Context, uid string, passphrase []byte) error {
	if err := keystorage.ValidateKeyID(uid); err != nil {
		return err
	}
	has, err := m.UserHasKeys(ctx, uid)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%s: %w", uid, common.ErrKeysExist)
	}

	pair, err := m.crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(pair.PrivateKey)

	enc, err := m.crypto.EncryptPrivateKey(pair.PrivateKey, passphrase)
	if err != nil {
		return err
	}
	if err := m.SetPrivateKey(ctx, uid, enc); err != nil {
		return err
	}
	if err := m.SetPublicKey(ctx, uid, pair.PublicKey); err != nil {
		return errors.Join(common.ErrPartialWrite, err)
	}
	m.log.Info(ctx, "user key pair created", "user", uid, "fingerprint", m.crypto.Hash(pair.PublicKey))
	return nil
}

// Init decrypts the user's private key with passphrase and caches it in the
// session. (false, nil) means the key is missing or the passphrase is wrong:
// the login may be valid while encryption stays unusable.
func (m *KeyManager) Init(ctx context.Context, uid string, passphrase []byte) (bool, error) {
	if m.session == nil {
		return false, errors.New("no session bound")
	}
	m.session.SetStatus(session.InitExecuted)

	enc, err := m.storage.GetUserKey(ctx, uid, common.PrivateKeyType)
	if err != nil {
		return false, err
	}
	if len(enc) == 0 {
		m.log.Warn(ctx, "no private key stored", "user", uid)
		return false, nil
	}

	priv, err := m.crypto.DecryptPrivateKey(enc, passphrase)
	if errors.Is(err, common.ErrDecryptFailed) {
		m.log.Warn(ctx, "private key could not be decrypted", "user", uid)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer common.WipeByteArray(priv)

	m.session.SetPrivateKey(uid, priv)
	m.session.SetStatus(session.InitSuccessful)
	return true, nil
}

func (m *KeyManager) recoveryKeyID(ctx context.Context) (string, error) {
	return m.config.GetAppValue(ctx, common.AppID, common.RecoveryKeyIDSetting, common.DefaultRecoveryKeyID)
}

func (m *KeyManager) publicShareKeyID(ctx context.Context) (string, error) {
	return m.config.GetAppValue(ctx, common.AppID, common.PublicShareKeyIDSetting, common.DefaultPublicShareKeyID)
}

// RecoveryKeyID returns the configured recovery key id.
func (m *KeyManager) RecoveryKeyID(ctx context.Context) (string, error) {
	return m.recoveryKeyID(ctx)
}

// PublicShareKeyID returns the configured public-link share key id.
func (m *KeyManager) PublicShareKeyID(ctx context.Context) (string, error) {
	return m.publicShareKeyID(ctx)
}

// RecoveryKeyExists reports whether the recovery public key is stored.
func (m *KeyManager) RecoveryKeyExists(ctx context.Context) (bool, error) {
	id, err := m.recoveryKeyID(ctx)
	if err != nil {
		return false, err
	}
	key, err := m.storage.GetSystemUserKey(ctx, publicKeyID(id))
	if err != nil {
		return false, err
	}
	return len(key) > 0, nil
}

// CheckRecoveryPassword reports whether password decrypts the recovery
// private key. The decrypted key is wiped before returning.
func (m *KeyManager) CheckRecoveryPassword(ctx context.Context, password []byte) (bool, error) {
	id, err := m.recoveryKeyID(ctx)
	if err != nil {
		return false, err
	}
	enc, err := m.storage.GetSystemUserKey(ctx, privateKeyID(id))
	if err != nil {
		return false, err
	}
	if len(enc) == 0 {
		return false, nil
	}

	priv, err := m.crypto.DecryptPrivateKey(enc, password)
	if errors.Is(err, common.ErrDecryptFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	ok := len(priv) > 0
	common.WipeByteArray(priv)
	return ok, nil
}

// SetRecoveryKey installs a recovery key pair, encrypting the private half
// with password. The public half is removed first and written last, so after
// any partial failure RecoveryKeyExists is false and the whole call can be
// retried. A failure after the first write returns common.ErrPartialWrite.
func (m *KeyManager) SetRecoveryKey(ctx context.Context, password []byte, pair *cryptox.KeyPair) error {
	if pair == nil || len(pair.PublicKey) == 0 || len(pair.PrivateKey) == 0 {
		return errors.New("recovery key pair is incomplete")
	}
	id, err := m.recoveryKeyID(ctx)
	if err != nil {
		return err
	}

	enc, err := m.crypto.EncryptPrivateKey(pair.PrivateKey, password)
	if err != nil {
		return err
	}

	if err := m.storage.DeleteSystemUserKey(ctx, publicKeyID(id)); err != nil {
		return err
	}
	if err := m.storage.SetSystemUserKey(ctx, privateKeyID(id), enc); err != nil {
		return errors.Join(common.ErrPartialWrite, err)
	}
	if err := m.storage.SetSystemUserKey(ctx, publicKeyID(id), pair.PublicKey); err != nil {
		return errors.Join(common.ErrPartialWrite, err)
	}
	m.log.Info(ctx, "recovery key set", "key_id", id, "fingerprint", m.crypto.Hash(pair.PublicKey))
	return nil
}

// ChangeRecoveryKeyPassword re-encrypts the recovery private key.
// (false, nil) means oldPassword is wrong or there is no recovery key.
func (m *KeyManager) ChangeRecoveryKeyPassword(ctx context.Context, oldPassword, newPassword []byte) (bool, error) {
	id, err := m.recoveryKeyID(ctx)
	if err != nil {
		return false, err
	}
	enc, err := m.storage.GetSystemUserKey(ctx, privateKeyID(id))
	if err != nil {
		return false, err
	}
	if len(enc) == 0 {
		return false, nil
	}

	priv, err := m.crypto.DecryptPrivateKey(enc, oldPassword)
	if errors.Is(err, common.ErrDecryptFailed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer common.WipeByteArray(priv)

	reenc, err := m.crypto.EncryptPrivateKey(priv, newPassword)
	if err != nil {
		return false, err
	}
	if err := m.storage.SetSystemUserKey(ctx, privateKeyID(id), reenc); err != nil {
		return false, err
	}
	m.log.Info(ctx, "recovery key password changed", "key_id", id)
	return true, nil
}

// SetSystemPrivateKey stores the (already encrypted) private key of any
// system key id.
func (m *KeyManager) SetSystemPrivateKey(ctx context.Context, keyID string, key []byte) error {
	if err := keystorage.ValidateKeyID(keyID); err != nil {
		return err
	}
	return m.storage.SetSystemUserKey(ctx, privateKeyID(keyID), key)
}

// GetSystemPrivateKey returns the stored private key of keyID or
// common.ErrKeyNotFound.
func (m *KeyManager) GetSystemPrivateKey(ctx context.Context, keyID string) ([]byte, error) {
	if err := keystorage.ValidateKeyID(keyID); err != nil {
		return nil, err
	}
	key, err := m.storage.GetSystemUserKey(ctx, privateKeyID(keyID))
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, notFound("system private key", keyID)
	}
	return key, nil
}

// DeleteShareKey revokes one recipient's access to a file without touching
// the file key or other recipients.
func (m *KeyManager) DeleteShareKey(ctx context.Context, path, keyID string) error {
	if err := keystorage.ValidateKeyID(keyID); err != nil {
		return err
	}
	return m.storage.DeleteFileKey(ctx, path, shareKeyID(keyID))
}

// RecoveryEnabledForUser reports the user's recovery opt-in.
func (m *KeyManager) RecoveryEnabledForUser(ctx context.Context, uid string) (bool, error) {
	return m.util.RecoveryEnabledForUser(ctx, uid)
}

// SetRecoveryForUser records uid's recovery opt-in, then adds or removes the
// recovery share keys of uid's files to match. Enabling for a user who owns
// files needs uid's private key in the bound session; without it nothing is
// changed.
func (m *KeyManager) SetRecoveryForUser(ctx context.Context, uid string, enabled bool) (*RecoveryReport, error) {
	if enabled {
		files, err := m.storage.ListKeyedFiles(ctx, uid)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			if err := m.requireSessionKey(uid); err != nil {
				return nil, err
			}
		}
	}
	if err := m.util.SetRecoveryForUser(ctx, uid, enabled); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "recovery opt-in changed", "user", uid, "enabled", enabled)
	if enabled {
		return m.AddRecoveryKeys(ctx, uid)
	}
	return m.RemoveRecoveryKeys(ctx, uid)
}

// DeleteUserKeys removes uid's key pair. The public half goes first so a
// failure in between never leaves a pair that UserHasKeys reports as usable.
func (m *KeyManager) DeleteUserKeys(ctx context.Context, uid string) error {
	if err := keystorage.ValidateKeyID(uid); err != nil {
		return err
	}
	if err := m.storage.DeleteUserKey(ctx, uid, common.PublicKeyType); err != nil {
		return err
	}
	if err := m.storage.DeleteUserKey(ctx, uid, common.PrivateKeyType); err != nil {
		return errors.Join(common.ErrPartialWrite, err)
	}
	m.log.Info(ctx, "user key pair deleted", "user", uid)
	return nil
}
