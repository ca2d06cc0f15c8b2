// Package cryptox implements the cryptographic primitives used by the key
// manager: RSA key pairs, passphrase-protected private keys (argon2id +
// AEAD) and multi-recipient file-key envelopes (RSA-OAEP share keys).
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	saltSize     = 16
	keySize      = 32
	envelopeInfo = "gophkeys file key envelope"
	defaultBits  = 2048
)

// randReader is a seam for tests of the availability check.
var randReader io.Reader = rand.Reader

// KeyPair is a freshly generated key pair. PublicKey is PKIX PEM and
// PrivateKey is unencrypted PKCS#8 PEM; callers must encrypt PrivateKey
// before persisting it.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// Crypt is the CryptoProvider implementation. It is stateless apart from the
// configured cipher and RSA key size, and safe for concurrent use.
type Crypt struct {
	cipher  aeadCipher
	keyBits int
}

// Option configures a Crypt.
type Option func(*Crypt)

// WithKeyBits sets the RSA modulus size for generated key pairs.
func WithKeyBits(bits int) Option {
	return func(c *Crypt) { c.keyBits = bits }
}

// New returns a Crypt using the named cipher for newly written ciphertext.
// Existing ciphertext is always decrypted with the cipher recorded in its
// header, so switching ciphers does not strand old keys.
func New(cipherName string, opts ...Option) (*Crypt, error) {
	ac, ok := cipherByName(cipherName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedCipher, cipherName)
	}
	c := &Crypt{cipher: ac, keyBits: defaultBits}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CipherName returns the configured cipher name.
func (c *Crypt) CipherName() string {
	return c.cipher.name
}

// DeriveKey stretches a passphrase into a 32-byte key with argon2id.
func DeriveKey(passphrase []byte, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// SymmetricEncrypt encrypts data under a passphrase.
//
// Output layout: cipher id (1 byte) | salt (16) | nonce | ciphertext+tag.
func (c *Crypt) SymmetricEncrypt(data []byte, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return nil, err
	}

	key := DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	aead, err := c.cipher.newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+saltSize+len(nonce)+len(data)+aead.Overhead())
	out = append(out, c.cipher.id)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, data, []byte{c.cipher.id})
	return out, nil
}

// SymmetricDecrypt reverses SymmetricEncrypt. A wrong passphrase and a
// corrupted blob both yield common.ErrDecryptFailed.
func (c *Crypt) SymmetricDecrypt(blob []byte, passphrase []byte) ([]byte, error) {
	if len(blob) < 1+saltSize {
		return nil, common.ErrDecryptFailed
	}
	ac, ok := cipherByID(blob[0])
	if !ok {
		return nil, common.ErrDecryptFailed
	}

	salt := blob[1 : 1+saltSize]
	key := DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	aead, err := ac.newAEAD(key)
	if err != nil {
		return nil, err
	}

	rest := blob[1+saltSize:]
	if len(rest) < aead.NonceSize()+aead.Overhead() {
		return nil, common.ErrDecryptFailed
	}
	nonce, ct := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ct, blob[:1])
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	return plain, nil
}

// EncryptPrivateKey protects a PEM private key with the owner's passphrase.
func (c *Crypt) EncryptPrivateKey(privateKey []byte, passphrase []byte) ([]byte, error) {
	return c.SymmetricEncrypt(privateKey, passphrase)
}

// DecryptPrivateKey returns the PEM private key or common.ErrDecryptFailed.
// The result is additionally checked to be a parseable private key so a
// lucky tag collision never passes as success.
func (c *Crypt) DecryptPrivateKey(encrypted []byte, passphrase []byte) ([]byte, error) {
	plain, err := c.SymmetricDecrypt(encrypted, passphrase)
	if err != nil {
		return nil, err
	}
	if _, err := parsePrivateKey(plain); err != nil {
		common.WipeByteArray(plain)
		return nil, common.ErrDecryptFailed
	}
	return plain, nil
}

// Hash returns the hex SHA-256 of data.
func (c *Crypt) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// KeyGenerationAvailable exercises the random source and cipher construction
// needed by GenerateKeyPair and SymmetricEncrypt without generating a key.
func (c *Crypt) KeyGenerationAvailable() error {
	sample := make([]byte, keySize)
	if _, err := io.ReadFull(randReader, sample); err != nil {
		return fmt.Errorf("random source unavailable: %w", err)
	}
	if _, err := c.cipher.newAEAD(sample); err != nil {
		return fmt.Errorf("cipher %s unavailable: %w", c.cipher.name, err)
	}
	return nil
}
