package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"golang.org/x/crypto/hkdf"
)

const oaepLabel = "share-key"

// GenerateKeyPair creates an RSA key pair encoded as PEM.
func (c *Crypt) GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, c.keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(der)

	pubDer, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		PublicKey:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDer}),
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}),
	}, nil
}

// MultiKeyEncrypt seals data under a random envelope key and wraps that key
// once per recipient public key. The returned map holds one share key per
// recipient id.
func (c *Crypt) MultiKeyEncrypt(data []byte, publicKeys map[string][]byte) ([]byte, map[string][]byte, error) {
	if len(publicKeys) == 0 {
		return nil, nil, errors.New("no recipients")
	}

	envelope := make([]byte, keySize)
	if _, err := io.ReadFull(randReader, envelope); err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(envelope)

	sealed, err := c.sealEnvelope(envelope, data)
	if err != nil {
		return nil, nil, err
	}

	shareKeys := make(map[string][]byte, len(publicKeys))
	for id, pemBytes := range publicKeys {
		pub, err := parsePublicKey(pemBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("public key of %s: %w", id, err)
		}
		wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, envelope, []byte(oaepLabel))
		if err != nil {
			return nil, nil, fmt.Errorf("wrap for %s: %w", id, err)
		}
		shareKeys[id] = wrapped
	}
	return sealed, shareKeys, nil
}

// MultiKeyDecrypt unwraps shareKey with the PEM private key and opens data.
func (c *Crypt) MultiKeyDecrypt(data []byte, shareKey []byte, privateKey []byte) ([]byte, error) {
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	envelope, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, shareKey, []byte(oaepLabel))
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	defer common.WipeByteArray(envelope)

	return openEnvelope(envelope, data)
}

// sealEnvelope layout: cipher id (1) | nonce | ciphertext+tag. The AEAD key
// is an HKDF subkey of the envelope key so the wrapped value is never used
// directly as a cipher key.
func (c *Crypt) sealEnvelope(envelope, data []byte) ([]byte, error) {
	key, err := envelopeSubkey(envelope)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	aead, err := c.cipher.newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, err
	}
	out := append([]byte{c.cipher.id}, nonce...)
	return aead.Seal(out, nonce, data, []byte{c.cipher.id}), nil
}

func openEnvelope(envelope, blob []byte) ([]byte, error) {
	if len(blob) < 1 {
		return nil, common.ErrDecryptFailed
	}
	ac, ok := cipherByID(blob[0])
	if !ok {
		return nil, common.ErrDecryptFailed
	}
	key, err := envelopeSubkey(envelope)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	aead, err := ac.newAEAD(key)
	if err != nil {
		return nil, err
	}
	rest := blob[1:]
	if len(rest) < aead.NonceSize()+aead.Overhead() {
		return nil, common.ErrDecryptFailed
	}
	plain, err := aead.Open(nil, rest[:aead.NonceSize()], rest[aead.NonceSize():], blob[:1])
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	return plain, nil
}

func envelopeSubkey(envelope []byte) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, envelope, nil, []byte(envelopeInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("invalid public key encoding")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaKey, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, errors.New("invalid private key encoding")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}
