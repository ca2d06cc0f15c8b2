package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

type aeadCipher struct {
	id      byte
	name    string
	newAEAD func(key []byte) (cipher.AEAD, error)
}

var ciphers = []aeadCipher{
	{id: 1, name: "AES-256-GCM", newAEAD: newAESGCM},
	{id: 2, name: "CHACHA20-POLY1305", newAEAD: chacha20poly1305.New},
	{id: 3, name: "XCHACHA20-POLY1305", newAEAD: chacha20poly1305.NewX},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SupportedCiphers lists the cipher names accepted by New.
func SupportedCiphers() []string {
	names := make([]string, 0, len(ciphers))
	for _, c := range ciphers {
		names = append(names, c.name)
	}
	return names
}

// IsSupportedCipher reports whether name (case-insensitive) is known.
func IsSupportedCipher(name string) bool {
	_, ok := cipherByName(name)
	return ok
}

func cipherByName(name string) (aeadCipher, bool) {
	for _, c := range ciphers {
		if strings.EqualFold(c.name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return aeadCipher{}, false
}

func cipherByID(id byte) (aeadCipher, bool) {
	for _, c := range ciphers {
		if c.id == id {
			return c, true
		}
	}
	return aeadCipher{}, false
}
