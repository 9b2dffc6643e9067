// Package seal encrypts small secrets at rest with AES-256-GCM. Used for
// TOTP secrets: the durable store only ever sees ciphertext, and plaintext
// exists only for the duration of a verification call.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const nonceSize = 12

// Cipher seals and opens values under a fixed 32-byte key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds the AEAD. The key must be exactly 32 bytes; the secret
// guard enforces that upstream.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal returns nonce || ciphertext || tag.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty plaintext")
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses [Cipher.Seal].
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, errors.New("sealed data too short")
	}
	return c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
}
