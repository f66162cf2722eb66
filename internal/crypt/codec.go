// Package crypt is the field codec for sensitive columns (chat handles,
// cycle history blobs). Storage encrypts on write and decrypts on read; a
// decrypt failure means "data unavailable for this user", never a sweep abort.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDataUnavailable wraps any decode/decrypt failure so callers can treat
// all of them as a single skip reason.
var ErrDataUnavailable = errors.New("field data unavailable")

type Codec struct {
	aead cipher.AEAD
}

// New builds a codec from a hex-encoded 32-byte key (AES-256-GCM).
// An empty key yields a pass-through codec for dev setups.
func New(hexKey string) (*Codec, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return &Codec{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypt key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypt key: need 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Enabled reports whether fields are actually encrypted.
func (c *Codec) Enabled() bool { return c != nil && c.aead != nil }

// Encrypt returns base64(nonce || ciphertext), or the plaintext unchanged
// for a pass-through codec.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt inverts Encrypt. Every failure mode maps to ErrDataUnavailable.
func (c *Codec) Decrypt(blob string) (string, error) {
	if !c.Enabled() {
		return blob, nil
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: blob too short", ErrDataUnavailable)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	return string(plain), nil
}
