package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrSealKeyMissing is returned when no sealing key is configured
var ErrSealKeyMissing = errors.New("sealing key is not configured")

// Sealer encrypts the backend API token before it is written to the local
// cache. The key is derived from a machine-local secret; a copied cache
// file without that secret yields no usable token.
type Sealer struct {
	key []byte
}

// NewSealer derives an AES-256 key from the given secret
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, ErrSealKeyMissing
	}
	sum := sha256.Sum256([]byte(secret))
	return &Sealer{key: sum[:]}, nil
}

// Seal encrypts plaintext with AES-GCM. The nonce is prepended to the
// ciphertext and the whole blob base64-encoded for storage in a text column.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal reverses Seal. A wrong key or tampered blob fails authentication.
func (s *Sealer) Unseal(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding sealed token: %w", err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(blob) < gcm.NonceSize() {
		return "", errors.New("sealed token too short")
	}

	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("unsealing failed: wrong key or corrupted data")
	}
	return string(plaintext), nil
}
