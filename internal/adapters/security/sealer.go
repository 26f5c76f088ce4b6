package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaChaSealer protects refresh tokens at rest with XChaCha20-Poly1305.
// The extended nonce is drawn fresh per Seal, so one key safely covers
// every token this instance ever writes.
type ChaChaSealer struct {
	aead cipher.AEAD
}

// NewChaChaSealer builds a sealer from a raw 32-byte key.
func NewChaChaSealer(key []byte) (*ChaChaSealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("seal key: %w", err)
	}
	return &ChaChaSealer{aead: aead}, nil
}

// NewChaChaSealerFromSecret derives the key from an operator-supplied
// secret string, so config files can carry a passphrase instead of raw key
// bytes. The same secret always yields the same key across instances.
func NewChaChaSealerFromSecret(secret string) (*ChaChaSealer, error) {
	if secret == "" {
		return nil, errors.New("seal secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	return NewChaChaSealer(key[:])
}

func (s *ChaChaSealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (s *ChaChaSealer) Open(sealed string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", errors.New("sealed value too short")
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}
