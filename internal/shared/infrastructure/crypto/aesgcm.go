package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// sealedPrefix marks stored values produced by AESSealer.
const sealedPrefix = "enc:v1:"

var (
	ErrEmptyKey         = errors.New("encryption key is empty")
	ErrInvalidKeyLength = errors.New("encryption key must be 32 bytes")
	ErrCiphertextShort  = errors.New("ciphertext too short")
)

// Sealer protects stored credential references such as gateway card tokens.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

// AESSealer uses AES-256-GCM with a random nonce prepended to the ciphertext.
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealerFromBase64Key creates an AESSealer from a base64-encoded 32-byte key.
func NewAESSealerFromBase64Key(encodedKey string) (*AESSealer, error) {
	if encodedKey == "" {
		return nil, ErrEmptyKey
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &AESSealer{aead: aead}, nil
}

// Seal encrypts plaintext into a prefixed base64 string. Empty input stays empty.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the prefix were stored before sealing
// was enabled and are returned unchanged.
func (s *AESSealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", err
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrCiphertextShort
	}
	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// PlainSealer stores values as-is. It is used when no key is configured.
type PlainSealer struct{}

func (PlainSealer) Seal(plaintext string) (string, error) { return plaintext, nil }
func (PlainSealer) Open(stored string) (string, error)    { return stored, nil }
