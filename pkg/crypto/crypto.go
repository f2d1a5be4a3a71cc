// Package crypto seals tokens at rest and derives the keys that do it.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SaltSize is the argon2 salt length stored alongside sealed data.
	SaltSize = 16

	// KeySize is the XChaCha20-Poly1305 key length.
	KeySize = chacha20poly1305.KeySize
)

var (
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrEmptyPassphrase   = errors.New("crypto: empty passphrase")
)

// GenerateSalt returns SaltSize random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// GenerateSecret generates a random 32-byte secret, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate secret: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// Fingerprint returns a short SHA-256 prefix of a token, safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:4])
}

// DeriveKey stretches a passphrase into a KeySize key using Argon2id.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, KeySize), nil
}

// Sealer encrypts small secrets with XChaCha20-Poly1305.
type Sealer struct {
	key []byte
}

// NewSealer builds a sealer from a KeySize key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: invalid key length: expected %d, got %d", KeySize, len(key))
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext and returns base64(nonce | ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new aead: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
