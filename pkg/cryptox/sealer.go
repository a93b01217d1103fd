package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrCiphertext is returned when sealed data is truncated or fails authentication.
var ErrCiphertext = errors.New("cryptox: invalid ciphertext")

// sealInfo binds derived keys to this use so the same secret can safely feed other derivations.
const sealInfo = "opsdash storage seal v1"

// Sealer performs authenticated encryption of small values at rest.
// Output format: [24-byte nonce][ciphertext][16-byte tag]
type Sealer struct {
	key []byte
}

// NewSealer derives a 256-bit XChaCha20-Poly1305 key from secret with HKDF-SHA256.
// The secret may be any length but must not be empty.
func NewSealer(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, errors.New("cryptox: empty sealing secret")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(sealInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext. additional is authenticated but not encrypted;
// callers pass the storage key so a sealed value cannot be moved to another key.
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCiphertext
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return plaintext, nil
}
