package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// GenerateSigningKey returns a fresh Ed25519 key pair for signing short-lived tokens.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptox: failed to generate Ed25519 key: %w", err)
	}
	return pub, priv, nil
}
