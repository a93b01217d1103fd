package tokenstore

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token fields worth showing to an operator.
type Claims struct {
	jwt.RegisteredClaims
	Type      string `json:"type,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

var ErrNoToken = errors.New("tokenstore: no access token")

// Claims decodes the current access token WITHOUT verifying its signature.
// The result is for display only; the server remains the authority.
func (s *Store) Claims() (*Claims, error) {
	token := s.AccessToken()
	if token == "" {
		return nil, ErrNoToken
	}
	return ParseClaims(token)
}

func ParseClaims(token string) (*Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ExpiresIn returns the time left before expiry, zero when unknown or past.
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(c.ExpiresAt.Sub(now), 0)
}
