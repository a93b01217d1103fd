package domain

import (
	"fmt"
	"strings"

	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/google/uuid"
)

// User is the signed-in operator. It is replaced wholesale on profile refresh.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	DisplayName      string     `json:"displayName"`
	Role             Role       `json:"role"`
	ClientID         *uuid.UUID `json:"clientId,omitempty"`
	Verified         bool       `json:"verified"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
}

// HasFixedClient reports whether the user is bound to a single tenant.
func (u User) HasFixedClient() bool {
	return u.ClientID != nil && *u.ClientID != uuid.Nil
}

// UserFromAPI converts the wire record, rejecting roles outside the closed set.
func UserFromAPI(u authsdk.User) (User, error) {
	role, err := ParseRole(u.Role)
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", u.ID, err)
	}

	name := strings.TrimSpace(u.FullName)
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	if name == "" {
		name = u.Email
	}

	var clientID *uuid.UUID
	if u.ClientID != nil && *u.ClientID != uuid.Nil {
		id := *u.ClientID
		clientID = &id
	}

	return User{
		ID:               u.ID,
		Email:            u.Email,
		DisplayName:      name,
		Role:             role,
		ClientID:         clientID,
		Verified:         u.IsVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}, nil
}
