package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRolePredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role       domain.Role
		privileged bool
		write      bool
	}{
		{domain.RoleSuperAdmin, true, true},
		{domain.RoleAdmin, true, true},
		{domain.RoleAgent, false, true},
		{domain.RoleViewer, false, false},
		{domain.RoleUnknown, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			require.Equal(t, tt.privileged, tt.role.IsPrivileged())
			require.Equal(t, tt.write, tt.role.CanWrite())
		})
	}
}

func TestRoleDecodingIsStrict(t *testing.T) {
	t.Parallel()

	var u struct {
		Role domain.Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"super_admin"}`), &u))
	require.Equal(t, domain.RoleSuperAdmin, u.Role)

	require.Error(t, json.Unmarshal([]byte(`{"role":"Admin"}`), &u))
	require.Error(t, json.Unmarshal([]byte(`{"role":"superadmin"}`), &u))

	roles, err := domain.ParseRoles("admin, super_admin")
	require.NoError(t, err)
	require.Equal(t, []domain.Role{domain.RoleAdmin, domain.RoleSuperAdmin}, roles)

	_, err = domain.ParseRoles("admin,owner")
	require.Error(t, err)
}

func TestUserFromAPI(t *testing.T) {
	t.Parallel()

	clientID := uuid.New()
	u, err := domain.UserFromAPI(authsdk.User{
		ID:        uuid.New(),
		Email:     "ops@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Role:      "agent",
		ClientID:  &clientID,
	})
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", u.DisplayName)
	require.Equal(t, domain.RoleAgent, u.Role)
	require.True(t, u.HasFixedClient())
	require.Equal(t, clientID, *u.ClientID)

	nilClient := uuid.Nil
	u, err = domain.UserFromAPI(authsdk.User{Email: "x@example.com", Role: "viewer", ClientID: &nilClient})
	require.NoError(t, err)
	require.Equal(t, "x@example.com", u.DisplayName)
	require.False(t, u.HasFixedClient())

	_, err = domain.UserFromAPI(authsdk.User{Role: "owner"})
	require.Error(t, err)
}

func TestUserJSONRoundTrip(t *testing.T) {
	t.Parallel()

	in := domain.User{ID: uuid.New(), Email: "a@b.c", DisplayName: "A", Role: domain.RoleAdmin}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"role":"admin"`)

	var out domain.User
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, in, out)
}

func TestClientFromAPI(t *testing.T) {
	t.Parallel()

	c, err := domain.ClientFromAPI(authsdk.Client{ID: uuid.New(), Name: "Acme", Status: "paused", MonthlyTokenBudget: 10, TokensUsedThisMonth: 15})
	require.NoError(t, err)
	require.Equal(t, domain.ClientPaused, c.Status)
	require.Zero(t, c.TokensRemaining())

	_, err = domain.ClientFromAPI(authsdk.Client{Status: "deleted"})
	require.Error(t, err)
}
