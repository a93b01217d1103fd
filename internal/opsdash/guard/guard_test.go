package guard_test

import (
	"testing"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func signedIn(role domain.Role) domain.Session {
	return domain.Session{
		Status:      domain.StatusAuthenticated,
		AccessToken: "tok",
		User:        &domain.User{ID: uuid.New(), Role: role},
	}
}

func TestProtectedRoute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rule    guard.Rule
		session domain.Session
		want    guard.Decision
	}{
		{"anonymous redirects to login", guard.ProtectedRoute(), domain.Session{}, guard.Decision{Action: guard.ActionRedirect, Target: guard.PathLogin}},
		{"expired redirects to login", guard.ProtectedRoute(), domain.Session{Status: domain.StatusExpired}, guard.Decision{Action: guard.ActionRedirect, Target: guard.PathLogin}},
		{"challenge redirects to login", guard.ProtectedRoute(), domain.Session{Status: domain.StatusAwaitingSecondFactor}, guard.Decision{Action: guard.ActionRedirect, Target: guard.PathLogin}},
		{"resolving shows loading", guard.ProtectedRoute(), domain.Session{Resolving: true}, guard.Decision{Action: guard.ActionLoading}},
		{"any role renders without restriction", guard.ProtectedRoute(), signedIn(domain.RoleViewer), guard.Decision{Action: guard.ActionRender}},
		{"member role renders", guard.ProtectedRoute(domain.RoleAdmin, domain.RoleSuperAdmin), signedIn(domain.RoleAdmin), guard.Decision{Action: guard.ActionRender}},
		{"non-member role is forbidden", guard.ProtectedRoute(domain.RoleAdmin), signedIn(domain.RoleAgent), guard.Decision{Action: guard.ActionForbidden}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.rule.Evaluate(tt.session))
		})
	}
}

func TestGuestRoute(t *testing.T) {
	t.Parallel()
	rule := guard.GuestRoute()

	for _, st := range []domain.Status{
		domain.StatusAnonymous,
		domain.StatusAuthenticating,
		domain.StatusAwaitingSecondFactor,
		domain.StatusExpired,
	} {
		require.Equal(t, guard.ActionRender, rule.Evaluate(domain.Session{Status: st}).Action, st.String())
	}

	require.Equal(t, guard.Decision{Action: guard.ActionRedirect, Target: guard.PathHome}, rule.Evaluate(signedIn(domain.RoleViewer)))
	require.Equal(t, guard.ActionLoading, rule.Evaluate(domain.Session{Resolving: true}).Action)
}

func TestPublicRouteAlwaysRenders(t *testing.T) {
	t.Parallel()
	rule := guard.PublicRoute()
	require.Equal(t, guard.ActionRender, rule.Evaluate(domain.Session{Resolving: true}).Action)
	require.Equal(t, guard.ActionRender, rule.Evaluate(signedIn(domain.RoleAgent)).Action)
}

func TestRouterDefaults(t *testing.T) {
	t.Parallel()
	r := guard.DefaultRouter()

	d, err := r.Evaluate(guard.PathClients, signedIn(domain.RoleViewer))
	require.NoError(t, err)
	require.Equal(t, guard.ActionForbidden, d.Action)

	d, err = r.Evaluate(guard.PathClients, signedIn(domain.RoleSuperAdmin))
	require.NoError(t, err)
	require.Equal(t, guard.ActionRender, d.Action)

	d, err = r.Evaluate(guard.PathLogin, signedIn(domain.RoleAgent))
	require.NoError(t, err)
	require.Equal(t, guard.PathHome, d.Target)

	_, err = r.Evaluate("/nowhere", domain.Session{})
	require.ErrorIs(t, err, guard.ErrUnknownRoute)

	require.Contains(t, r.Paths(), guard.PathSessions)
}
