package tenant_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/memory"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/tenant"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const tenantKey = "opsdash-tenant"

type fakeClients struct {
	mu        sync.Mutex
	clients   []authsdk.Client
	listErr   error
	listCalls int
	getCalls  int
	// beforeReturn runs inside the call, after it has been counted.
	beforeReturn func()
}

func (f *fakeClients) ListClients(context.Context) ([]authsdk.Client, error) {
	f.mu.Lock()
	f.listCalls++
	hook := f.beforeReturn
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.clients, nil
}

func (f *fakeClients) GetClient(_ context.Context, id uuid.UUID) (*authsdk.Client, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	for _, c := range f.clients {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, &authsdk.APIError{StatusCode: 404, Detail: "Client not found"}
}

func (f *fakeClients) calls() (list, get int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.getCalls
}

func apiClient(name string) authsdk.Client {
	return authsdk.Client{ID: uuid.New(), Name: name, Slug: name, Status: "active", MonthlyTokenBudget: 1000}
}

func newStore(t *testing.T, api tenant.ClientsAPI, st storage.Storage) *tenant.Store {
	t.Helper()
	return tenant.New(context.Background(), api, st, tenantKey, slogx.Discard())
}

func TestSelectionSurvivesReconstruction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	api := &fakeClients{}

	s := newStore(t, api, st)
	_, err := s.Current()
	require.ErrorIs(t, err, tenant.ErrNoClient)

	c, err := domain.ClientFromAPI(apiClient("acme"))
	require.NoError(t, err)
	require.NoError(t, s.SetCurrentClient(ctx, c))
	s.SetClients([]domain.Client{c})

	reloaded := newStore(t, api, st)
	got, err := reloaded.Current()
	require.NoError(t, err)
	require.Equal(t, c, got)
	require.Empty(t, reloaded.Clients(), "the available list is never persisted")
}

func TestLoadForUser(t *testing.T) {
	t.Parallel()

	a, b, c := apiClient("a"), apiClient("b"), apiClient("c")

	t.Run("fixed client admin fetches only that client", func(t *testing.T) {
		t.Parallel()
		api := &fakeClients{clients: []authsdk.Client{a, b, c}}
		s := newStore(t, api, memory.New())

		id := b.ID
		s.LoadForUser(context.Background(), domain.User{ID: uuid.New(), Role: domain.RoleAdmin, ClientID: &id})

		list, get := api.calls()
		require.Equal(t, 0, list)
		require.Equal(t, 1, get)

		tc := s.Context()
		require.Equal(t, b.ID, tc.CurrentClientID())
		require.Empty(t, tc.AvailableClients)
	})

	t.Run("viewer without client fetches nothing", func(t *testing.T) {
		t.Parallel()
		api := &fakeClients{clients: []authsdk.Client{a}}
		s := newStore(t, api, memory.New())

		s.LoadForUser(context.Background(), domain.User{ID: uuid.New(), Role: domain.RoleViewer})

		list, get := api.calls()
		require.Zero(t, list)
		require.Zero(t, get)
		require.Equal(t, uuid.Nil, s.Context().CurrentClientID())
	})

	t.Run("privileged user defaults to first client", func(t *testing.T) {
		t.Parallel()
		api := &fakeClients{clients: []authsdk.Client{a, b, c}}
		s := newStore(t, api, memory.New())

		s.LoadForUser(context.Background(), domain.User{ID: uuid.New(), Role: domain.RoleAdmin})

		tc := s.Context()
		require.Equal(t, a.ID, tc.CurrentClientID())
		require.Len(t, tc.AvailableClients, 3)
		require.Equal(t, []string{"a", "b", "c"}, []string{
			tc.AvailableClients[0].Slug, tc.AvailableClients[1].Slug, tc.AvailableClients[2].Slug,
		})
	})

	t.Run("privileged user keeps a valid selection", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		api := &fakeClients{clients: []authsdk.Client{a, b, c}}
		s := newStore(t, api, memory.New())

		cur, err := domain.ClientFromAPI(c)
		require.NoError(t, err)
		require.NoError(t, s.SetCurrentClient(ctx, cur))

		s.LoadForUser(ctx, domain.User{ID: uuid.New(), Role: domain.RoleSuperAdmin})
		require.Equal(t, c.ID, s.Context().CurrentClientID())
	})

	t.Run("privileged user with stale selection falls back to first", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		api := &fakeClients{clients: []authsdk.Client{a, b}}
		s := newStore(t, api, memory.New())

		gone, err := domain.ClientFromAPI(apiClient("gone"))
		require.NoError(t, err)
		require.NoError(t, s.SetCurrentClient(ctx, gone))

		s.LoadForUser(ctx, domain.User{ID: uuid.New(), Role: domain.RoleAdmin})
		require.Equal(t, a.ID, s.Context().CurrentClientID())
	})

	t.Run("empty list leaves no selection", func(t *testing.T) {
		t.Parallel()
		api := &fakeClients{}
		s := newStore(t, api, memory.New())

		s.LoadForUser(context.Background(), domain.User{ID: uuid.New(), Role: domain.RoleAdmin})
		_, err := s.Current()
		require.ErrorIs(t, err, tenant.ErrNoClient)
	})

	t.Run("unreachable fixed client drops a foreign selection", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		st := memory.New()
		api := &fakeClients{clients: []authsdk.Client{a}}
		s := newStore(t, api, st)

		other, err := domain.ClientFromAPI(a)
		require.NoError(t, err)
		require.NoError(t, s.SetCurrentClient(ctx, other))

		missing := uuid.New()
		s.LoadForUser(ctx, domain.User{ID: uuid.New(), Role: domain.RoleAdmin, ClientID: &missing})

		_, err = s.Current()
		require.ErrorIs(t, err, tenant.ErrNoClient)
		_, err = st.Get(ctx, tenantKey)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("fetch failures are swallowed", func(t *testing.T) {
		t.Parallel()
		api := &fakeClients{listErr: errors.New("boom")}
		s := newStore(t, api, memory.New())

		s.LoadForUser(context.Background(), domain.User{ID: uuid.New(), Role: domain.RoleAdmin})
		require.Empty(t, s.Clients())

		missing := uuid.New()
		s.LoadForUser(context.Background(), domain.User{ID: uuid.New(), Role: domain.RoleAgent, ClientID: &missing})
		_, err := s.Current()
		require.ErrorIs(t, err, tenant.ErrNoClient)
	})
}

func TestClearDiscardsInFlightLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	api := &fakeClients{clients: []authsdk.Client{apiClient("a")}}
	s := newStore(t, api, st)

	api.beforeReturn = func() { require.NoError(t, s.Clear(ctx)) }
	s.LoadForUser(ctx, domain.User{ID: uuid.New(), Role: domain.RoleAdmin})

	_, err := s.Current()
	require.ErrorIs(t, err, tenant.ErrNoClient)
	require.Empty(t, s.Clients())

	_, err = st.Get(ctx, tenantKey)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRehydrate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	api := &fakeClients{}

	first := newStore(t, api, st)
	second := newStore(t, api, st)

	c, err := domain.ClientFromAPI(apiClient("shared"))
	require.NoError(t, err)
	require.NoError(t, first.SetCurrentClient(ctx, c))

	_, err = second.Current()
	require.ErrorIs(t, err, tenant.ErrNoClient)

	second.Rehydrate(ctx)
	got, err := second.Current()
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)

	require.NoError(t, first.Clear(ctx))
	second.Rehydrate(ctx)
	_, err = second.Current()
	require.ErrorIs(t, err, tenant.ErrNoClient)
}

func TestCorruptBlobIsIgnored(t *testing.T) {
	t.Parallel()
	st := memory.New()
	require.NoError(t, st.Set(context.Background(), tenantKey, []byte("{not json")))

	s := newStore(t, &fakeClients{}, st)
	_, err := s.Current()
	require.ErrorIs(t, err, tenant.ErrNoClient)
}
