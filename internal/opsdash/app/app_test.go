package app_test

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/app"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/fakeapi"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/file"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/memory"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const password = "correct horse"

func startServer(t *testing.T, opts ...fakeapi.Option) *fakeapi.Server {
	t.Helper()
	srv, err := fakeapi.New(opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, srv *fakeapi.Server) app.Config {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.APIURL = srv.URL
	cfg.StorageDriver = app.DriverFile
	cfg.StoragePath = filepath.Join(t.TempDir(), "state.json")
	return cfg
}

func open(t *testing.T, cfg app.Config, opts app.Options) *app.Application {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slogx.Discard()
	}
	a, err := app.New(context.Background(), cfg, opts)
	require.NoError(t, err)
	require.NoError(t, a.Boot(context.Background()))
	return a
}

func TestOpenStorage(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*app.Config, string)
	}{
		{"memory", func(c *app.Config, _ string) { c.StorageDriver = app.DriverMemory }},
		{"file", func(c *app.Config, dir string) { c.StoragePath = filepath.Join(dir, "state.json") }},
		{"sqlite", func(c *app.Config, dir string) {
			c.StorageDriver = app.DriverSQLite
			c.StoragePath = filepath.Join(dir, "state.db")
		}},
		{"redis", func(c *app.Config, _ string) {
			c.StorageDriver = app.DriverRedis
			c.RedisURL = "redis://" + mr.Addr()
			c.RedisPrefix = "opsdash-" + t.Name()
		}},
		{"encrypted", func(c *app.Config, dir string) {
			c.StoragePath = filepath.Join(dir, "sealed.json")
			c.EncryptionSecret = "hunter2"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			cfg := app.DefaultConfig()
			tt.mutate(&cfg, t.TempDir())

			st, err := app.OpenStorage(ctx, cfg, slogx.Discard())
			require.NoError(t, err)
			defer st.Close()

			require.NoError(t, st.Set(ctx, "access_token", []byte("tok")))
			v, err := st.Get(ctx, "access_token")
			require.NoError(t, err)
			require.Equal(t, "tok", string(v))

			require.NoError(t, st.Delete(ctx, "access_token"))
			_, err = st.Get(ctx, "access_token")
			require.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestEncryptedStorageSealsAtRest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := app.DefaultConfig()
	cfg.StoragePath = filepath.Join(t.TempDir(), "state.json")
	cfg.EncryptionSecret = "hunter2"

	st, err := app.OpenStorage(ctx, cfg, slogx.Discard())
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "access_token", []byte("secret-token")))
	require.NoError(t, st.Close())

	raw, err := file.New(cfg.StoragePath, slogx.Discard())
	require.NoError(t, err)
	v, err := raw.Get(ctx, "access_token")
	require.NoError(t, err)
	require.NotContains(t, string(v), "secret-token")
	require.NoError(t, raw.Close())

	st, err = app.OpenStorage(ctx, cfg, slogx.Discard())
	require.NoError(t, err)
	defer st.Close()
	v, err = st.Get(ctx, "access_token")
	require.NoError(t, err)
	require.Equal(t, "secret-token", string(v))
}

func TestSessionSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := startServer(t)
	srv.AddAccount(fakeapi.Account{Email: "admin@example.com", Password: password, Role: "admin"})
	first := srv.AddClient(authsdk.Client{Name: "Acme", Slug: "acme"})
	srv.AddClient(authsdk.Client{Name: "Globex", Slug: "globex"})
	cfg := testConfig(t, srv)

	a := open(t, cfg, app.Options{})
	d, err := a.Guard(guard.PathClients)
	require.NoError(t, err)
	require.Equal(t, guard.Decision{Action: guard.ActionRedirect, Target: guard.PathLogin}, d)

	_, err = a.Session().SubmitCredentials(ctx, "admin@example.com", password, true)
	require.NoError(t, err)
	d, err = a.Guard(guard.PathClients)
	require.NoError(t, err)
	require.Equal(t, guard.ActionRender, d.Action)
	current, err := a.Tenants().Current()
	require.NoError(t, err)
	require.Equal(t, first.ID, current.ID)
	require.NoError(t, a.Close())

	b := open(t, cfg, app.Options{})
	defer b.Close()
	snap := b.Session().Snapshot()
	require.Equal(t, domain.StatusAuthenticated, snap.Status)
	require.Equal(t, "admin@example.com", snap.User.Email)
	require.Equal(t, 1, srv.Calls("GET /auth/me"))

	current, err = b.Tenants().Current()
	require.NoError(t, err)
	require.Equal(t, "acme", current.Slug)

	d, err = b.Guard(guard.PathLogin)
	require.NoError(t, err)
	require.Equal(t, guard.Decision{Action: guard.ActionRedirect, Target: guard.PathHome}, d)
}

func TestRevokedSessionBootsSignedOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := startServer(t)
	srv.AddAccount(fakeapi.Account{Email: "agent@example.com", Password: password, Role: "agent"})
	cfg := testConfig(t, srv)
	rec := &notify.Recorder{}

	a := open(t, cfg, app.Options{Notifier: rec})
	_, err := a.Session().SubmitCredentials(ctx, "agent@example.com", password, false)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	srv.RevokeAll()

	b := open(t, cfg, app.Options{Notifier: rec})
	defer b.Close()
	require.Equal(t, domain.StatusAnonymous, b.Session().Snapshot().Status)
	for _, key := range b.Keys().All() {
		_, err := b.Storage().Get(ctx, key)
		require.ErrorIs(t, err, storage.ErrNotFound, key)
	}
}

func TestOutgoingRequestsCarryHeaders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var (
		mu  sync.Mutex
		ids []string
	)
	capture := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			ids = append(ids, r.Header.Get(slogx.RequestIDHeader))
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
	srv := startServer(t, fakeapi.WithAPIKey("tenant-key"), fakeapi.WithMiddleware(capture))
	srv.AddAccount(fakeapi.Account{Email: "agent@example.com", Password: password, Role: "agent"})

	cfg := testConfig(t, srv)
	rec := &notify.Recorder{}
	a := open(t, cfg, app.Options{Notifier: rec})
	_, err := a.Session().SubmitCredentials(ctx, "agent@example.com", password, false)
	require.Error(t, err, "requests without the API key are rejected")
	require.NoError(t, a.Close())

	cfg.APIKey = "tenant-key"
	b := open(t, cfg, app.Options{Notifier: rec})
	defer b.Close()
	_, err = b.Session().SubmitCredentials(ctx, "agent@example.com", password, false)
	require.NoError(t, err)
	_, err = b.Session().ReloadProfile(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, ids)
	seen := make(map[string]bool)
	for _, id := range ids {
		require.Len(t, id, 26, "request ids are ULIDs")
		require.False(t, seen[id], "request ids are unique")
		seen[id] = true
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()
	srv := startServer(t)

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()
		cfg := testConfig(t, srv)
		cfg.StorageDriver = app.DriverSQLite
		cfg.StoragePath = filepath.Join(t.TempDir(), "state.db")
		a := open(t, cfg, app.Options{})
		defer a.Close()
		require.ErrorIs(t, a.Watch(context.Background()), storage.ErrWatchUnsupported)
	})

	t.Run("stops with context", func(t *testing.T) {
		t.Parallel()
		a := open(t, testConfig(t, srv), app.Options{Storage: memory.New()})
		defer a.Close()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, a.Watch(ctx))
	})
}
