package session_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/fakeapi"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/session"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/memory"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/tenant"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/tokenstore"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const password = "correct horse"

// countingStorage records deletes per key.
type countingStorage struct {
	storage.Storage

	mu      sync.Mutex
	deletes map[string]int
}

func newCountingStorage() *countingStorage {
	return &countingStorage{Storage: memory.New(), deletes: make(map[string]int)}
}

func (c *countingStorage) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes[key]++
	c.mu.Unlock()
	return c.Storage.Delete(ctx, key)
}

func (c *countingStorage) Deletes(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes[key]
}

type navRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (n *navRecorder) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *navRecorder) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type harness struct {
	srv      *fakeapi.Server
	storage  *countingStorage
	keys     storage.Keys
	tokens   *tokenstore.Store
	api      *authsdk.SDKClient
	tenants  *tenant.Store
	mgr      *session.Manager
	notifier *notify.Recorder
	nav      *navRecorder
}

func startServer(t *testing.T, opts ...fakeapi.Option) *fakeapi.Server {
	t.Helper()
	srv, err := fakeapi.New(opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

// newHarness wires a manager the way the application does. st may be shared
// between harnesses to model a restart.
func newHarness(t *testing.T, srv *fakeapi.Server, st *countingStorage) *harness {
	t.Helper()
	if st == nil {
		st = newCountingStorage()
	}
	h := &harness{
		srv:      srv,
		storage:  st,
		keys:     storage.DefaultKeys("opsdash"),
		notifier: &notify.Recorder{},
		nav:      &navRecorder{},
	}
	logger := slogx.Discard()

	h.tokens = tokenstore.New(tokenstore.Config{
		Storage:  st,
		Keys:     h.keys,
		Notifier: h.notifier,
		Logger:   logger,
	})
	h.api = authsdk.NewSDKClientWithTransport(srv.URL, h.tokens.Transport(http.DefaultTransport), 5*time.Second)
	h.tenants = tenant.New(context.Background(), h.api, st, h.keys.Tenant, logger)
	h.mgr = session.New(session.Config{
		Gateway:   h.api,
		Tokens:    h.tokens,
		Tenants:   h.tenants,
		Storage:   st,
		Keys:      h.keys,
		Notifier:  h.notifier,
		Navigator: h.nav,
		Logger:    logger,
	})
	h.tokens.OnUnauthorized(h.mgr.HandleUnauthorized)
	return h
}

func (h *harness) stored(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, err := h.storage.Get(context.Background(), key)
	if err != nil {
		require.ErrorIs(t, err, storage.ErrNotFound)
		return "", false
	}
	return string(v), true
}

func (h *harness) requireStorageEmpty(t *testing.T) {
	t.Helper()
	for _, key := range h.keys.All() {
		_, ok := h.stored(t, key)
		require.False(t, ok, "key %s should be cleared", key)
	}
}

func (h *harness) signIn(t *testing.T, email string) {
	t.Helper()
	_, err := h.mgr.SubmitCredentials(context.Background(), email, password, false)
	require.NoError(t, err)
}
