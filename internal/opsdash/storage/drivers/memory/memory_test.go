package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/memory"
	"github.com/stretchr/testify/require"
)

func TestGetSetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	_, err := s.Get(ctx, "access_token")
	require.ErrorIs(t, err, storage.ErrNotFound)

	buf := []byte("tok")
	require.NoError(t, s.Set(ctx, "access_token", buf))
	buf[0] = 'X'

	got, err := s.Get(ctx, "access_token")
	require.NoError(t, err)
	require.Equal(t, "tok", string(got), "stored value must not alias the caller's slice")

	require.NoError(t, s.Delete(ctx, "access_token"))
	require.NoError(t, s.Delete(ctx, "access_token"))
	require.Zero(t, s.Len())
}

func TestWatchFanOut(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := memory.New()
	a, err := s.Watch(ctx)
	require.NoError(t, err)
	b, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "opsdash-tenant", []byte(`{}`)))
	require.NoError(t, s.Delete(ctx, "opsdash-tenant"))

	for _, ch := range []<-chan storage.Event{a, b} {
		require.Equal(t, storage.Event{Key: "opsdash-tenant"}, recv(t, ch))
		require.Equal(t, storage.Event{Key: "opsdash-tenant", Deleted: true}, recv(t, ch))
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-a
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestCloseEndsWatchers(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ch, err := s.Watch(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, open := <-ch
	require.False(t, open)
	require.Error(t, s.Set(context.Background(), "k", nil))
}

func recv(t *testing.T, ch <-chan storage.Event) storage.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return storage.Event{}
	}
}
