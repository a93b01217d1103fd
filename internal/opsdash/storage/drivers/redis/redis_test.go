package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	opsredis "github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/redis"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestGetSetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	s := opsredis.New(rdb, "ops", slogx.Discard())

	_, err := s.Get(ctx, "access_token")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Set(ctx, "access_token", []byte("tok")))
	require.True(t, mr.Exists("ops:access_token"))

	got, err := s.Get(ctx, "access_token")
	require.NoError(t, err)
	require.Equal(t, "tok", string(got))

	require.NoError(t, s.Delete(ctx, "access_token"))
	require.NoError(t, s.Delete(ctx, "access_token"))
	require.False(t, mr.Exists("ops:access_token"))
}

func TestWatchSeesOtherInstancesOnly(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, rdb := newTestRedis(t)

	watcher := opsredis.New(rdb, "ops", slogx.Discard())
	other := opsredis.New(rdb, "ops", slogx.Discard())

	events, err := watcher.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, watcher.Set(ctx, "opsdash-tenant", []byte(`{}`)))
	require.NoError(t, other.Set(ctx, "access_token", []byte("tok")))
	require.NoError(t, other.Delete(ctx, "access_token"))

	require.Equal(t, storage.Event{Key: "access_token"}, recv(t, events))
	require.Equal(t, storage.Event{Key: "access_token", Deleted: true}, recv(t, events))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-events:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func recv(t *testing.T, ch <-chan storage.Event) storage.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return storage.Event{}
	}
}
