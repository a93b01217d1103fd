package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage/drivers/file"
	"github.com/aussiebroadwan/opsdash/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestPersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "storage.json")

	a, err := file.New(path, slogx.Discard())
	require.NoError(t, err)
	require.NoError(t, a.Set(ctx, "access_token", []byte("tok")))
	require.NoError(t, a.Set(ctx, "opsdash-tenant", []byte(`{"currentClient":null}`)))
	require.NoError(t, a.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	b, err := file.New(path, slogx.Discard())
	require.NoError(t, err)
	got, err := b.Get(ctx, "access_token")
	require.NoError(t, err)
	require.Equal(t, "tok", string(got))

	require.NoError(t, b.Delete(ctx, "access_token"))
	_, err = b.Get(ctx, "access_token")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, b.Delete(ctx, "access_token"))
}

func TestSetKeepsKeysFromOtherWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")

	a, err := file.New(path, slogx.Discard())
	require.NoError(t, err)
	b, err := file.New(path, slogx.Discard())
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, "one", []byte("1")))
	require.NoError(t, b.Set(ctx, "two", []byte("2")))

	got, err := a.Get(ctx, "one")
	require.NoError(t, err)
	require.Equal(t, "1", string(got))
	got, err = a.Get(ctx, "two")
	require.NoError(t, err)
	require.Equal(t, "2", string(got))
}

func TestWatchSeesOtherProcessWrites(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "storage.json")

	watcher, err := file.New(path, slogx.Discard())
	require.NoError(t, err)
	defer watcher.Close()
	require.NoError(t, watcher.Set(ctx, "access_token", []byte("tok")))

	events, err := watcher.Watch(ctx)
	require.NoError(t, err)

	other, err := file.New(path, slogx.Discard())
	require.NoError(t, err)
	require.NoError(t, other.Delete(ctx, "access_token"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Key == "access_token" {
				require.True(t, ev.Deleted)
				return
			}
		case <-deadline:
			t.Fatal("no delete event observed")
		}
	}
}

func TestWatchKeepsForeignChangesAcrossOwnWrites(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "storage.json")

	watcher, err := file.New(path, slogx.Discard())
	require.NoError(t, err)
	defer watcher.Close()
	require.NoError(t, watcher.Set(ctx, "access_token", []byte("tok")))

	events, err := watcher.Watch(ctx)
	require.NoError(t, err)

	other, err := file.New(path, slogx.Discard())
	require.NoError(t, err)
	require.NoError(t, other.Delete(ctx, "access_token"))
	// The watcher writes before its loop has looked at the other process's change.
	require.NoError(t, watcher.Set(ctx, "opsdash-tenant", []byte(`{"currentClient":null}`)))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			require.NotEqual(t, "opsdash-tenant", ev.Key, "own writes are not echoed")
			if ev.Key == "access_token" {
				require.True(t, ev.Deleted)
				return
			}
		case <-deadline:
			t.Fatal("delete by the other process was lost")
		}
	}
}

func TestCorruptFileIsAnError(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := file.New(path, slogx.Discard())
	require.Error(t, err)
}
