// Package file stores all keys in a single JSON document on disk. Writes go
// through a temp file and rename so readers never see a torn file, and an
// fsnotify watch on the directory reports changes made by other processes.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/fsnotify/fsnotify"
)

type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	snapshot map[string][]byte // last state this process read or wrote
	pending  []storage.Event   // foreign changes seen while writing, not yet delivered
	watcher  *fsnotify.Watcher
	closed   bool
}

// New opens (or lazily creates) the storage file at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &Store{path: path, logger: logger}
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	s.snapshot = data
	return s, nil
}

func (s *Store) load() (map[string][]byte, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string][]byte{}, nil
	}

	data := map[string][]byte{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode storage file: %w", err)
	}
	return data, nil
}

func (s *Store) writeLocked(data map[string][]byte) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode storage file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".opsdash-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}

	s.snapshot = maps.Clone(data)
	return nil
}

// absorbLocked queues changes other processes made since the last snapshot,
// so a write of our own cannot hide them from the watch loop.
func (s *Store) absorbLocked(current map[string][]byte) {
	if s.watcher != nil {
		s.pending = append(s.pending, changes(s.snapshot, current)...)
	}
	s.snapshot = maps.Clone(current)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	v, ok := data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

// Set re-reads the file before writing so keys written by other processes survive.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	s.absorbLocked(data)
	data[key] = append([]byte(nil), value...)
	return s.writeLocked(data)
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	s.absorbLocked(data)
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return s.writeLocked(data)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

// Watch reports keys changed by other processes. Writes made through this
// Store update its snapshot first, so they are not echoed back.
func (s *Store) Watch(ctx context.Context) (<-chan storage.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("file: storage closed")
	}
	if s.watcher != nil {
		return nil, errors.New("file: already watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// The directory, not the file: atomic renames replace the file's inode.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch storage directory: %w", err)
	}
	s.watcher = w

	out := make(chan storage.Event, 16)
	go s.watchLoop(ctx, w, out)
	return out, nil
}

func (s *Store) watchLoop(ctx context.Context, w *fsnotify.Watcher, out chan<- storage.Event) {
	defer close(out)
	defer func() {
		s.mu.Lock()
		if s.watcher == w {
			_ = w.Close()
			s.watcher = nil
		}
		s.mu.Unlock()
	}()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			for _, change := range s.diff() {
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("storage watch error", "path", s.path, "error", err)
		}
	}
}

// diff reloads the file and reports keys that differ from the snapshot.
func (s *Store) diff() []storage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		// Mid-write reads from foreign editors can fail; the next event retries.
		s.logger.Debug("storage reload failed", "path", s.path, "error", err)
		return nil
	}

	events := append(s.pending, changes(s.snapshot, current)...)
	s.pending = nil
	s.snapshot = maps.Clone(current)
	return events
}

// changes lists keys that differ between two states.
func changes(prev, current map[string][]byte) []storage.Event {
	var events []storage.Event
	for k, v := range current {
		if old, ok := prev[k]; !ok || !bytes.Equal(old, v) {
			events = append(events, storage.Event{Key: k})
		}
	}
	for k := range prev {
		if _, ok := current[k]; !ok {
			events = append(events, storage.Event{Key: k, Deleted: true})
		}
	}
	return events
}
