// Package memory is an in-process storage driver. Watchers see every write,
// which lets several components of one process share state as separate
// processes would through the file or redis drivers.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
)

// eventBuffer bounds each watcher's queue; a watcher that falls further behind misses events.
const eventBuffer = 64

var errClosed = errors.New("memory: storage closed")

type Store struct {
	mu     sync.Mutex
	data   map[string][]byte
	subs   map[int]chan storage.Event
	nextID int
	closed bool
}

func New() *Store {
	return &Store{
		data: make(map[string][]byte),
		subs: make(map[int]chan storage.Event),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	s.data[key] = append([]byte(nil), value...)
	s.publishLocked(storage.Event{Key: key})
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	s.publishLocked(storage.Event{Key: key, Deleted: true})
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	return nil
}

// Len reports how many keys are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *Store) Watch(ctx context.Context) (<-chan storage.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}

	id := s.nextID
	s.nextID++
	ch := make(chan storage.Event, eventBuffer)
	s.subs[id] = ch

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}()

	return ch, nil
}

func (s *Store) publishLocked(ev storage.Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
