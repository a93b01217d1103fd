// Package tenant tracks which client (tenant) the operator is working in.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/google/uuid"
)

var ErrNoClient = errors.New("tenant: no client selected")

// ClientsAPI is the slice of the identity gateway the store needs.
type ClientsAPI interface {
	ListClients(ctx context.Context) ([]authsdk.Client, error)
	GetClient(ctx context.Context, id uuid.UUID) (*authsdk.Client, error)
}

// persisted is the tenant blob layout.
type persisted struct {
	CurrentClient *domain.Client `json:"currentClient"`
}

type Store struct {
	api     ClientsAPI
	storage storage.Storage
	key     string
	logger  *slog.Logger

	mu        sync.RWMutex
	current   *domain.Client
	available []domain.Client
	// epoch invalidates in-flight loads when the context is cleared.
	epoch uint64
}

// New builds the store and restores the persisted selection.
// The available list always starts empty; it is never persisted.
func New(ctx context.Context, api ClientsAPI, st storage.Storage, key string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{api: api, storage: st, key: key, logger: logger}
	s.Rehydrate(ctx)
	return s
}

// Rehydrate replaces the current selection with the persisted one.
// Unreadable blobs are treated as no selection.
func (s *Store) Rehydrate(ctx context.Context) {
	var p persisted
	err := storage.GetJSON(ctx, s.storage, s.key, &p)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to restore tenant selection", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p.CurrentClient
}

// SetCurrentClient selects c and persists it. Membership in the available list is not checked.
func (s *Store) SetCurrentClient(ctx context.Context, c domain.Client) error {
	s.mu.Lock()
	s.current = &c
	s.mu.Unlock()

	if err := storage.SetJSON(ctx, s.storage, s.key, persisted{CurrentClient: &c}); err != nil {
		return fmt.Errorf("failed to persist tenant selection: %w", err)
	}
	return nil
}

// SetClients replaces the in-memory list.
func (s *Store) SetClients(list []domain.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = slices.Clone(list)
}

func (s *Store) Current() (domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Client{}, ErrNoClient
	}
	return *s.current, nil
}

func (s *Store) Clients() []domain.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.available)
}

// Context returns a copy of the tenant context.
func (s *Store) Context() domain.TenantContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tc := domain.TenantContext{AvailableClients: slices.Clone(s.available)}
	if s.current != nil {
		c := *s.current
		tc.CurrentClient = &c
	}
	return tc
}

// Clear forgets everything, in memory and on disk, and abandons in-flight loads.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.available = nil
	s.epoch++
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to delete tenant selection: %w", err)
	}
	return nil
}

func (s *Store) snapshotEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// LoadForUser populates the tenant context for a freshly authenticated user:
//
//  1. a user bound to a client gets exactly that client, and no list;
//  2. privileged roles get the full list. A persisted selection that is
//     still listed is kept; otherwise the first entry becomes current, so
//     [A, B, C] selects A only when nothing valid was chosen before;
//  3. everyone else gets nothing.
//
// Fetch failures are logged and swallowed: tenant loading never fails a login.
// A bound user whose client cannot be fetched still loses any selection
// pointing at a different client.
func (s *Store) LoadForUser(ctx context.Context, u domain.User) {
	epoch := s.snapshotEpoch()
	log := s.logger.With("user_id", u.ID, "role", u.Role.String())

	switch {
	case u.HasFixedClient():
		raw, err := s.api.GetClient(ctx, *u.ClientID)
		if err != nil {
			log.Warn("failed to load assigned client", "client_id", *u.ClientID, "error", err)
			s.dropOtherThan(ctx, epoch, *u.ClientID, log)
			return
		}
		c, err := domain.ClientFromAPI(*raw)
		if err != nil {
			log.Warn("invalid assigned client", "error", err)
			s.dropOtherThan(ctx, epoch, *u.ClientID, log)
			return
		}
		s.apply(ctx, epoch, &c, nil, log)

	case u.Role.IsPrivileged():
		raw, err := s.api.ListClients(ctx)
		if err != nil {
			log.Warn("failed to load clients", "error", err)
			return
		}
		list := make([]domain.Client, 0, len(raw))
		for _, r := range raw {
			c, err := domain.ClientFromAPI(r)
			if err != nil {
				log.Warn("skipping invalid client", "error", err)
				continue
			}
			list = append(list, c)
		}
		s.apply(ctx, epoch, s.pickDefault(list), list, log)

	default:
		log.Debug("no tenant context for role")
	}
}

// dropOtherThan forgets a selection that does not point at id.
func (s *Store) dropOtherThan(ctx context.Context, epoch uint64, id uuid.UUID, log *slog.Logger) {
	s.mu.Lock()
	if s.epoch != epoch || s.current == nil || s.current.ID == id {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.available = nil
	s.mu.Unlock()

	if err := s.storage.Delete(ctx, s.key); err != nil {
		log.Warn("failed to drop tenant selection", "error", err)
	}
}

// pickDefault keeps a persisted selection that is still in list, refreshed
// with the listed data, and otherwise falls back to the first entry.
func (s *Store) pickDefault(list []domain.Client) *domain.Client {
	if len(list) == 0 {
		return nil
	}

	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current != nil {
		if i := slices.IndexFunc(list, func(c domain.Client) bool { return c.ID == current.ID }); i >= 0 {
			c := list[i]
			return &c
		}
	}
	c := list[0]
	return &c
}

// apply commits a load unless Clear ran while it was in flight.
// A nil current leaves the selection untouched.
func (s *Store) apply(ctx context.Context, epoch uint64, current *domain.Client, list []domain.Client, log *slog.Logger) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		log.Debug("discarding stale tenant load")
		return
	}
	s.available = list
	s.mu.Unlock()

	if current == nil {
		return
	}
	if err := s.SetCurrentClient(ctx, *current); err != nil {
		log.Warn("failed to persist tenant selection", "error", err)
	}
}
