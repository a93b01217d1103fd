// Package tokenstore holds the access/refresh token pair and is the single
// interception point for outgoing API requests.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/cryptox"
)

// UnauthorizedFunc is the forced-logout hook. It runs at most once per token.
type UnauthorizedFunc func(ctx context.Context)

type Config struct {
	Storage storage.Storage
	Keys    storage.Keys

	// APIKey, when set, is sent on every request in APIKeyHeader.
	APIKey       string
	APIKeyHeader string

	Notifier notify.Notifier
	Logger   *slog.Logger
}

type Store struct {
	storage      storage.Storage
	keys         storage.Keys
	apiKey       string
	apiKeyHeader string
	notifier     notify.Notifier
	logger       *slog.Logger

	mu      sync.RWMutex
	access  string
	refresh string
	// epoch changes whenever the token pair changes; a 401 only counts
	// against the epoch its request was sent under.
	epoch      uint64
	firedEpoch uint64
	fired      bool
	onUnauth   UnauthorizedFunc
}

func New(cfg Config) *Store {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = authsdk.APIKeyHeader
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		storage:      cfg.Storage,
		keys:         cfg.Keys,
		apiKey:       cfg.APIKey,
		apiKeyHeader: cfg.APIKeyHeader,
		notifier:     cfg.Notifier,
		logger:       cfg.Logger,
	}
}

// OnUnauthorized installs the forced-logout hook.
func (s *Store) OnUnauthorized(fn UnauthorizedFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnauth = fn
}

// Load reads the persisted access token into memory and returns it ("" when absent).
func (s *Store) Load(ctx context.Context) (string, error) {
	raw, err := s.storage.Get(ctx, s.keys.AccessToken)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load access token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = string(raw)
	s.epoch++
	return s.access, nil
}

// SetTokens overwrites the pair and persists the access token.
// The refresh token lives in memory; the session persists it in its auth blob.
func (s *Store) SetTokens(ctx context.Context, access, refresh string) error {
	s.mu.Lock()
	s.access = access
	s.refresh = refresh
	s.epoch++
	s.mu.Unlock()

	s.logger.Debug("tokens set", "token_fp", cryptox.FingerprintToken(access))

	if access == "" {
		return s.deleteAccess(ctx)
	}
	if err := s.storage.Set(ctx, s.keys.AccessToken, []byte(access)); err != nil {
		return fmt.Errorf("failed to persist access token: %w", err)
	}
	return nil
}

// SetRefreshToken restores the refresh token after a reload without touching the access token.
func (s *Store) SetRefreshToken(refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = refresh
}

// Clear drops both tokens and the persisted access token.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.access = ""
	s.refresh = ""
	s.epoch++
	s.mu.Unlock()

	return s.deleteAccess(ctx)
}

func (s *Store) deleteAccess(ctx context.Context) error {
	if err := s.storage.Delete(ctx, s.keys.AccessToken); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// current returns the token and the epoch it belongs to.
func (s *Store) current() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.epoch
}

// unauthorized runs the hook once for epoch, and never for an epoch that has
// already been superseded by new tokens or a clear.
func (s *Store) unauthorized(ctx context.Context, epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch || (s.fired && s.firedEpoch == epoch) {
		s.mu.Unlock()
		return
	}
	s.fired = true
	s.firedEpoch = epoch
	hook := s.onUnauth
	s.mu.Unlock()

	s.logger.Info("unauthorized response, forcing logout")
	if hook != nil {
		hook(context.WithoutCancel(ctx))
	}
}

// Reported reports whether the transport already surfaced err to the notifier,
// so callers can avoid showing it twice.
func (s *Store) Reported(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch authsdk.KindOf(err) {
	case authsdk.KindNetwork, authsdk.KindAuthorization, authsdk.KindNotFound,
		authsdk.KindValidation, authsdk.KindRateLimited, authsdk.KindServer:
		return true
	case authsdk.KindAuthentication, authsdk.KindUnknown:
		return false
	}
	return false
}
