package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/tokenstore"
)

var ErrNoRefreshToken = errors.New("session: no refresh token")

const (
	msgSignedOut       = "You have been signed out."
	msgRemoteSignedOut = "You were signed out in another session."
)

// InitFromPersistedState restores the session saved by a previous run.
//
// With a stored access token the profile is fetched: success authenticates and
// loads the tenant scope; failure clears storage and settles Anonymous. Without
// a token it settles Anonymous straight away.
//
// It runs once. Concurrent callers share the in-flight run and later calls are
// no-ops. A run interrupted by ctx cancellation leaves storage untouched and
// may be retried.
func (m *Manager) InitFromPersistedState(ctx context.Context) error {
	_, err, _ := m.flight.Do("init", func() (any, error) {
		return nil, m.initialize(ctx)
	})
	return err
}

func (m *Manager) initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.resolving = true
	gen := m.generation
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.emit(snap)

	user, err := m.restore(ctx)

	m.mu.Lock()
	m.resolving = false
	m.initialized = true
	restored := false

	switch {
	case m.generation != gen:
		// A forced logout or a fresh login already settled the state.
	case err != nil && ctx.Err() != nil:
		m.initialized = false
	case err != nil:
		m.logger.Warn("failed to restore session", "error", err)
		if cerr := m.clearLocalLocked(ctx); cerr != nil {
			m.logger.Warn("failed to clear stale session", "error", cerr)
		}
		m.transitionLocked(domain.StatusAnonymous)
	case user != nil:
		m.transitionLocked(domain.StatusAuthenticated)
		m.user = user
		restored = true
		if perr := m.persistLocked(ctx); perr != nil {
			m.logger.Warn("failed to persist session", "error", perr)
		}
	}
	m.mu.Unlock()

	if restored {
		m.logger.Info("session restored", "user_id", user.ID)
		m.tenants.LoadForUser(ctx, *user)
	}
	m.emit(m.Snapshot())

	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}
	return nil
}

// restore returns the persisted user, or nil when nothing is stored.
func (m *Manager) restore(ctx context.Context) (*domain.User, error) {
	token, err := m.tokens.Load(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	var blob persistedAuth
	switch err := storage.GetJSON(ctx, m.storage, m.keys.Auth, &blob); {
	case err == nil && blob.Token == token:
		m.tokens.SetRefreshToken(blob.RefreshToken)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		m.logger.Debug("ignoring unreadable auth blob", "error", err)
	}

	raw, err := m.gateway.Me(ctx)
	if err != nil {
		return nil, err
	}
	u, err := domain.UserFromAPI(*raw)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers share
// one exchange. Any failure other than cancellation expires the session.
// Refresh is never scheduled; callers invoke it when they need to.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.flight.Do("refresh", func() (any, error) {
		return nil, m.refresh(ctx)
	})
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.status != domain.StatusAuthenticated {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	gen := m.generation
	rt := m.tokens.RefreshToken()
	m.mu.Unlock()

	if rt == "" {
		m.expireIf(ctx, func() bool { return m.generation == gen })
		return ErrNoRefreshToken
	}

	pair, err := m.gateway.Refresh(ctx, rt)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		m.expireIf(ctx, func() bool { return m.generation == gen })
		return fmt.Errorf("session: refresh: %w", err)
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = rt
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return ErrStale
	}
	if err := m.tokens.SetTokens(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("session: refresh: %w", err)
	}
	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("failed to persist session", "error", err)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Debug("tokens refreshed")
	m.emit(snap)
	return nil
}

// ReloadProfile replaces the signed-in user with the server's current record.
func (m *Manager) ReloadProfile(ctx context.Context) (domain.User, error) {
	m.mu.Lock()
	if m.status != domain.StatusAuthenticated {
		m.mu.Unlock()
		return domain.User{}, ErrNotAuthenticated
	}
	gen := m.generation
	m.mu.Unlock()

	raw, err := m.gateway.Me(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("session: reload profile: %w", err)
	}
	u, err := domain.UserFromAPI(*raw)
	if err != nil {
		return domain.User{}, fmt.Errorf("session: reload profile: %w", err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return domain.User{}, ErrStale
	}
	m.user = &u
	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("failed to persist session", "error", err)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	return u, nil
}

// Logout clears local state first and then asks the server to invalidate the
// session. The server call is best effort; its failure is ignored. Calling
// Logout while signed out is a no-op apart from re-clearing storage.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	token := m.tokens.AccessToken()
	wasSignedIn := m.status == domain.StatusAuthenticated
	// Local state goes first; the server call below only uses the captured token.
	err := m.clearLocalLocked(ctx)
	m.transitionLocked(domain.StatusAnonymous)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)

	if token != "" {
		callCtx := tokenstore.Quiet(tokenstore.WithToken(ctx, token))
		if lerr := m.gateway.Logout(callCtx); lerr != nil {
			m.logger.Debug("server logout failed", "error", lerr)
		}
	}
	if wasSignedIn {
		m.logger.Info("signed out")
		notify.Success(m.notifier, msgSignedOut)
	}
	if err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

// LogoutAll invalidates every session of the user and returns how many the
// server ended. Local state is cleared once the call returns, whatever its outcome.
func (m *Manager) LogoutAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.status != domain.StatusAuthenticated {
		m.mu.Unlock()
		return 0, ErrNotAuthenticated
	}
	token := m.tokens.AccessToken()
	m.mu.Unlock()

	n, err := m.gateway.LogoutAll(tokenstore.WithToken(ctx, token))

	m.mu.Lock()
	cerr := m.clearLocalLocked(ctx)
	m.transitionLocked(domain.StatusAnonymous)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)

	if err != nil {
		m.report(ctx, err)
		return 0, fmt.Errorf("session: logout all: %w", err)
	}
	m.logger.Info("signed out everywhere", "sessions_invalidated", n)
	notify.Success(m.notifier, fmt.Sprintf("Signed out of %d sessions.", n))
	if cerr != nil {
		return n, fmt.Errorf("session: logout all: %w", cerr)
	}
	return n, nil
}

// HandleUnauthorized is the token store's forced-logout hook: the server
// rejected the session token. The session becomes Expired, storage is
// cleared and the operator is sent back to the login screen. A token that
// is rejected while the session is still being restored is handled by
// InitFromPersistedState instead.
func (m *Manager) HandleUnauthorized(ctx context.Context) {
	m.expireIf(ctx, func() bool {
		return m.status == domain.StatusAuthenticated
	})
}

// expireIf runs the Expired transition when cond holds under the lock.
func (m *Manager) expireIf(ctx context.Context, cond func() bool) {
	m.mu.Lock()
	if !cond() {
		m.mu.Unlock()
		return
	}
	if err := m.clearLocalLocked(ctx); err != nil {
		m.logger.Warn("failed to clear expired session", "error", err)
	}
	m.transitionLocked(domain.StatusExpired)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("session expired")
	m.emit(snap)
	m.navigator.Navigate(guard.PathLogin)
	notify.Error(m.notifier, notify.MsgExpired)
}

// HandleRemoteLogout tears down an authenticated session after another
// process sharing the storage signed out.
func (m *Manager) HandleRemoteLogout(ctx context.Context) {
	m.mu.Lock()
	if m.status != domain.StatusAuthenticated {
		m.mu.Unlock()
		return
	}
	if err := m.clearLocalLocked(ctx); err != nil {
		m.logger.Warn("failed to clear session after remote logout", "error", err)
	}
	m.transitionLocked(domain.StatusAnonymous)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.logger.Info("signed out by another session")
	m.emit(snap)
	m.navigator.Navigate(guard.PathLogin)
	notify.Info(m.notifier, msgRemoteSignedOut)
}
