package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
)

const msgSecondFactor = "Enter the code from your authenticator app."

// SubmitCredentials starts a login.
//
// Returns:
//   - (snapshot, nil) in StatusAuthenticated on a full login
//   - (snapshot, nil) in StatusAwaitingSecondFactor when the account needs a second factor;
//     nothing is persisted until the challenge is resolved
//   - (snapshot, err) in StatusAnonymous when the server rejected the credentials
//   - ErrBusy when another submission is running
//   - ErrAuthenticated when a session is already established
//   - ErrStale when a logout or cancel overtook the request
func (m *Manager) SubmitCredentials(ctx context.Context, email, password string, rememberMe bool) (domain.Session, error) {
	m.mu.Lock()
	if m.busy {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrBusy
	}
	if m.status == domain.StatusAuthenticated {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrAuthenticated
	}
	m.busy = true
	gen := m.transitionLocked(domain.StatusAuthenticating)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	defer m.release()

	res, err := m.gateway.Login(ctx, authsdk.LoginRequest{
		Email:      email,
		Password:   password,
		RememberMe: rememberMe,
	})

	var tfa *authsdk.TwoFactorRequiredError
	switch {
	case errors.As(err, &tfa):
		return m.beginChallenge(gen, tfa)
	case err != nil:
		return m.fail(ctx, gen, err)
	}
	return m.authenticate(ctx, gen, res)
}

// SubmitSecondFactor answers the pending challenge with a TOTP code.
// An invalid code keeps the challenge so the operator can try again.
func (m *Manager) SubmitSecondFactor(ctx context.Context, code string) (domain.Session, error) {
	return m.verify(ctx, domain.MethodTOTP, code)
}

// SubmitBackupCode answers the pending challenge with a one-time backup code.
func (m *Manager) SubmitBackupCode(ctx context.Context, code string) (domain.Session, error) {
	return m.verify(ctx, domain.MethodBackupCode, code)
}

// CancelChallenge abandons the pending challenge and returns to Anonymous.
func (m *Manager) CancelChallenge() error {
	m.mu.Lock()
	if m.status != domain.StatusAwaitingSecondFactor {
		m.mu.Unlock()
		return ErrNoChallenge
	}
	m.transitionLocked(domain.StatusAnonymous)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	return nil
}

func (m *Manager) verify(ctx context.Context, method domain.ChallengeMethod, code string) (domain.Session, error) {
	m.mu.Lock()
	if m.busy {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrBusy
	}
	if m.status != domain.StatusAwaitingSecondFactor || m.challenge == nil {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrNoChallenge
	}
	m.busy = true
	m.challenge.Method = method
	ch := *m.challenge
	gen := m.generation
	m.mu.Unlock()

	defer m.release()

	var (
		res *authsdk.LoginResult
		err error
	)
	switch method {
	case domain.MethodBackupCode:
		res, err = m.gateway.VerifyBackupCode(ctx, ch.UserID, code)
	case domain.MethodTOTP:
		res, err = m.gateway.VerifyTwoFactor(ctx, ch.UserID, code)
	default:
		err = fmt.Errorf("session: unsupported challenge method %q", method)
	}

	if err != nil {
		m.mu.Lock()
		stale := m.generation != gen
		snap := m.snapshotLocked()
		m.mu.Unlock()

		if stale {
			return snap, fmt.Errorf("%w: %w", ErrStale, err)
		}
		m.logger.Info("second factor rejected", "user_id", ch.UserID, "method", string(method))
		m.report(ctx, err)
		return snap, err
	}
	return m.authenticate(ctx, gen, res)
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
}

func (m *Manager) beginChallenge(gen uint64, tfa *authsdk.TwoFactorRequiredError) (domain.Session, error) {
	m.mu.Lock()
	if m.generation != gen {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrStale
	}
	m.transitionLocked(domain.StatusAwaitingSecondFactor)
	m.challenge = &domain.Challenge{UserID: tfa.UserID, Method: domain.MethodTOTP}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)

	msg := tfa.Message
	if msg == "" {
		msg = msgSecondFactor
	}
	notify.Info(m.notifier, msg)
	return snap, nil
}

func (m *Manager) fail(ctx context.Context, gen uint64, err error) (domain.Session, error) {
	m.mu.Lock()
	if m.generation != gen {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, fmt.Errorf("%w: %w", ErrStale, err)
	}
	m.transitionLocked(domain.StatusAnonymous)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.emit(snap)
	m.logger.Info("login failed", "kind", authsdk.KindOf(err).String())
	m.report(ctx, err)
	return snap, err
}

// authenticate commits a completed login: tokens, the auth blob, then the tenant scope.
func (m *Manager) authenticate(ctx context.Context, gen uint64, res *authsdk.LoginResult) (domain.Session, error) {
	user, convErr := domain.UserFromAPI(res.User)

	m.mu.Lock()
	if m.generation != gen {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		return snap, ErrStale
	}
	if convErr != nil {
		m.transitionLocked(domain.StatusAnonymous)
		snap := m.snapshotLocked()
		m.mu.Unlock()

		m.emit(snap)
		m.logger.Warn("login returned an unusable user", "error", convErr)
		notify.Error(m.notifier, "Sign-in failed: the server returned an unsupported account.")
		return snap, fmt.Errorf("session: %w", convErr)
	}
	if err := m.tokens.SetTokens(ctx, res.AccessToken, res.RefreshToken); err != nil {
		if cerr := m.clearLocalLocked(ctx); cerr != nil {
			m.logger.Warn("failed to clear partial session", "error", cerr)
		}
		m.transitionLocked(domain.StatusAnonymous)
		snap := m.snapshotLocked()
		m.mu.Unlock()

		m.emit(snap)
		return snap, fmt.Errorf("session: %w", err)
	}
	m.transitionLocked(domain.StatusAuthenticated)
	m.user = &user
	if err := m.persistLocked(ctx); err != nil {
		m.logger.Warn("failed to persist session", "error", err)
	}
	m.mu.Unlock()

	m.logger.Info("signed in", "user_id", user.ID, "role", user.Role.String())
	m.tenants.LoadForUser(ctx, user)

	snap := m.Snapshot()
	m.emit(snap)
	notify.Success(m.notifier, "Signed in as "+user.DisplayName+".")
	return snap, nil
}
