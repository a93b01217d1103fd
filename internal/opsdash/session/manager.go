// Package session owns the authentication state machine.
//
// A Manager is the only writer of session state. It moves between the
// states of domain.Status in response to operator actions (credential and
// second-factor submission, logout), to server responses (a 401 intercepted
// by the token store), and to other processes sharing the same storage.
//
// Transitions:
//
//	Anonymous|Expired      --SubmitCredentials-->  Authenticating
//	Authenticating         --full result------->   Authenticated
//	Authenticating         --2FA required------>   AwaitingSecondFactor
//	Authenticating         --failure----------->   Anonymous
//	AwaitingSecondFactor   --valid code-------->   Authenticated
//	AwaitingSecondFactor   --invalid code------>   AwaitingSecondFactor
//	AwaitingSecondFactor   --CancelChallenge--->   Anonymous
//	Authenticated          --401 / refresh fail->  Expired
//	any                    --Logout------------>   Anonymous
//
// Every transition bumps a generation counter. An asynchronous result whose
// generation is no longer current is discarded and reported as ErrStale.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/guard"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/notify"
	"github.com/aussiebroadwan/opsdash/internal/opsdash/storage"
	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	ErrBusy             = errors.New("session: another submission is in progress")
	ErrStale            = errors.New("session: result superseded by a newer transition")
	ErrNoChallenge      = errors.New("session: no second-factor challenge pending")
	ErrNotAuthenticated = errors.New("session: not signed in")
	ErrAuthenticated    = errors.New("session: already signed in")
)

// Gateway is the identity API as the session sees it.
type Gateway interface {
	Login(ctx context.Context, req authsdk.LoginRequest) (*authsdk.LoginResult, error)
	VerifyTwoFactor(ctx context.Context, userID uuid.UUID, code string) (*authsdk.LoginResult, error)
	VerifyBackupCode(ctx context.Context, userID uuid.UUID, code string) (*authsdk.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*authsdk.TokenPair, error)
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) (int, error)
	Me(ctx context.Context) (*authsdk.User, error)
}

// Tokens is the token store.
type Tokens interface {
	Load(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, access, refresh string) error
	SetRefreshToken(refresh string)
	Clear(ctx context.Context) error
	AccessToken() string
	RefreshToken() string
	// Reported tells whether the transport already notified the operator about err.
	Reported(err error) bool
}

// TenantScope is the tenant store.
type TenantScope interface {
	LoadForUser(ctx context.Context, u domain.User)
	Clear(ctx context.Context) error
}

// Listener receives a snapshot after every transition.
type Listener func(domain.Session)

type Config struct {
	Gateway   Gateway
	Tokens    Tokens
	Tenants   TenantScope
	Storage   storage.Storage
	Keys      storage.Keys
	Notifier  notify.Notifier
	Navigator guard.Navigator
	Logger    *slog.Logger
}

// persistedAuth is the auth blob layout.
type persistedAuth struct {
	User         *domain.User `json:"user"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
}

type Manager struct {
	gateway   Gateway
	tokens    Tokens
	tenants   TenantScope
	storage   storage.Storage
	keys      storage.Keys
	notifier  notify.Notifier
	navigator guard.Navigator
	logger    *slog.Logger

	flight singleflight.Group

	mu          sync.Mutex
	status      domain.Status
	user        *domain.User
	challenge   *domain.Challenge
	resolving   bool
	initialized bool
	busy        bool
	generation  uint64

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New(cfg Config) *Manager {
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Navigator == nil {
		cfg.Navigator = guard.NavigatorFunc(func(string) {})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		gateway:   cfg.Gateway,
		tokens:    cfg.Tokens,
		tenants:   cfg.Tenants,
		storage:   cfg.Storage,
		keys:      cfg.Keys,
		notifier:  cfg.Notifier,
		navigator: cfg.Navigator,
		logger:    cfg.Logger,
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns the current session. Tokens are only included while authenticated.
func (m *Manager) Snapshot() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() domain.Session {
	s := domain.Session{
		Status:     m.status,
		Resolving:  m.resolving,
		Generation: m.generation,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	if m.challenge != nil {
		c := *m.challenge
		s.Challenge = &c
	}
	if m.status == domain.StatusAuthenticated {
		s.AccessToken = m.tokens.AccessToken()
		s.RefreshToken = m.tokens.RefreshToken()
	}
	return s
}

// Subscribe registers fn for transition snapshots. The returned func removes it.
func (m *Manager) Subscribe(fn Listener) func() {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) emit(s domain.Session) {
	m.lmu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.lmu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// transitionLocked moves to status and starts a new generation.
func (m *Manager) transitionLocked(status domain.Status) uint64 {
	m.status = status
	m.generation++
	if status != domain.StatusAwaitingSecondFactor {
		m.challenge = nil
	}
	if status != domain.StatusAuthenticated {
		m.user = nil
	}
	return m.generation
}

// report notifies the operator of err unless the transport already did.
func (m *Manager) report(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) || m.tokens.Reported(err) {
		return
	}
	notify.Error(m.notifier, notify.MessageFor(err))
}

// clearLocalLocked wipes tokens, the auth blob and the tenant context.
func (m *Manager) clearLocalLocked(ctx context.Context) error {
	return errors.Join(
		m.tokens.Clear(ctx),
		storage.DeleteAll(ctx, m.storage, m.keys.Auth),
		m.tenants.Clear(ctx),
	)
}

func (m *Manager) persistLocked(ctx context.Context) error {
	return storage.SetJSON(ctx, m.storage, m.keys.Auth, persistedAuth{
		User:         m.user,
		Token:        m.tokens.AccessToken(),
		RefreshToken: m.tokens.RefreshToken(),
	})
}
