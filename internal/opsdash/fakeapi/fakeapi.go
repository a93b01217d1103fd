// Package fakeapi is an in-process stand-in for the dashboard's identity and
// clients API. It mints real EdDSA-signed access tokens, checks TOTP codes,
// tracks server-side sessions and counts calls per route.
package fakeapi

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/cryptox"
	"github.com/aussiebroadwan/opsdash/pkg/httpx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL   = 15 * time.Minute
	sessionTTL         = 7 * 24 * time.Hour
	rememberSessionTTL = 30 * 24 * time.Hour
)

// Account is a user known to the fake server.
type Account struct {
	ID        uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	ClientID  *uuid.UUID
	// TOTPSecret enables the second factor.
	TOTPSecret  string
	BackupCodes []string
}

type session struct {
	id           uuid.UUID
	userID       uuid.UUID
	refresh      string
	ip           string
	userAgent    string
	createdAt    time.Time
	lastActivity time.Time
	expiresAt    time.Time
	valid        bool
}

type failure struct {
	status int
	detail string
}

type accessClaims struct {
	jwt.RegisteredClaims
	Type      string `json:"type"`
	ClientID  string `json:"client_id,omitempty"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

type Option func(*Server)

// WithAPIKey requires every request to carry key in authsdk.APIKeyHeader.
func WithAPIKey(key string) Option { return func(s *Server) { s.apiKey = key } }

func WithAccessTTL(d time.Duration) Option { return func(s *Server) { s.accessTTL = d } }

// WithLoginLimit rate limits the credential endpoints per API key and client IP.
func WithLoginLimit(cfg httpx.RateLimitConfig) Option { return func(s *Server) { s.loginLimit = cfg } }

// WithMiddleware wraps the whole API, outermost first.
func WithMiddleware(mws ...httpx.Middleware) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mws...) }
}

type Server struct {
	*httptest.Server

	pub        ed25519.PublicKey
	priv       ed25519.PrivateKey
	apiKey     string
	accessTTL  time.Duration
	loginLimit httpx.RateLimitConfig
	middleware []httpx.Middleware

	mu       sync.Mutex
	accounts map[uuid.UUID]*Account
	byEmail  map[string]uuid.UUID
	clients  []authsdk.Client
	sessions map[uuid.UUID]*session
	calls    map[string]int
	failures map[string]failure
}

// New starts a server. Close it when done.
func New(opts ...Option) (*Server, error) {
	pub, priv, err := cryptox.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	s := &Server{
		pub:       pub,
		priv:      priv,
		accessTTL: defaultAccessTTL,
		accounts:  make(map[uuid.UUID]*Account),
		byEmail:   make(map[string]uuid.UUID),
		sessions:  make(map[uuid.UUID]*session),
		calls:     make(map[string]int),
		failures:  make(map[string]failure),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	strict := httpx.RateLimitMiddleware(s.loginLimit,
		httpx.CompositeKeyExtractor("|", httpx.HeaderKeyExtractor(authsdk.APIKeyHeader), httpx.IPKeyExtractor))

	s.handle(mux, "POST /auth/login", strict(http.HandlerFunc(s.handleLogin)))
	s.handle(mux, "POST /auth/login/2fa", strict(http.HandlerFunc(s.handleLogin2FA)))
	s.handle(mux, "POST /auth/login/backup-code", strict(http.HandlerFunc(s.handleBackupCode)))
	s.handle(mux, "POST /auth/refresh", http.HandlerFunc(s.handleRefresh))
	s.handle(mux, "POST /auth/logout", s.authed(s.handleLogout))
	s.handle(mux, "POST /auth/logout/all", s.authed(s.handleLogoutAll))
	s.handle(mux, "GET /auth/me", s.authed(s.handleMe))
	s.handle(mux, "GET /auth/sessions", s.authed(s.handleListSessions))
	s.handle(mux, "DELETE /auth/sessions/{id}", s.authed(s.handleRevokeSession))
	s.handle(mux, "POST /auth/password/forgot", http.HandlerFunc(s.handleForgotPassword))

	s.handle(mux, "GET /clients", s.authed(s.handleListClients))
	s.handle(mux, "GET /clients/{id}", s.authed(s.handleGetClient))
	// "/clients/slug/{slug}" and "/clients/{id}/usage" overlap as mux patterns.
	s.handle(mux, "GET /clients/{first}/{second}", s.authed(s.handleClientSubresource))

	mws := append([]httpx.Middleware{httpx.TagRequestID, s.requireAPIKey}, s.middleware...)
	return httpx.Chain(mux, mws...)
}

// handle registers h under pattern, counting calls and applying injected failures.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[pattern]++
		f, fail := s.failures[pattern]
		delete(s.failures, pattern)
		s.mu.Unlock()

		if fail {
			httpx.WriteDetail(w, f.status, f.detail)
			return
		}
		h.ServeHTTP(w, r)
	}))
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get(authsdk.APIKeyHeader) != s.apiKey {
			httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// Fixtures and inspection
// ============================================================================

// AddAccount registers a user. A zero ID is filled in.
func (s *Server) AddAccount(a Account) Account {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Email = strings.ToLower(a.Email)
	a.BackupCodes = slices.Clone(a.BackupCodes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = &a
	s.byEmail[a.Email] = a.ID
	return a
}

// AddClient registers a tenant. Listing returns clients in insertion order.
func (s *Server) AddClient(c authsdk.Client) authsdk.Client {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = "active"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
		c.UpdatedAt = c.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, c)
	return c
}

// Calls returns how often the route pattern (e.g. "GET /clients") was hit.
func (s *Server) Calls(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[pattern]
}

// FailNext makes the next call to pattern answer status with detail.
func (s *Server) FailNext(pattern string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[pattern] = failure{status: status, detail: detail}
}

// RevokeAll invalidates every session, as a server-side expiry would.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.valid = false
	}
}

// ActiveSessions counts valid sessions of the account with email.
func (s *Server) ActiveSessions(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.byEmail[strings.ToLower(email)]
	n := 0
	for _, sess := range s.sessions {
		if sess.userID == id && sess.valid {
			n++
		}
	}
	return n
}

// PublicKey verifies tokens minted by the server.
func (s *Server) PublicKey() ed25519.PublicKey { return s.pub }

// ============================================================================
// Tokens
// ============================================================================

func (s *Server) issueLocked(acc *Account, r *http.Request, remember bool) (*authsdk.LoginResult, error) {
	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	ttl := sessionTTL
	if remember {
		ttl = rememberSessionTTL
	}
	now := time.Now().UTC()
	sess := &session{
		id:           uuid.New(),
		userID:       acc.ID,
		refresh:      refresh,
		ip:           clientIP(r),
		userAgent:    r.UserAgent(),
		createdAt:    now,
		lastActivity: now,
		expiresAt:    now.Add(ttl),
		valid:        true,
	}
	s.sessions[sess.id] = sess

	access, err := s.signLocked(acc, sess.id, now)
	if err != nil {
		return nil, err
	}
	return &authsdk.LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		User:         toAPIUser(acc),
	}, nil
}

func (s *Server) signLocked(acc *Account, sessionID uuid.UUID, now time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
		Type:      "access",
		Role:      acc.Role,
		SessionID: sessionID.String(),
	}
	if acc.ClientID != nil {
		claims.ClientID = acc.ClientID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (s *Server) parseAccess(raw string) (*accessClaims, error) {
	var c accessClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if c.Type != "access" {
		return nil, fmt.Errorf("unexpected token type %q", c.Type)
	}
	return &c, nil
}

func toAPIUser(a *Account) authsdk.User {
	full := strings.TrimSpace(a.FirstName + " " + a.LastName)
	return authsdk.User{
		ID:               a.ID,
		Email:            a.Email,
		FirstName:        a.FirstName,
		LastName:         a.LastName,
		FullName:         full,
		Role:             a.Role,
		ClientID:         a.ClientID,
		IsVerified:       true,
		TwoFactorEnabled: a.TOTPSecret != "",
		Timezone:         "UTC",
		Language:         "en",
		CreatedAt:        time.Now().UTC(),
	}
}

func clientIP(r *http.Request) string {
	return httpx.IPKeyExtractor(r)
}
