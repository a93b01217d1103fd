package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/cryptox"
	"github.com/aussiebroadwan/opsdash/pkg/httpx"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
)

type authedFunc func(w http.ResponseWriter, r *http.Request, acc Account, sess session)

// authed resolves the bearer token to an account and a live session.
func (s *Server) authed(h authedFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			httpx.WriteDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims, err := s.parseAccess(raw)
		if err != nil {
			httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		uid, uerr := uuid.Parse(claims.Subject)
		sid, serr := uuid.Parse(claims.SessionID)
		if uerr != nil || serr != nil {
			httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		s.mu.Lock()
		acc, found := s.accounts[uid]
		sess := s.sessions[sid]
		now := time.Now().UTC()
		switch {
		case !found:
			s.mu.Unlock()
			httpx.WriteDetail(w, http.StatusUnauthorized, "User not found or inactive")
			return
		case sess == nil || !sess.valid || sess.userID != uid || now.After(sess.expiresAt):
			s.mu.Unlock()
			httpx.WriteDetail(w, http.StatusUnauthorized, "Session expired or invalidated")
			return
		}
		sess.lastActivity = now
		a, se := *acc, *sess
		s.mu.Unlock()

		h(w, r, a, se)
	})
}

// decode reads a JSON body, answering 422 in the list form of the detail envelope on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		validationError(w, "Invalid request body")
		return false
	}
	return true
}

func validationError(w http.ResponseWriter, msgs ...string) {
	details := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		details = append(details, map[string]string{"msg": m})
	}
	httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": details})
}

// ============================================================================
// Auth
// ============================================================================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		validationError(w, "email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[s.byEmail[strings.ToLower(strings.TrimSpace(req.Email))]]
	if acc == nil || acc.Password != req.Password {
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if acc.TOTPSecret != "" {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"requires_2fa": true,
			"user_id":      acc.ID,
			"message":      "2FA verification required",
		})
		return
	}
	s.writeLoginLocked(w, r, acc, req.RememberMe)
}

func (s *Server) handleLogin2FA(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TwoFactorRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[req.UserID]
	switch {
	case acc == nil:
		httpx.WriteDetail(w, http.StatusNotFound, "User not found")
	case acc.TOTPSecret == "":
		httpx.WriteDetail(w, http.StatusBadRequest, "2FA is not enabled")
	case !totp.Validate(req.Code, acc.TOTPSecret):
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid or expired 2FA code")
	default:
		s.writeLoginLocked(w, r, acc, false)
	}
}

func (s *Server) handleBackupCode(w http.ResponseWriter, r *http.Request) {
	var req authsdk.BackupCodeRequest
	if !decode(w, r, &req) {
		return
	}
	code := strings.ReplaceAll(strings.ToLower(req.BackupCode), " ", "")

	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.accounts[req.UserID]
	if acc == nil {
		httpx.WriteDetail(w, http.StatusNotFound, "User not found")
		return
	}
	if len(acc.BackupCodes) == 0 {
		httpx.WriteDetail(w, http.StatusBadRequest, "No backup codes configured")
		return
	}
	i := slices.Index(acc.BackupCodes, code)
	if i < 0 {
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid backup code")
		return
	}
	acc.BackupCodes = slices.Delete(acc.BackupCodes, i, i+1)
	s.writeLoginLocked(w, r, acc, false)
}

func (s *Server) writeLoginLocked(w http.ResponseWriter, r *http.Request, acc *Account, remember bool) {
	res, err := s.issueLocked(acc, r, remember)
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var sess *session
	for _, candidate := range s.sessions {
		if candidate.refresh == req.RefreshToken && candidate.valid && now.Before(candidate.expiresAt) {
			sess = candidate
			break
		}
	}
	if req.RefreshToken == "" || sess == nil {
		httpx.WriteDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	acc := s.accounts[sess.userID]
	if acc == nil {
		httpx.WriteDetail(w, http.StatusUnauthorized, "User not found or inactive")
		return
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	access, err := s.signLocked(acc, sess.id, now)
	if err != nil {
		httpx.WriteDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	sess.refresh = refresh
	sess.lastActivity = now

	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request, _ Account, sess session) {
	s.mu.Lock()
	if live := s.sessions[sess.id]; live != nil {
		live.valid = false
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "Successfully logged out."})
}

// handleLogoutAll ends every other session of the user; the calling one survives.
func (s *Server) handleLogoutAll(w http.ResponseWriter, _ *http.Request, acc Account, sess session) {
	s.mu.Lock()
	n := 0
	for _, other := range s.sessions {
		if other.userID == acc.ID && other.valid && other.id != sess.id {
			other.valid = false
			n++
		}
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, authsdk.LogoutAllResponse{
		Message:             fmt.Sprintf("Logged out from %d other session(s).", n),
		SessionsInvalidated: n,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, acc Account, _ session) {
	httpx.WriteJSON(w, http.StatusOK, toAPIUser(&acc))
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request, acc Account, current session) {
	now := time.Now().UTC()

	s.mu.Lock()
	list := make([]authsdk.SessionInfo, 0)
	for _, sess := range s.sessions {
		if sess.userID != acc.ID || !sess.valid || now.After(sess.expiresAt) {
			continue
		}
		list = append(list, authsdk.SessionInfo{
			ID:             sess.id,
			IPAddress:      sess.ip,
			UserAgent:      sess.userAgent,
			CreatedAt:      sess.createdAt,
			LastActivityAt: sess.lastActivity,
			ExpiresAt:      sess.expiresAt,
			IsCurrent:      sess.id == current.id,
		})
	}
	s.mu.Unlock()

	slices.SortFunc(list, func(a, b authsdk.SessionInfo) int {
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionList{Sessions: list, Total: len(list)})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request, acc Account, _ session) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		validationError(w, "session id must be a UUID")
		return
	}

	s.mu.Lock()
	sess := s.sessions[id]
	found := sess != nil && sess.userID == acc.ID
	if found {
		sess.valid = false
	}
	s.mu.Unlock()

	if !found {
		httpx.WriteDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{Message: "Session revoked successfully."})
}

// handleForgotPassword answers the same way whether or not the account exists.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ForgotPasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if !strings.Contains(req.Email, "@") {
		validationError(w, "value is not a valid email address")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.MessageResponse{
		Message: "If an account exists with this email, a password reset link has been sent.",
	})
}

// ============================================================================
// Clients
// ============================================================================

func privileged(acc Account) bool {
	return acc.Role == "super_admin" || acc.Role == "admin"
}

func canAccess(acc Account, id uuid.UUID) bool {
	return privileged(acc) || (acc.ClientID != nil && *acc.ClientID == id)
}

func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request, acc Account, _ session) {
	if !privileged(acc) {
		httpx.WriteDetail(w, http.StatusForbidden, "Insufficient permissions")
		return
	}
	s.mu.Lock()
	list := slices.Clone(s.clients)
	s.mu.Unlock()

	if list == nil {
		list = []authsdk.Client{}
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) findClient(match func(authsdk.Client) bool) (authsdk.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.clients, match)
	if i < 0 {
		return authsdk.Client{}, false
	}
	return s.clients[i], true
}

func (s *Server) writeClient(w http.ResponseWriter, acc Account, c authsdk.Client, found bool) bool {
	switch {
	case !found:
		httpx.WriteDetail(w, http.StatusNotFound, "Client not found")
		return false
	case !canAccess(acc, c.ID):
		httpx.WriteDetail(w, http.StatusForbidden, "Access denied to this client")
		return false
	}
	return true
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request, acc Account, _ session) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		validationError(w, "client id must be a UUID")
		return
	}
	c, found := s.findClient(func(c authsdk.Client) bool { return c.ID == id })
	if s.writeClient(w, acc, c, found) {
		httpx.WriteJSON(w, http.StatusOK, c)
	}
}

func (s *Server) handleClientSubresource(w http.ResponseWriter, r *http.Request, acc Account, _ session) {
	first, second := r.PathValue("first"), r.PathValue("second")

	switch {
	case first == "slug":
		c, found := s.findClient(func(c authsdk.Client) bool { return c.Slug == second })
		if s.writeClient(w, acc, c, found) {
			httpx.WriteJSON(w, http.StatusOK, c)
		}

	case second == "usage":
		id, err := uuid.Parse(first)
		if err != nil {
			validationError(w, "client id must be a UUID")
			return
		}
		c, found := s.findClient(func(c authsdk.Client) bool { return c.ID == id })
		if !s.writeClient(w, acc, c, found) {
			return
		}
		usage := authsdk.ClientUsage{
			ClientID:            c.ID,
			MonthlyTokenBudget:  c.MonthlyTokenBudget,
			TokensUsedThisMonth: c.TokensUsedThisMonth,
			TokensRemaining:     max(c.MonthlyTokenBudget-c.TokensUsedThisMonth, 0),
		}
		if c.MonthlyTokenBudget > 0 {
			usage.UsagePercent = float64(c.TokensUsedThisMonth) / float64(c.MonthlyTokenBudget) * 100
		}
		httpx.WriteJSON(w, http.StatusOK, usage)

	default:
		httpx.WriteDetail(w, http.StatusNotFound, "Not Found")
	}
}
