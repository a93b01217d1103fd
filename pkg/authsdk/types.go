package authsdk

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Auth Requests
// ============================================================================

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type TwoFactorRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Code   string    `json:"code"`
}

type BackupCodeRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	BackupCode string    `json:"backup_code"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ============================================================================
// Auth Responses
// ============================================================================

// LoginResult is a completed login: tokens plus the signed-in user.
type LoginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

// loginEnvelope covers both shapes POST /auth/login can answer with.
type loginEnvelope struct {
	LoginResult
	RequiresTwoFactor bool      `json:"requires_2fa"`
	UserID            uuid.UUID `json:"user_id"`
	Message           string    `json:"message"`
}

// TokenPair is the result of a refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type LogoutAllResponse struct {
	Message             string `json:"message"`
	SessionsInvalidated int    `json:"sessions_invalidated"`
}

// ============================================================================
// Users and Sessions
// ============================================================================

// User is the API's user record. Role is left as the raw wire string;
// callers parse it into their own closed type.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email"`
	FirstName        string     `json:"first_name,omitempty"`
	LastName         string     `json:"last_name,omitempty"`
	FullName         string     `json:"full_name,omitempty"`
	Role             string     `json:"role"`
	ClientID         *uuid.UUID `json:"client_id,omitempty"`
	IsVerified       bool       `json:"is_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	Timezone         string     `json:"timezone,omitempty"`
	Language         string     `json:"language,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
}

// SessionInfo is one server-side login session of the current user.
type SessionInfo struct {
	ID             uuid.UUID `json:"id"`
	DeviceInfo     string    `json:"device_info,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsCurrent      bool      `json:"is_current"`
}

type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
	Total    int           `json:"total"`
}

// ============================================================================
// Clients (tenants)
// ============================================================================

type Client struct {
	ID                  uuid.UUID `json:"id"`
	Name                string    `json:"name"`
	Slug                string    `json:"slug"`
	Status              string    `json:"status"`
	Industry            string    `json:"industry,omitempty"`
	Website             string    `json:"website,omitempty"`
	Timezone            string    `json:"timezone,omitempty"`
	Plan                string    `json:"plan,omitempty"`
	MonthlyTokenBudget  int64     `json:"monthly_token_budget"`
	TokensUsedThisMonth int64     `json:"tokens_used_this_month"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type ClientUsage struct {
	ClientID            uuid.UUID `json:"client_id"`
	MonthlyTokenBudget  int64     `json:"monthly_token_budget"`
	TokensUsedThisMonth int64     `json:"tokens_used_this_month"`
	TokensRemaining     int64     `json:"tokens_remaining"`
	UsagePercent        float64   `json:"usage_percent"`
}
