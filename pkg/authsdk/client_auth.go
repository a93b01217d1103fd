package authsdk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ============================================================================
// Login
// ============================================================================

// Login exchanges credentials for tokens.
// When the account requires a second factor it returns *TwoFactorRequiredError.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	var env loginEnvelope
	if err := c.call(ctx, "Login", http.MethodPost, "/auth/login", req, &env); err != nil {
		return nil, err
	}

	if env.RequiresTwoFactor {
		return nil, &TwoFactorRequiredError{UserID: env.UserID, Message: env.Message}
	}
	if env.AccessToken == "" {
		return nil, fmt.Errorf("authsdk.Login: response carried no access token")
	}

	return &env.LoginResult, nil
}

// VerifyTwoFactor completes a challenged login with a TOTP code.
func (c *SDKClient) VerifyTwoFactor(ctx context.Context, userID uuid.UUID, code string) (*LoginResult, error) {
	var out LoginResult
	req := TwoFactorRequest{UserID: userID, Code: code}
	if err := c.call(ctx, "VerifyTwoFactor", http.MethodPost, "/auth/login/2fa", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyBackupCode completes a challenged login with a one-time backup code.
func (c *SDKClient) VerifyBackupCode(ctx context.Context, userID uuid.UUID, code string) (*LoginResult, error) {
	var out LoginResult
	req := BackupCodeRequest{UserID: userID, BackupCode: code}
	if err := c.call(ctx, "VerifyBackupCode", http.MethodPost, "/auth/login/backup-code", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Token lifecycle
// ============================================================================

func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var out TokenPair
	req := RefreshRequest{RefreshToken: refreshToken}
	if err := c.call(ctx, "Refresh", http.MethodPost, "/auth/refresh", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout invalidates the session the request's bearer token belongs to.
func (c *SDKClient) Logout(ctx context.Context) error {
	return c.call(ctx, "Logout", http.MethodPost, "/auth/logout", nil, &MessageResponse{})
}

// LogoutAll invalidates every session of the current user and returns how many there were.
func (c *SDKClient) LogoutAll(ctx context.Context) (int, error) {
	var out LogoutAllResponse
	if err := c.call(ctx, "LogoutAll", http.MethodPost, "/auth/logout/all", nil, &out); err != nil {
		return 0, err
	}
	return out.SessionsInvalidated, nil
}

// ============================================================================
// Profile and sessions
// ============================================================================

func (c *SDKClient) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.call(ctx, "Me", http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) ListSessions(ctx context.Context) (*SessionList, error) {
	var out SessionList
	if err := c.call(ctx, "ListSessions", http.MethodGet, "/auth/sessions", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) RevokeSession(ctx context.Context, id uuid.UUID) error {
	return c.call(ctx, "RevokeSession", http.MethodDelete, "/auth/sessions/"+id.String(), nil, nil)
}

// ForgotPassword asks the server to mail a reset link. The server answers the
// same way whether or not the address exists.
func (c *SDKClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	var out MessageResponse
	req := ForgotPasswordRequest{Email: email}
	if err := c.call(ctx, "ForgotPassword", http.MethodPost, "/auth/password/forgot", req, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
