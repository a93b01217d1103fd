package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ============================================================================
// Error Kinds
// ============================================================================

// Kind classifies a failed call for callers deciding how to react.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuthentication // 401
	KindAuthorization  // 403
	KindNotFound       // 404
	KindValidation     // 400, 409, 422
	KindRateLimited    // 429
	KindServer         // 5xx
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// KindOf reports the Kind of err, looking through wrapping.
func KindOf(err error) Kind {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	return KindUnknown
}

// IsStatus reports whether err carries an API response with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// ============================================================================
// APIError - non-2xx responses
// ============================================================================

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	// Detail is the server's message, verbatim.
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

// Kind maps the status code onto the error taxonomy.
func (e *APIError) Kind() Kind {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return KindAuthentication
	case e.StatusCode == http.StatusForbidden:
		return KindAuthorization
	case e.StatusCode == http.StatusNotFound:
		return KindNotFound
	case e.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case e.StatusCode == http.StatusBadRequest,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusUnprocessableEntity:
		return KindValidation
	case e.StatusCode >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

// ============================================================================
// NetworkError - the request never produced a response
// ============================================================================

type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ============================================================================
// TwoFactorRequiredError - login needs a second factor
// ============================================================================

// TwoFactorRequiredError is returned by Login when the account has 2FA enabled.
// The caller completes the login with VerifyTwoFactor or VerifyBackupCode.
type TwoFactorRequiredError struct {
	UserID  uuid.UUID
	Message string
}

func (e *TwoFactorRequiredError) Error() string {
	return fmt.Sprintf("two-factor authentication required for user %s", e.UserID)
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// ErrorFromResponse builds an *APIError from a status code and raw body.
// The body may be {"detail": "..."} or {"detail": [{"msg": "..."}, ...]}.
func ErrorFromResponse(status int, body []byte) *APIError {
	return &APIError{StatusCode: status, Detail: parseDetail(status, body)}
}

func parseDetail(status int, body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil && s != "" {
			return s
		}

		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}

	return http.StatusText(status)
}
