package domain

import "github.com/google/uuid"

// Status is the session lifecycle state.
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticating
	StatusAwaitingSecondFactor
	StatusAuthenticated
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticating:
		return "authenticating"
	case StatusAwaitingSecondFactor:
		return "awaiting_second_factor"
	case StatusAuthenticated:
		return "authenticated"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// SignedOut reports whether the state is one a guest screen may render in.
func (s Status) SignedOut() bool {
	return s == StatusAnonymous || s == StatusExpired
}

type ChallengeMethod string

const (
	MethodTOTP       ChallengeMethod = "totp"
	MethodBackupCode ChallengeMethod = "backup_code"
)

// Challenge is a pending second-factor verification.
type Challenge struct {
	UserID uuid.UUID       `json:"userId"`
	Method ChallengeMethod `json:"method"`
}

// Session is a point-in-time view of the session. Tokens are populated only
// while Status is StatusAuthenticated.
type Session struct {
	Status       Status
	AccessToken  string
	RefreshToken string
	User         *User
	Challenge    *Challenge
	// Resolving is set while the persisted session is being restored.
	Resolving  bool
	Generation uint64
}

// Role returns the signed-in user's role, or RoleUnknown.
func (s Session) Role() Role {
	if s.User == nil {
		return RoleUnknown
	}
	return s.User.Role
}
