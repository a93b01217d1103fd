package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of operator roles.
type Role int

const (
	RoleUnknown Role = iota
	RoleSuperAdmin
	RoleAdmin
	RoleAgent
	RoleViewer
)

// ParseRole accepts exactly the API's role names.
func ParseRole(s string) (Role, error) {
	switch s {
	case "super_admin":
		return RoleSuperAdmin, nil
	case "admin":
		return RoleAdmin, nil
	case "agent":
		return RoleAgent, nil
	case "viewer":
		return RoleViewer, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleSuperAdmin:
		return "super_admin"
	case RoleAdmin:
		return "admin"
	case RoleAgent:
		return "agent"
	case RoleViewer:
		return "viewer"
	default:
		return "unknown"
	}
}

// IsPrivileged reports whether the role may list and switch between tenants.
func (r Role) IsPrivileged() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin:
		return true
	case RoleAgent, RoleViewer, RoleUnknown:
		return false
	}
	return false
}

// CanWrite reports whether the role may mutate tenant data.
func (r Role) CanWrite() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleAgent:
		return true
	case RoleViewer, RoleUnknown:
		return false
	}
	return false
}

func (r Role) MarshalText() ([]byte, error) {
	if r == RoleUnknown {
		return nil, fmt.Errorf("cannot encode unknown role")
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRoles parses a comma separated list, e.g. "admin,super_admin".
func ParseRoles(s string) ([]Role, error) {
	var roles []Role
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := ParseRole(part)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}
