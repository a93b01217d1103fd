// Package guard decides what a screen shows for a given session.
package guard

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/aussiebroadwan/opsdash/internal/opsdash/domain"
)

const (
	PathHome           = "/"
	PathLogin          = "/login"
	PathTwoFactor      = "/login/2fa"
	PathRegister       = "/register"
	PathForgotPassword = "/forgot-password"
	PathClients        = "/clients"
	PathSessions       = "/sessions"
)

var ErrUnknownRoute = errors.New("guard: unknown route")

type Kind int

const (
	KindPublic Kind = iota
	KindGuest
	KindProtected
)

func (k Kind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindGuest:
		return "guest"
	case KindProtected:
		return "protected"
	default:
		return "invalid"
	}
}

type Action int

const (
	ActionRender Action = iota
	ActionRedirect
	ActionForbidden
	ActionLoading
)

func (a Action) String() string {
	switch a {
	case ActionRender:
		return "render"
	case ActionRedirect:
		return "redirect"
	case ActionForbidden:
		return "forbidden"
	case ActionLoading:
		return "loading"
	default:
		return "invalid"
	}
}

// Decision is the outcome of evaluating a route. Target is set for redirects.
type Decision struct {
	Action Action
	Target string
}

var (
	render  = Decision{Action: ActionRender}
	loading = Decision{Action: ActionLoading}
)

func redirect(to string) Decision { return Decision{Action: ActionRedirect, Target: to} }

// Rule gates a single route.
type Rule struct {
	Kind  Kind
	Roles []domain.Role
}

// ProtectedRoute requires a signed-in session and, when roles are given, one of those roles.
func ProtectedRoute(roles ...domain.Role) Rule {
	return Rule{Kind: KindProtected, Roles: slices.Clone(roles)}
}

// GuestRoute is for screens that only make sense while signed out.
func GuestRoute() Rule { return Rule{Kind: KindGuest} }

func PublicRoute() Rule { return Rule{Kind: KindPublic} }

func (r Rule) Evaluate(s domain.Session) Decision {
	switch r.Kind {
	case KindPublic:
		return render

	case KindGuest:
		if s.Resolving {
			return loading
		}
		if s.Status == domain.StatusAuthenticated {
			return redirect(PathHome)
		}
		return render

	case KindProtected:
		if s.Resolving {
			return loading
		}
		if s.Status != domain.StatusAuthenticated {
			return redirect(PathLogin)
		}
		if len(r.Roles) > 0 && !slices.Contains(r.Roles, s.Role()) {
			return Decision{Action: ActionForbidden}
		}
		return render

	default:
		return Decision{Action: ActionForbidden}
	}
}

// Router maps paths to rules.
type Router struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

func NewRouter() *Router {
	return &Router{rules: make(map[string]Rule)}
}

// DefaultRouter registers the dashboard's built-in screens.
func DefaultRouter() *Router {
	r := NewRouter()
	r.Handle(PathLogin, GuestRoute())
	r.Handle(PathTwoFactor, GuestRoute())
	r.Handle(PathRegister, GuestRoute())
	r.Handle(PathForgotPassword, GuestRoute())
	r.Handle(PathHome, ProtectedRoute())
	r.Handle(PathClients, ProtectedRoute(domain.RoleSuperAdmin, domain.RoleAdmin))
	r.Handle(PathSessions, ProtectedRoute())
	return r
}

func (r *Router) Handle(path string, rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[path] = rule
}

func (r *Router) Rule(path string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[path]
	return rule, ok
}

func (r *Router) Evaluate(path string, s domain.Session) (Decision, error) {
	rule, ok := r.Rule(path)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownRoute, path)
	}
	return rule.Evaluate(s), nil
}

// Paths lists registered routes in lexical order.
func (r *Router) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.rules))
	for p := range r.rules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Navigator performs a hard navigation, used when a session is torn down.
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }
