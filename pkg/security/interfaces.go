package security

import (
	"errors"
	"net/http"
	"slices"
)

var (
	ErrMissingToken = errors.New("authentication token required")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// AdminRole grants access to every card
const AdminRole = "admin"

// UserContext holds authenticated user information
type UserContext struct {
	UserID    int
	UserName  string
	SessionID string
	RemoteID  string
	Roles     []string
	Email     string
	Claims    map[string]any
}

// HasRole reports whether the user carries role
func (u *UserContext) HasRole(role string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Roles, role)
}

// IsAdmin reports whether the user has the admin role
func (u *UserContext) IsAdmin() bool {
	return u.HasRole(AdminRole)
}

// Authenticator extracts and validates the user behind an HTTP request.
// Returns ErrMissingToken when no credentials were presented and
// ErrInvalidToken when they could not be verified.
type Authenticator interface {
	Authenticate(r *http.Request) (*UserContext, error)
}

// AuthenticatorFunc adapts a function to Authenticator
type AuthenticatorFunc func(r *http.Request) (*UserContext, error)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (*UserContext, error) {
	return f(r)
}
