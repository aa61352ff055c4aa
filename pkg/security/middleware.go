package security

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	UserRolesKey   contextKey = "user_roles"
	UserContextKey contextKey = "user_context"
)

// WithUserContext returns ctx carrying user
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	ctx = context.WithValue(ctx, UserContextKey, user)
	ctx = context.WithValue(ctx, UserIDKey, user.UserID)
	ctx = context.WithValue(ctx, UserRolesKey, user.Roles)
	return ctx
}

// GetUserContext extracts the full user context from ctx
func GetUserContext(ctx context.Context) (*UserContext, bool) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	return userCtx, ok
}

// GetUserID extracts the user ID from context
func GetUserID(ctx context.Context) (int, bool) {
	userID, ok := ctx.Value(UserIDKey).(int)
	return userID, ok
}

// NewAuthHandler authenticates the request and returns 401 on failure.
// On success the user is stored in the request context for next.
func NewAuthHandler(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth == nil {
			http.Error(w, "Security provider not configured", http.StatusInternalServerError)
			return
		}

		userCtx, err := auth.Authenticate(r)
		if err != nil {
			http.Error(w, "Authentication failed: "+err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
	})
}
