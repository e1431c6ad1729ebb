package auth

import (
	"context"

	"github.com/straye-as/sales-pipeline-api/internal/domain"
)

// SystemUserID identifies requests authenticated with the admin API key
const SystemUserID int64 = 0

// UserContext holds authenticated user information
type UserContext struct {
	UserID      int64
	DisplayName string
	Role        domain.UserRole
}

type contextKey string

const userContextKey contextKey = "userContext"

// WithUserContext adds user context to the context
func WithUserContext(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext extracts user context from the context
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// IsAdmin reports whether the user may perform destructive operations
func (u *UserContext) IsAdmin() bool {
	return u.Role.IsAdmin()
}

// HasAnyRole checks if user has any of the specified roles
func (u *UserContext) HasAnyRole(roles ...domain.UserRole) bool {
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

// ActorID returns the id of the authenticated user, or SystemUserID when the
// context carries none
func ActorID(ctx context.Context) int64 {
	if user, ok := FromContext(ctx); ok {
		return user.UserID
	}
	return SystemUserID
}

// RoleFromContext returns the caller's role, empty when unauthenticated
func RoleFromContext(ctx context.Context) domain.UserRole {
	if user, ok := FromContext(ctx); ok {
		return user.Role
	}
	return ""
}
