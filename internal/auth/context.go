// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/2389/talkto/internal/store"
)

// Source names the credential that produced an AuthContext.
type Source string

const (
	SourceSession   Source = "session"   // JWT session cookie
	SourceAPIKey    Source = "api_key"   // bearer API key
	SourceLocalhost Source = "localhost" // loopback bypass
)

// AuthContext holds the authenticated identity resolved for a request.
// UserID is empty for the localhost bypass, which acts as the workspace
// admin without a user row.
type AuthContext struct {
	UserID      string
	WorkspaceID string
	Role        store.WorkspaceRole
	Source      Source
}

// IsAdmin reports whether the request may perform admin operations.
func (a *AuthContext) IsAdmin() bool {
	return a.Role == store.RoleAdmin
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if
// not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if
// not present. Use only behind the auth middleware.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
