// ABOUTME: HTTP middleware resolving session cookies, API keys, and the
// ABOUTME: localhost bypass into a per-request AuthContext

package auth

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/2389/talkto/internal/store"
)

// Authenticator resolves request credentials against the store.
type Authenticator struct {
	store       *store.Store
	verifier    *JWTVerifier
	workspaceID string // default workspace the localhost bypass acts on
	allowLocal  bool
	logger      *slog.Logger
}

// NewAuthenticator creates an authenticator. When allowLocal is true,
// unauthenticated loopback requests act as the default workspace's admin,
// which suits a single-user local install.
func NewAuthenticator(st *store.Store, verifier *JWTVerifier, workspaceID string, allowLocal bool) *Authenticator {
	return &Authenticator{
		store:       st,
		verifier:    verifier,
		workspaceID: workspaceID,
		allowLocal:  allowLocal,
		logger:      slog.Default().With("component", "auth"),
	}
}

// Middleware authenticates the request and attaches an AuthContext.
// Resolution order: session cookie, bearer API key, localhost bypass.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authCtx := a.resolve(r); authCtx != nil {
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"authentication required"}`))
	})
}

// RequireAdmin rejects non-admin requests. Must run behind Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := FromContext(r.Context())
		if authCtx == nil {
			http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
			return
		}
		if !authCtx.IsAdmin() {
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) resolve(r *http.Request) *AuthContext {
	if authCtx := a.fromSessionCookie(r); authCtx != nil {
		return authCtx
	}
	if authCtx := a.fromAPIKey(r); authCtx != nil {
		return authCtx
	}
	if a.allowLocal && isLoopback(r.RemoteAddr) {
		return &AuthContext{
			WorkspaceID: a.workspaceID,
			Role:        store.RoleAdmin,
			Source:      SourceLocalhost,
		}
	}
	return nil
}

func (a *Authenticator) fromSessionCookie(r *http.Request) *AuthContext {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil
	}

	claims, err := a.verifier.Verify(cookie.Value)
	if err != nil {
		a.logger.Debug("rejected session cookie", "error", err)
		return nil
	}

	role, err := a.store.GetWorkspaceRole(r.Context(), claims.WorkspaceID, claims.UserID)
	if err != nil {
		a.logger.Debug("session user has no workspace membership",
			"user_id", claims.UserID, "workspace_id", claims.WorkspaceID)
		return nil
	}

	return &AuthContext{
		UserID:      claims.UserID,
		WorkspaceID: claims.WorkspaceID,
		Role:        role,
		Source:      SourceSession,
	}
}

func (a *Authenticator) fromAPIKey(r *http.Request) *AuthContext {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return nil
	}

	key, err := a.store.GetAPIKeyByHash(r.Context(), HashToken(token))
	if err != nil {
		a.logger.Debug("rejected api key", "error", err)
		return nil
	}

	// Best effort; a failed touch must not fail the request.
	if err := a.store.TouchAPIKey(r.Context(), key.ID, time.Now().UTC()); err != nil {
		a.logger.Warn("touching api key", "key_id", key.ID, "error", err)
	}

	return &AuthContext{
		UserID:      key.CreatedBy,
		WorkspaceID: key.WorkspaceID,
		Role:        store.RoleMember,
		Source:      SourceAPIKey,
	}
}

// isLoopback reports whether the remote address is 127.0.0.0/8 or ::1.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
