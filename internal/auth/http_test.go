// ABOUTME: Tests for the auth middleware resolution chain
// ABOUTME: Session cookie, then bearer API key, then localhost bypass

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/talkto/internal/store"
)

type fixture struct {
	auth     *Authenticator
	verifier *JWTVerifier
	store    *store.Store
	wsID     string
	userID   string
}

func setupAuth(t *testing.T, allowLocal bool) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	w := &store.Workspace{ID: uuid.NewString(), Name: "test", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkspace(ctx, w))

	u := &store.User{ID: uuid.NewString(), Name: "alice", Type: store.UserTypeHuman, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, u))
	require.NoError(t, st.AddWorkspaceMember(ctx, w.ID, u.ID, store.RoleAdmin, time.Now().UTC()))

	verifier := NewJWTVerifier([]byte("test-secret"))
	return &fixture{
		auth:     NewAuthenticator(st, verifier, w.ID, allowLocal),
		verifier: verifier,
		store:    st,
		wsID:     w.ID,
		userID:   u.ID,
	}
}

// capture runs a request through the middleware and returns the status code
// plus whatever AuthContext reached the handler.
func (f *fixture) capture(t *testing.T, mutate func(*http.Request)) (int, *AuthContext) {
	t.Helper()
	var got *AuthContext
	handler := f.auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, got
}

func TestMiddleware_SessionCookie(t *testing.T) {
	f := setupAuth(t, false)

	token, err := f.verifier.Generate(f.userID, f.wsID, time.Hour)
	require.NoError(t, err)

	code, got := f.capture(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	})
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, got)
	assert.Equal(t, f.userID, got.UserID)
	assert.Equal(t, store.RoleAdmin, got.Role)
	assert.Equal(t, SourceSession, got.Source)
}

func TestMiddleware_ExpiredCookieRejected(t *testing.T) {
	f := setupAuth(t, false)

	token, err := f.verifier.Generate(f.userID, f.wsID, -time.Minute)
	require.NoError(t, err)

	code, _ := f.capture(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMiddleware_NonMemberSessionRejected(t *testing.T) {
	f := setupAuth(t, false)

	// Valid signature, but the user was never added to the workspace.
	token, err := f.verifier.Generate(uuid.NewString(), f.wsID, time.Hour)
	require.NoError(t, err)

	code, _ := f.capture(t, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMiddleware_APIKey(t *testing.T) {
	f := setupAuth(t, false)
	ctx := context.Background()

	token, hash, prefix, err := GenerateAPIKey()
	require.NoError(t, err)
	key := &store.APIKey{
		ID: uuid.NewString(), WorkspaceID: f.wsID, Name: "ci",
		TokenHash: hash, TokenPrefix: prefix, CreatedBy: f.userID,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateAPIKey(ctx, key))

	code, got := f.capture(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, got)
	assert.Equal(t, f.userID, got.UserID)
	assert.Equal(t, SourceAPIKey, got.Source)

	// Use is recorded.
	keys, err := f.store.ListAPIKeys(ctx, f.wsID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestMiddleware_UnknownAPIKeyRejected(t *testing.T) {
	f := setupAuth(t, false)

	code, _ := f.capture(t, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer ttk_deadbeef")
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMiddleware_LocalhostBypass(t *testing.T) {
	f := setupAuth(t, true)

	code, got := f.capture(t, func(r *http.Request) {
		r.RemoteAddr = "127.0.0.1:9999"
	})
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, got)
	assert.Empty(t, got.UserID)
	assert.Equal(t, f.wsID, got.WorkspaceID)
	assert.True(t, got.IsAdmin())
	assert.Equal(t, SourceLocalhost, got.Source)
}

func TestMiddleware_LocalhostBypassDisabled(t *testing.T) {
	f := setupAuth(t, false)

	code, _ := f.capture(t, func(r *http.Request) {
		r.RemoteAddr = "127.0.0.1:9999"
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMiddleware_RemoteUnauthenticated(t *testing.T) {
	f := setupAuth(t, true)

	// Bypass applies to loopback only.
	code, _ := f.capture(t, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRequireAdmin(t *testing.T) {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	run := func(authCtx *AuthContext) int {
		req := httptest.NewRequest(http.MethodGet, "/api/workspace/api-keys", nil)
		if authCtx != nil {
			req = req.WithContext(WithAuth(req.Context(), authCtx))
		}
		rec := httptest.NewRecorder()
		RequireAdmin(http.HandlerFunc(ok)).ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, run(nil))
	assert.Equal(t, http.StatusForbidden, run(&AuthContext{Role: store.RoleMember}))
	assert.Equal(t, http.StatusOK, run(&AuthContext{Role: store.RoleAdmin}))
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:80"))
	assert.True(t, isLoopback("[::1]:8080"))
	assert.False(t, isLoopback("203.0.113.9:80"))
	assert.False(t, isLoopback("not-an-addr"))
}
