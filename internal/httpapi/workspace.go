// ABOUTME: Workspace endpoints: info, members, API keys, and invites
// ABOUTME: Invite redemption issues the session cookie for new members

package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/talkto/internal/auth"
	"github.com/2389/talkto/internal/store"
)

// sessionTTL is how long a redeemed-invite session cookie lasts.
const sessionTTL = 7 * 24 * time.Hour

func (a *API) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.store.GetWorkspace(r.Context(), a.workspaceID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         ws.ID,
		"name":       ws.Name,
		"created_at": ws.CreatedAt,
	})
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.store.ListWorkspaceMembers(r.Context(), a.workspaceID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	views := make([]memberView, len(members))
	for i, m := range members {
		views[i] = memberView{
			UserID:   m.UserID,
			Name:     m.Name,
			UserType: string(m.UserType),
			Role:     string(m.Role),
			JoinedAt: m.JoinedAt,
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.store.ListAPIKeys(r.Context(), a.workspaceID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	views := make([]apiKeyView, len(keys))
	for i, k := range keys {
		views[i] = newAPIKeyView(k)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleCreateAPIKey mints a key and returns the full token exactly once.
func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	token, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	key := &store.APIKey{
		ID:          uuid.NewString(),
		WorkspaceID: a.workspaceID,
		Name:        req.Name,
		TokenHash:   hash,
		TokenPrefix: prefix,
		CreatedBy:   authCtx.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if key.CreatedBy == "" {
		key.CreatedBy = a.operatorID
	}
	if err := a.store.CreateAPIKey(r.Context(), key); err != nil {
		a.writeStoreError(w, err)
		return
	}

	view := newAPIKeyView(key)
	view.Token = token
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteAPIKey(r.Context(), r.PathValue("id")); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := a.store.ListInvites(r.Context(), a.workspaceID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	views := make([]inviteView, len(invites))
	for i, inv := range invites {
		views[i] = newInviteView(inv)
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role      string `json:"role"`
		MaxUses   int    `json:"max_uses"`
		ExpiresIn string `json:"expires_in"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	role := store.RoleMember
	switch req.Role {
	case "", string(store.RoleMember):
	case string(store.RoleAdmin):
		role = store.RoleAdmin
	default:
		writeError(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "expires_in must be a positive duration")
			return
		}
		ts := time.Now().UTC().Add(d)
		expiresAt = &ts
	}

	token, err := auth.GenerateInviteToken()
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	authCtx := auth.MustFromContext(r.Context())
	inv := &store.Invite{
		ID:          uuid.NewString(),
		WorkspaceID: a.workspaceID,
		Token:       token,
		Role:        role,
		MaxUses:     req.MaxUses,
		ExpiresAt:   expiresAt,
		CreatedBy:   authCtx.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateInvite(r.Context(), inv); err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInviteView(inv))
}

func (a *API) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	if err := a.store.RevokeInvite(r.Context(), r.PathValue("id"), time.Now().UTC()); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRedeemInvite is unauthenticated: the invitee presents the token and
// a name, gets a human user plus membership, and receives a session cookie.
func (a *API) handleRedeemInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Token == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "token and name are required")
		return
	}

	now := time.Now().UTC()
	inv, err := a.store.RedeemInvite(r.Context(), req.Token, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInviteExpired),
			errors.Is(err, store.ErrInviteRevoked),
			errors.Is(err, store.ErrInviteUsedUp):
			writeError(w, http.StatusGone, err.Error())
		default:
			a.writeStoreError(w, err)
		}
		return
	}

	user, err := a.store.GetUserByName(r.Context(), req.Name)
	switch {
	case err == nil:
		if user.Type != store.UserTypeHuman {
			writeError(w, http.StatusConflict, "name is taken by an agent")
			return
		}
	case errors.Is(err, store.ErrNotFound):
		user = &store.User{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Type:      store.UserTypeHuman,
			CreatedAt: now,
		}
		if err := a.store.CreateUser(r.Context(), user); err != nil {
			a.writeStoreError(w, err)
			return
		}
	default:
		a.writeStoreError(w, err)
		return
	}

	if err := a.store.AddWorkspaceMember(r.Context(), inv.WorkspaceID, user.ID, inv.Role, now); err != nil {
		a.writeStoreError(w, err)
		return
	}

	token, err := a.verifier.Generate(user.ID, inv.WorkspaceID, sessionTTL)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(sessionTTL),
	})

	a.logger.Info("invite redeemed", "user", user.Name, "role", inv.Role)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id":      user.ID,
		"name":         user.Name,
		"workspace_id": inv.WorkspaceID,
		"role":         string(inv.Role),
	})
}
