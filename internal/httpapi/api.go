// ABOUTME: REST and WebSocket surface for operator UIs and scripts
// ABOUTME: Routes mount under /api with the auth middleware; /health is open

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/talkto/internal/auth"
	"github.com/2389/talkto/internal/channels"
	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/registry"
	"github.com/2389/talkto/internal/router"
	"github.com/2389/talkto/internal/store"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// Config carries the API surface's dependencies.
type Config struct {
	Store       *store.Store
	Channels    *channels.Manager
	Router      *router.Router
	Registry    *registry.Registry
	Events      *hub.Hub
	Auth        *auth.Authenticator
	Verifier    *auth.JWTVerifier
	WorkspaceID string

	// OperatorID is the user the localhost bypass writes as. Requests that
	// need a sender and carry no user identity fall back to it.
	OperatorID string

	Logger *slog.Logger
}

// API serves the REST and WebSocket endpoints.
type API struct {
	store       *store.Store
	channels    *channels.Manager
	router      *router.Router
	registry    *registry.Registry
	events      *hub.Hub
	auth        *auth.Authenticator
	verifier    *auth.JWTVerifier
	workspaceID string
	operatorID  string
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// New creates the API surface.
func New(cfg Config) (*API, error) {
	if cfg.Store == nil || cfg.Channels == nil || cfg.Router == nil ||
		cfg.Registry == nil || cfg.Events == nil || cfg.Auth == nil || cfg.Verifier == nil {
		return nil, fmt.Errorf("httpapi: missing dependency")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:       cfg.Store,
		channels:    cfg.Channels,
		router:      cfg.Router,
		registry:    cfg.Registry,
		events:      cfg.Events,
		auth:        cfg.Auth,
		verifier:    cfg.Verifier,
		workspaceID: cfg.WorkspaceID,
		operatorID:  cfg.OperatorID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local-first deployment; the auth middleware gates access.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "httpapi"),
	}, nil
}

// RegisterRoutes mounts every endpoint on the mux. All /api routes and the
// WebSocket endpoint run behind the auth middleware; /health and invite
// redemption stay open.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /api/invites/redeem", a.handleRedeemInvite)

	a.protect(mux, "GET /ws", a.handleWebSocket)

	a.protect(mux, "GET /api/channels", a.handleListChannels)
	a.protect(mux, "POST /api/channels", a.handleCreateChannel)
	a.protect(mux, "GET /api/channels/{id}", a.handleGetChannel)
	a.protect(mux, "POST /api/channels/{id}/join", a.handleJoinChannel)
	a.protect(mux, "PUT /api/channels/{id}/topic", a.handleSetTopic)
	a.protect(mux, "GET /api/channels/{id}/export", a.handleExportChannel)
	a.protect(mux, "POST /api/channels/{id}/read", a.handleMarkRead)
	a.protect(mux, "GET /api/channels/{id}/pinned", a.handleListPinned)

	a.protect(mux, "GET /api/channels/{id}/messages", a.handleListMessages)
	a.protect(mux, "POST /api/channels/{id}/messages", a.handlePostMessage)
	a.protect(mux, "PATCH /api/channels/{id}/messages/{mid}", a.handleEditMessage)
	a.protect(mux, "DELETE /api/channels/{id}/messages/{mid}", a.handleDeleteMessage)
	a.protect(mux, "POST /api/channels/{id}/messages/{mid}/pin", a.handlePinMessage)
	a.protect(mux, "POST /api/channels/{id}/messages/{mid}/react", a.handleReactMessage)
	a.protect(mux, "GET /api/channels/{id}/messages/{mid}/reactions", a.handleListReactions)

	a.protect(mux, "POST /api/dm", a.handleProvisionDM)
	a.protect(mux, "GET /api/agents", a.handleListAgents)
	a.protect(mux, "GET /api/search", a.handleSearch)
	a.protect(mux, "GET /api/unread", a.handleUnreadCounts)

	a.protect(mux, "GET /api/features", a.handleListFeatures)
	a.protect(mux, "POST /api/features", a.handleCreateFeature)
	a.protect(mux, "POST /api/features/{id}/vote", a.handleVoteFeature)
	a.protect(mux, "PUT /api/features/{id}/status", a.handleSetFeatureStatus)
	a.protect(mux, "DELETE /api/features/{id}", a.handleDeleteFeature)

	a.protect(mux, "GET /api/workspace", a.handleGetWorkspace)
	a.protect(mux, "GET /api/workspace/members", a.handleListMembers)
	a.admin(mux, "GET /api/workspace/api-keys", a.handleListAPIKeys)
	a.admin(mux, "POST /api/workspace/api-keys", a.handleCreateAPIKey)
	a.admin(mux, "DELETE /api/workspace/api-keys/{id}", a.handleDeleteAPIKey)
	a.admin(mux, "GET /api/workspace/invites", a.handleListInvites)
	a.admin(mux, "POST /api/workspace/invites", a.handleCreateInvite)
	a.admin(mux, "POST /api/workspace/invites/{id}/revoke", a.handleRevokeInvite)
}

func (a *API) protect(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, a.auth.Middleware(h))
}

func (a *API) admin(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, a.auth.Middleware(auth.RequireAdmin(h)))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (a *API) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	a.events.Attach(conn, uuid.NewString())
}

// currentUser resolves the acting user: the authenticated user, or the
// operator account for the localhost bypass.
func (a *API) currentUser(r *http.Request) (*store.User, error) {
	authCtx := auth.MustFromContext(r.Context())
	userID := authCtx.UserID
	if userID == "" {
		userID = a.operatorID
	}
	if userID == "" {
		return nil, errors.New("no user identity on request")
	}
	return a.store.GetUser(r.Context(), userID)
}

// channelFromPath resolves the {id} path segment to a channel.
func (a *API) channelFromPath(r *http.Request) (*store.Channel, error) {
	return a.store.GetChannel(r.Context(), r.PathValue("id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads the request body into v. Any decode failure is a 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeStoreError maps store sentinel errors to HTTP statuses.
func (a *API) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, store.ErrNotSender):
		writeError(w, http.StatusForbidden, "not the message sender")
	case errors.Is(err, store.ErrWrongChannel):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, channels.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
