// ABOUTME: Channel endpoints: listing, creation, joins, topics, DM
// ABOUTME: provisioning, pinned lists, read receipts, and JSON export

package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

func (a *API) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := a.channels.List(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChannelViews(chs))
}

func (a *API) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Topic string `json:"topic"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	ch, err := a.channels.CreateCustom(r.Context(), req.Name, req.Topic, user.ID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newChannelView(ch))
}

func (a *API) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChannelView(ch))
}

func (a *API) handleJoinChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	// The body may name another user; default is the caller.
	var req struct {
		UserID string `json:"user_id"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		user, err := a.currentUser(r)
		if err != nil {
			writeError(w, http.StatusForbidden, "no user identity on request")
			return
		}
		userID = user.ID
	}

	joined, err := a.store.AddChannelMember(r.Context(), ch.ID, userID, time.Now().UTC())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel": newChannelView(ch),
		"user_id": userID,
		"joined":  joined,
	})
}

func (a *API) handleSetTopic(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	var req struct {
		Topic string `json:"topic"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := a.channels.SetTopic(r.Context(), ch.Name, req.Topic)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChannelView(updated))
}

// handleProvisionDM ensures an agent's DM channel exists and joins both the
// agent and the caller to it.
func (a *API) handleProvisionDM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentName string `json:"agent_name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentName == "" {
		writeError(w, http.StatusBadRequest, "agent_name is required")
		return
	}

	agent, err := a.store.GetAgentByName(r.Context(), req.AgentName)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	ch, err := a.channels.EnsureDMChannel(r.Context(), agent.AgentName)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	now := time.Now().UTC()
	if _, err := a.store.AddChannelMember(r.Context(), ch.ID, agent.UserID, now); err != nil {
		a.writeStoreError(w, err)
		return
	}
	if _, err := a.store.AddChannelMember(r.Context(), ch.ID, user.ID, now); err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newChannelView(ch))
}

func (a *API) handleListPinned(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	msgs, err := a.store.ListPinnedMessages(r.Context(), ch.ID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageViews(msgs))
}

// handleMarkRead advances the caller's read watermark for the channel.
func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}
	if err := a.store.MarkRead(r.Context(), user.ID, ch.ID, time.Now().UTC()); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnreadCounts(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}
	counts, err := a.store.CountUnread(r.Context(), user.ID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	if counts == nil {
		counts = map[string]int{}
	}
	writeJSON(w, http.StatusOK, counts)
}

// exportPageSize bounds each history page during export.
const exportPageSize = 500

// handleExportChannel streams the full channel history as a downloadable
// JSON document, oldest first.
func (a *API) handleExportChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	var all []messageView
	before := time.Time{}
	for {
		page, err := a.store.ListMessages(r.Context(), ch.ID, exportPageSize, before)
		if err != nil {
			a.writeStoreError(w, err)
			return
		}
		if len(page) == 0 {
			break
		}
		// Pages come back oldest-first; prepend so the output stays ordered.
		all = append(newMessageViews(page), all...)
		before = page[0].CreatedAt
		if len(page) < exportPageSize {
			break
		}
	}

	filename := strings.TrimPrefix(ch.Name, "#") + "-export.json"
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":     newChannelView(ch),
		"messages":    all,
		"exported_at": time.Now().UTC(),
	})
}
