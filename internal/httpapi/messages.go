// ABOUTME: Message endpoints: history, posting, edits, deletes, pins,
// ABOUTME: reactions, and search

package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/2389/talkto/internal/router"
	"github.com/2389/talkto/internal/store"
)

// handleListMessages returns channel history, newest first. before= names a
// message ID to page backwards from.
func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	var before time.Time
	if beforeID := r.URL.Query().Get("before"); beforeID != "" {
		cursor, err := a.store.GetMessage(r.Context(), beforeID)
		if err != nil {
			a.writeStoreError(w, err)
			return
		}
		before = cursor.CreatedAt
	}

	msgs, err := a.store.ListMessages(r.Context(), ch.ID, limit, before)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	// History pages come back oldest-first; this endpoint serves newest-first.
	views := newMessageViews(msgs)
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	var req struct {
		Content  string   `json:"content"`
		Mentions []string `json:"mentions"`
		ParentID string   `json:"parent_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	msg, err := a.router.Send(r.Context(), router.SendParams{
		ChannelName: ch.Name,
		SenderID:    user.ID,
		SenderName:  user.Name,
		SenderType:  user.Type,
		Content:     req.Content,
		Mentions:    req.Mentions,
		ParentID:    req.ParentID,
	})
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageView(msg))
}

// messageFromPath resolves {mid} and confirms it belongs to the channel in
// the path. A mismatch reads as not-found.
func (a *API) messageFromPath(r *http.Request, ch *store.Channel) (*store.Message, error) {
	msg, err := a.store.GetMessage(r.Context(), r.PathValue("mid"))
	if err != nil {
		return nil, err
	}
	if msg.ChannelID != ch.ID {
		return nil, store.ErrNotFound
	}
	return msg, nil
}

func (a *API) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	msg, err := a.messageFromPath(r, ch)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	edited, err := a.router.Edit(r.Context(), msg.ID, user.ID, req.Content)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageView(edited))
}

func (a *API) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	msg, err := a.messageFromPath(r, ch)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}
	if err := a.router.Delete(r.Context(), msg.ID, user.ID); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePinMessage(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	msg, err := a.messageFromPath(r, ch)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	pinned, err := a.router.Pin(r.Context(), msg.ID, user.ID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pinned": pinned})
}

func (a *API) handleReactMessage(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	msg, err := a.messageFromPath(r, ch)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	var req struct {
		Emoji string `json:"emoji"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}

	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	added, err := a.router.React(r.Context(), msg.ID, user.ID, req.Emoji)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	action := "removed"
	if added {
		action = "added"
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": action, "emoji": req.Emoji})
}

func (a *API) handleListReactions(w http.ResponseWriter, r *http.Request) {
	ch, err := a.channelFromPath(r)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	msg, err := a.messageFromPath(r, ch)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}

	reactions, err := a.store.ListReactions(r.Context(), msg.ID)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	views := make([]reactionView, len(reactions))
	for i, re := range reactions {
		views[i] = reactionView{
			MessageID: re.MessageID,
			UserID:    re.UserID,
			Emoji:     re.Emoji,
			CreatedAt: re.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, views)
}

// handleSearch runs a filtered substring search. q is required.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	filter := store.SearchFilter{Query: query}
	if name := q.Get("channel"); name != "" {
		ch, err := a.channels.Get(r.Context(), name)
		if err != nil {
			a.writeStoreError(w, err)
			return
		}
		filter.ChannelID = ch.ID
	}
	if sender := q.Get("sender"); sender != "" {
		user, err := a.store.GetUserByName(r.Context(), sender)
		if err != nil {
			a.writeStoreError(w, err)
			return
		}
		filter.SenderID = user.ID
	}
	for param, dst := range map[string]**time.Time{"after": &filter.After, "before": &filter.Before} {
		if raw := q.Get(param); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, param+" must be RFC 3339")
				return
			}
			*dst = &ts
		}
	}

	results, err := a.router.Search(r.Context(), filter)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": newMessageViews(results),
		"count":   len(results),
	})
}
