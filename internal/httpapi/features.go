// ABOUTME: Feature request board endpoints: CRUD, votes, status transitions
// ABOUTME: Mutations broadcast feature_update frames

package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/store"
)

func (a *API) publishFeature(f *store.FeatureRequest) {
	a.events.Publish(hub.EventFeatureUpdate, hub.FeatureUpdatePayload{
		FeatureID: f.ID,
		Title:     f.Title,
		Status:    string(f.Status),
		VoteCount: f.VoteCount,
	})
}

func (a *API) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := a.store.ListFeatureRequests(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	views := make([]featureView, len(features))
	for i, f := range features {
		views[i] = newFeatureView(f)
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCreateFeature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	now := time.Now().UTC()
	f := &store.FeatureRequest{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		Status:      store.FeatureStatusOpen,
		CreatedBy:   user.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateFeatureRequest(r.Context(), f); err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.publishFeature(f)
	writeJSON(w, http.StatusCreated, newFeatureView(f))
}

func (a *API) handleVoteFeature(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vote int `json:"vote"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Vote != 1 && req.Vote != -1 {
		writeError(w, http.StatusBadRequest, "vote must be 1 or -1")
		return
	}

	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, http.StatusForbidden, "no user identity on request")
		return
	}

	id := r.PathValue("id")
	if err := a.store.VoteFeature(r.Context(), id, user.ID, req.Vote, time.Now().UTC()); err != nil {
		a.writeStoreError(w, err)
		return
	}
	f, err := a.store.GetFeatureRequest(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.publishFeature(f)
	writeJSON(w, http.StatusOK, newFeatureView(f))
}

var validFeatureStatuses = map[store.FeatureStatus]bool{
	store.FeatureStatusOpen:       true,
	store.FeatureStatusPlanned:    true,
	store.FeatureStatusInProgress: true,
	store.FeatureStatusDone:       true,
	store.FeatureStatusDeclined:   true,
}

func (a *API) handleSetFeatureStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	status := store.FeatureStatus(req.Status)
	if !validFeatureStatuses[status] {
		writeError(w, http.StatusBadRequest, "unknown status: "+req.Status)
		return
	}

	id := r.PathValue("id")
	if err := a.store.SetFeatureStatus(r.Context(), id, status, req.Reason, time.Now().UTC()); err != nil {
		a.writeStoreError(w, err)
		return
	}
	f, err := a.store.GetFeatureRequest(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	a.publishFeature(f)
	writeJSON(w, http.StatusOK, newFeatureView(f))
}

func (a *API) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteFeatureRequest(r.Context(), r.PathValue("id")); err != nil {
		a.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
