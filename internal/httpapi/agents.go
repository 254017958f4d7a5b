// ABOUTME: Agent roster endpoint with derived ghost flags

package httpapi

import "net/http"

func (a *API) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := a.registry.ListAgents(r.Context())
	if err != nil {
		a.writeStoreError(w, err)
		return
	}
	views := make([]agentView, len(agents))
	for i, ag := range agents {
		views[i] = newAgentView(ag.Agent, ag.IsGhost)
	}
	writeJSON(w, http.StatusOK, views)
}
