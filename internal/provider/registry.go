// ABOUTME: Adapter lookup by agent type plus shared liveness maps
// ABOUTME: System agents have no adapter and are never invocable

package provider

import (
	"context"
	"fmt"

	"github.com/2389/talkto/internal/store"
)

// Registry maps agent types to their adapters.
type Registry struct {
	adapters map[store.AgentType]Adapter

	// register-time liveness for subprocess providers
	claudeLiveness *LivenessMap
	codexLiveness  *LivenessMap
}

// NewRegistry wires the default adapter set.
func NewRegistry() *Registry {
	claude := NewLivenessMap()
	codex := NewLivenessMap()
	return &Registry{
		adapters: map[store.AgentType]Adapter{
			store.AgentTypeOpenCode:   NewOpenCodeAdapter(),
			store.AgentTypeClaudeCode: NewClaudeCodeAdapter(claude),
			store.AgentTypeCodex:      NewCodexAdapter(codex),
		},
		claudeLiveness: claude,
		codexLiveness:  codex,
	}
}

// For returns the adapter for an agent type.
func (r *Registry) For(t store.AgentType) (Adapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("no provider adapter for agent type %q", t)
	}
	return a, nil
}

// MarkSessionAlive records a subprocess session as reachable at register
// time. OpenCode sessions are probed remotely and need no marking.
func (r *Registry) MarkSessionAlive(t store.AgentType, sessionID string) {
	switch t {
	case store.AgentTypeClaudeCode:
		r.claudeLiveness.MarkAlive(sessionID)
	case store.AgentTypeCodex:
		r.codexLiveness.MarkAlive(sessionID)
	}
}

// MarkSessionDead removes a subprocess session on disconnect.
func (r *Registry) MarkSessionDead(t store.AgentType, sessionID string) {
	switch t {
	case store.AgentTypeClaudeCode:
		r.claudeLiveness.MarkDead(sessionID)
	case store.AgentTypeCodex:
		r.codexLiveness.MarkDead(sessionID)
	}
}

// DiscoverOpenCode probes the conventional local OpenCode server for a
// session matching projectPath. Used when a registration omits serverUrl.
func (r *Registry) DiscoverOpenCode(ctx context.Context, projectPath string) (serverURL, sessionID string, ok bool) {
	a, isOpenCode := r.adapters[store.AgentTypeOpenCode].(*OpenCodeAdapter)
	if !isOpenCode {
		return "", "", false
	}
	return a.DiscoverSession(ctx, projectPath)
}

// TargetFor builds the prompt target for an agent.
func TargetFor(a *store.Agent) Target {
	return Target{
		AgentName:   a.AgentName,
		ServerURL:   a.ServerURL,
		SessionID:   a.ProviderSessionID,
		ProjectPath: a.ProjectPath,
	}
}
