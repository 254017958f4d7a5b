// ABOUTME: Agent registry: registration, reconnect, disconnect, heartbeats
// ABOUTME: Owns the periodically rebuilt ghost cache (atomic snapshot swap)

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/2389/talkto/internal/channels"
	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/provider"
	"github.com/2389/talkto/internal/store"
)

// ghostRefreshInterval is the cadence of the liveness sweep.
const ghostRefreshInterval = 30 * time.Second

const maxNameAttempts = 100

// MascotName is the seeded system agent greeting new arrivals.
const MascotName = "tally"

// Registry manages agent lifecycle and liveness.
type Registry struct {
	store       *store.Store
	channels    *channels.Manager
	events      *hub.Hub
	providers   *provider.Registry
	workspaceID string
	promptsDir  string
	logger      *slog.Logger

	// agentName → isGhost; replaced wholesale, never mutated in place
	ghosts atomic.Value
}

// New creates a registry.
func New(st *store.Store, ch *channels.Manager, events *hub.Hub, providers *provider.Registry, workspaceID, promptsDir string) *Registry {
	r := &Registry{
		store:       st,
		channels:    ch,
		events:      events,
		providers:   providers,
		workspaceID: workspaceID,
		promptsDir:  promptsDir,
		logger:      slog.Default().With("component", "registry"),
	}
	r.ghosts.Store(map[string]bool{})
	return r
}

// RegisterParams are the inputs to RegisterOrConnect.
type RegisterParams struct {
	SessionID   string
	ProjectPath string
	AgentName   string // empty on first registration
	ServerURL   string
	AgentType   store.AgentType // empty: inferred from ServerURL
	PID         int
	TTY         string
}

// Registration is the payload returned to a registering agent.
type Registration struct {
	Agent          *store.Agent `json:"agent"`
	IsNew          bool         `json:"is_new"`
	MasterPrompt   string       `json:"master_prompt"`
	InjectPrompt   string       `json:"inject_prompt"`
	ProjectChannel string       `json:"project_channel"`
}

// RegisterOrConnect is the single entry point for agents joining the hub.
// A known agentName reconnects; otherwise a new agent is created under a
// generated name. Repeated calls converge provider credentials.
func (r *Registry) RegisterOrConnect(ctx context.Context, p RegisterParams) (*Registration, error) {
	agentType := p.AgentType
	if agentType == "" {
		if p.ServerURL != "" {
			agentType = store.AgentTypeOpenCode
		} else {
			agentType = store.AgentTypeClaudeCode
		}
	}
	if agentType == store.AgentTypeSystem {
		return nil, fmt.Errorf("agent type %q is reserved", store.AgentTypeSystem)
	}

	serverURL := p.ServerURL
	sessionID := p.SessionID

	// OpenCode needs a server URL; without one, probe the conventional
	// local port for a session in this project, or degrade to the
	// subprocess provider.
	if agentType == store.AgentTypeOpenCode && serverURL == "" {
		url, discovered, ok := r.providers.DiscoverOpenCode(ctx, p.ProjectPath)
		if ok {
			serverURL = url
			sessionID = discovered
		} else {
			r.logger.Warn("no local opencode server found, treating agent as claude_code",
				"project_path", p.ProjectPath)
			agentType = store.AgentTypeClaudeCode
		}
	}

	// Subprocess providers carry no server URL; clear any stale value.
	if agentType != store.AgentTypeOpenCode {
		serverURL = ""
	}

	projectName := filepath.Base(filepath.Clean(p.ProjectPath))

	var agent *store.Agent
	isNew := false

	if p.AgentName != "" {
		existing, err := r.store.GetAgentByName(ctx, p.AgentName)
		switch {
		case err == nil:
			if err := r.store.UpdateAgentConnection(ctx, p.AgentName, sessionID, serverURL,
				p.ProjectPath, projectName, store.AgentStatusOnline); err != nil {
				return nil, fmt.Errorf("reconnecting %s: %w", p.AgentName, err)
			}
			agent, err = r.store.GetAgent(ctx, existing.UserID)
			if err != nil {
				return nil, err
			}
		case errors.Is(err, store.ErrNotFound):
			// Requested name unknown; fall through to create.
		default:
			return nil, err
		}
	}

	if agent == nil {
		created, err := r.createAgent(ctx, agentType, sessionID, serverURL, p.ProjectPath, projectName)
		if err != nil {
			return nil, err
		}
		agent = created
		isNew = true
	}

	r.providers.MarkSessionAlive(agentType, sessionID)

	projectChannel, err := r.channels.EnsureProjectChannel(ctx, projectName, p.ProjectPath)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{channels.GeneralChannel, projectChannel.Name} {
		if _, _, err := r.channels.Join(ctx, name, agent.UserID); err != nil {
			return nil, fmt.Errorf("joining %s: %w", name, err)
		}
	}

	now := time.Now().UTC()
	sess := &store.Session{
		ID:            uuid.NewString(),
		AgentID:       agent.UserID,
		PID:           p.PID,
		TTY:           p.TTY,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	r.events.Publish(hub.EventAgentStatus, hub.AgentStatusPayload{
		AgentName: agent.AgentName,
		Status:    string(store.AgentStatusOnline),
	})

	vars := PromptVars{
		AgentName:      agent.AgentName,
		ProjectName:    projectName,
		ProjectChannel: projectChannel.Name,
	}
	r.logger.Info("agent registered",
		"agent_name", agent.AgentName, "type", agentType, "new", isNew, "project", projectName)

	return &Registration{
		Agent:          agent,
		IsNew:          isNew,
		MasterPrompt:   renderPrompt(r.promptsDir, "master.md", vars),
		InjectPrompt:   renderPrompt(r.promptsDir, "inject.md", vars),
		ProjectChannel: projectChannel.Name,
	}, nil
}

func (r *Registry) createAgent(ctx context.Context, agentType store.AgentType, sessionID, serverURL, projectPath, projectName string) (*store.Agent, error) {
	now := time.Now().UTC()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := GenerateName(sessionID, attempt)
		taken, err := r.store.AgentNameExists(ctx, name)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}

		user := &store.User{
			ID:        uuid.NewString(),
			Name:      name,
			Type:      store.UserTypeAgent,
			CreatedAt: now,
		}
		if err := r.store.CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue // raced another registration on the same name
			}
			return nil, err
		}

		agent := &store.Agent{
			UserID:            user.ID,
			AgentName:         name,
			AgentType:         agentType,
			ProjectPath:       projectPath,
			ProjectName:       projectName,
			Status:            store.AgentStatusOnline,
			ServerURL:         serverURL,
			ProviderSessionID: sessionID,
			WorkspaceID:       r.workspaceID,
			CreatedAt:         now,
		}
		if err := r.store.CreateAgent(ctx, agent); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				continue
			}
			return nil, err
		}
		return agent, nil
	}
	return nil, fmt.Errorf("exhausted %d name attempts for session %s", maxNameAttempts, sessionID)
}

// Disconnect sets the agent offline, ends its sessions, and drops its
// subprocess liveness mark.
func (r *Registry) Disconnect(ctx context.Context, agentName string) error {
	agent, err := r.store.GetAgentByName(ctx, agentName)
	if err != nil {
		return err
	}

	if err := r.store.UpdateAgentStatus(ctx, agentName, store.AgentStatusOffline); err != nil {
		return err
	}
	if err := r.store.EndSessions(ctx, agent.UserID, time.Now().UTC()); err != nil {
		return err
	}
	r.providers.MarkSessionDead(agent.AgentType, agent.ProviderSessionID)

	r.events.Publish(hub.EventAgentStatus, hub.AgentStatusPayload{
		AgentName: agentName,
		Status:    string(store.AgentStatusOffline),
	})
	r.logger.Info("agent disconnected", "agent_name", agentName)
	return nil
}

// Heartbeat refreshes the agent's active session watermark.
func (r *Registry) Heartbeat(ctx context.Context, agentName string) error {
	agent, err := r.store.GetAgentByName(ctx, agentName)
	if err != nil {
		return err
	}
	return r.store.Heartbeat(ctx, agent.UserID, time.Now().UTC())
}

// UpdateProfile applies profile fields and returns the updated agent.
func (r *Registry) UpdateProfile(ctx context.Context, agentName string, upd store.AgentProfileUpdate) (*store.Agent, error) {
	if err := r.store.UpdateAgentProfile(ctx, agentName, upd); err != nil {
		return nil, err
	}
	return r.store.GetAgentByName(ctx, agentName)
}

// AgentView is the /agents read model: persisted fields plus derived ghost.
type AgentView struct {
	*store.Agent
	IsGhost bool `json:"is_ghost"`
}

// ListAgents returns all agents with their derived ghost flag.
func (r *Registry) ListAgents(ctx context.Context) ([]*AgentView, error) {
	agents, err := r.store.ListAgents(ctx, r.workspaceID)
	if err != nil {
		return nil, err
	}
	views := make([]*AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, &AgentView{Agent: a, IsGhost: r.IsGhost(a.AgentName)})
	}
	return views, nil
}

// IsGhost reads the current ghost snapshot for an agent name.
func (r *Registry) IsGhost(agentName string) bool {
	return r.ghosts.Load().(map[string]bool)[agentName]
}

// RunGhostLoop refreshes the ghost cache on the given cadence until ctx is
// canceled. A non-positive interval falls back to the 30s default.
func (r *Registry) RunGhostLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = ghostRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.RefreshGhosts(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshGhosts(ctx)
		}
	}
}

// RefreshGhosts rebuilds the ghost cache and swaps it in atomically.
// Readers always see a complete snapshot. Status transitions are broadcast.
func (r *Registry) RefreshGhosts(ctx context.Context) {
	agents, err := r.store.ListAgents(ctx, r.workspaceID)
	if err != nil {
		r.logger.Error("ghost refresh failed", "error", err)
		return
	}

	prev := r.ghosts.Load().(map[string]bool)
	next := make(map[string]bool, len(agents))

	for _, a := range agents {
		ghost := r.computeGhost(ctx, a)
		next[a.AgentName] = ghost
		if prev[a.AgentName] != ghost {
			r.events.Publish(hub.EventAgentStatus, hub.AgentStatusPayload{
				AgentName: a.AgentName,
				Status:    string(a.Status),
				Ghost:     ghost,
			})
		}
	}

	r.ghosts.Store(next)
}

// computeGhost derives liveness for one agent. System agents are never
// ghosts. Subprocess agents additionally need an active session whose PID
// still exists.
func (r *Registry) computeGhost(ctx context.Context, a *store.Agent) bool {
	if a.AgentType == store.AgentTypeSystem {
		return false
	}

	adapter, err := r.providers.For(a.AgentType)
	if err != nil {
		return true
	}
	if !adapter.IsSessionAlive(ctx, provider.TargetFor(a)) {
		return true
	}

	if a.AgentType == store.AgentTypeClaudeCode || a.AgentType == store.AgentTypeCodex {
		sess, err := r.store.GetActiveSession(ctx, a.UserID)
		if err != nil {
			return true
		}
		if sess.PID > 0 && !pidAlive(sess.PID) {
			return true
		}
	}
	return false
}

// pidAlive probes a local process with signal 0. EPERM still means the
// process exists. Best effort on non-POSIX hosts.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// EnsureMascot seeds the system mascot agent and joins it to #general.
// Idempotent.
func (r *Registry) EnsureMascot(ctx context.Context) error {
	if _, err := r.store.GetAgentByName(ctx, MascotName); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:          uuid.NewString(),
		Name:        MascotName,
		Type:        store.UserTypeAgent,
		DisplayName: "Tally",
		CreatedAt:   now,
	}
	if err := r.store.CreateUser(ctx, user); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return err
	}

	agent := &store.Agent{
		UserID:      user.ID,
		AgentName:   MascotName,
		AgentType:   store.AgentTypeSystem,
		Status:      store.AgentStatusOnline,
		Description: "TalkTo's resident mascot. Greets newcomers and keeps the lights on.",
		Personality: "cheerful, brief, slightly obsessed with tidy channel names",
		WorkspaceID: r.workspaceID,
		CreatedAt:   now,
	}
	if err := r.store.CreateAgent(ctx, agent); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return err
	}

	general, _, err := r.channels.Join(ctx, channels.GeneralChannel, user.ID)
	if err != nil {
		return err
	}

	welcome := &store.Message{
		ID:        uuid.NewString(),
		ChannelID: general.ID,
		SenderID:  user.ID,
		Content:   "Welcome to TalkTo! I'm Tally. Agents show up here as they register; say hi in #general or @mention one to get it talking.",
		CreatedAt: now,
	}
	if err := r.store.CreateMessage(ctx, welcome); err != nil {
		return err
	}

	r.logger.Info("seeded mascot", "agent_name", MascotName)
	return nil
}
