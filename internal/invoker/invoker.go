// ABOUTME: Background invocation pipeline: target resolution, prompting, chaining
// ABOUTME: Entry point is by-value and fire-and-forget; depth cap terminates chains

package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/talkto/internal/channels"
	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/provider"
	"github.com/2389/talkto/internal/store"
)

// MaxChainDepth caps agent-to-agent invocation chains.
const MaxChainDepth = 5

// contextMessageCount is how many recent messages frame a mention prompt.
const contextMessageCount = 5

var mentionPattern = regexp.MustCompile(`@([\w-]+)`)

// MentionTokens returns the raw @name tokens of a text in order of
// appearance, duplicates included.
func MentionTokens(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// Request is the by-value input to InvokeForMessage. The invoker performs
// all further lookups itself; callers share no mutable state with it.
type Request struct {
	SenderName  string
	ChannelID   string
	ChannelName string
	Content     string
	Mentions    []string
	Depth       int
}

// Adapters resolves provider adapters by agent type. Satisfied by
// provider.Registry.
type Adapters interface {
	For(t store.AgentType) (provider.Adapter, error)
}

// Invoker spawns and tracks background invocation tasks.
type Invoker struct {
	store     *store.Store
	events    *hub.Hub
	providers Adapters
	logger    *slog.Logger

	// tracks in-flight tasks so shutdown can drain them
	tasks sync.WaitGroup
}

// New creates an invoker.
func New(st *store.Store, events *hub.Hub, providers Adapters) *Invoker {
	return &Invoker{
		store:     st,
		events:    events,
		providers: providers,
		logger:    slog.Default().With("component", "invoker"),
	}
}

// Wait blocks until all in-flight invocation tasks finish.
func (inv *Invoker) Wait() {
	inv.tasks.Wait()
}

// InvokeForMessage resolves targets for a message and prompts them in the
// background. Returns immediately.
func (inv *Invoker) InvokeForMessage(ctx context.Context, req Request) {
	if req.Depth >= MaxChainDepth {
		inv.logger.Info("chain depth cap reached, stopping",
			"depth", req.Depth, "sender", req.SenderName, "channel", req.ChannelName)
		return
	}

	inv.tasks.Add(1)
	go func() {
		defer inv.tasks.Done()
		inv.run(ctx, req)
	}()
}

// target is one resolved invocation.
type target struct {
	agentName string
	// silent targets were expanded from @all: no typing indicator until
	// liveness is confirmed, and unreachable targets drop silently
	silent bool
	// dm targets receive the raw content with no channel framing
	dm bool
}

func (inv *Invoker) run(ctx context.Context, req Request) {
	targets, err := inv.resolveTargets(ctx, req)
	if err != nil {
		inv.logger.Error("target resolution failed", "error", err, "channel", req.ChannelName)
		return
	}
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			inv.invokeOne(ctx, req, t)
		}(t)
	}
	wg.Wait()
}

// resolveTargets applies the DM rule, @all expansion, and the self and
// duplicate guards.
func (inv *Invoker) resolveTargets(ctx context.Context, req Request) ([]target, error) {
	var targets []target
	seen := map[string]bool{req.SenderName: true}

	dmTarget, isDM := channels.IsDMChannel(req.ChannelName)
	if isDM && dmTarget != req.SenderName {
		if _, err := inv.store.GetAgentByName(ctx, dmTarget); err == nil {
			targets = append(targets, target{agentName: dmTarget, dm: true})
			seen[dmTarget] = true
		}
	}

	// Explicit mentions first, then @all expansion, deduplicated.
	var names []string
	var expanded []string
	for _, m := range req.Mentions {
		if m == "all" {
			ex, err := inv.expandAll(ctx, req, isDM)
			if err != nil {
				return nil, err
			}
			expanded = ex
			continue
		}
		names = append(names, m)
	}
	names = append(names, expanded...)

	expandedSet := make(map[string]bool, len(expanded))
	for _, n := range expanded {
		expandedSet[n] = true
	}

	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		agent, err := inv.store.GetAgentByName(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // mention of a non-agent
			}
			return nil, err
		}
		if agent.AgentType == store.AgentTypeSystem {
			continue
		}
		targets = append(targets, target{agentName: name, silent: expandedSet[name]})
	}
	return targets, nil
}

// expandAll resolves the @all pseudo-mention: nothing in DMs, the project's
// invocable agents in a project channel, every invocable agent elsewhere.
func (inv *Invoker) expandAll(ctx context.Context, req Request, isDM bool) ([]string, error) {
	if isDM {
		return nil, nil
	}

	var projectSlug string
	if rest, ok := strings.CutPrefix(req.ChannelName, "#project-"); ok {
		projectSlug = rest
	}

	agent, err := inv.store.GetAgentByName(ctx, req.SenderName)
	senderWorkspace := ""
	if err == nil {
		senderWorkspace = agent.WorkspaceID
	}

	var all []*store.Agent
	if senderWorkspace != "" {
		all, err = inv.store.ListAgents(ctx, senderWorkspace)
		if err != nil {
			return nil, err
		}
	} else {
		// Human sender: no workspace on the user row; list by the channel's
		// workspace instead.
		ch, err := inv.store.GetChannel(ctx, req.ChannelID)
		if err != nil {
			return nil, err
		}
		all, err = inv.store.ListAgents(ctx, ch.WorkspaceID)
		if err != nil {
			return nil, err
		}
	}

	var names []string
	for _, a := range all {
		if a.AgentName == req.SenderName || a.AgentType == store.AgentTypeSystem || !a.Invocable() {
			continue
		}
		if projectSlug != "" && channels.Slugify(a.ProjectName) != projectSlug {
			continue
		}
		names = append(names, a.AgentName)
	}
	return names, nil
}

// invokeOne prompts a single target and persists its response.
func (inv *Invoker) invokeOne(ctx context.Context, req Request, t target) {
	logger := inv.logger.With("agent_name", t.agentName, "channel", req.ChannelName, "depth", req.Depth)

	agent, err := inv.store.GetAgentByName(ctx, t.agentName)
	if err != nil {
		logger.Warn("target vanished before invocation", "error", err)
		return
	}

	if !t.silent {
		inv.typing(t.agentName, req.ChannelID, true, "")
	}

	if !agent.Invocable() {
		if t.silent {
			logger.Debug("silently dropping non-invocable target")
			return
		}
		inv.typing(t.agentName, req.ChannelID, false, fmt.Sprintf("%s is not reachable", t.agentName))
		return
	}

	adapter, err := inv.providers.For(agent.AgentType)
	if err != nil {
		if !t.silent {
			inv.typing(t.agentName, req.ChannelID, false, fmt.Sprintf("%s is not reachable", t.agentName))
		}
		return
	}
	pt := provider.TargetFor(agent)

	if t.silent {
		if !adapter.IsSessionAlive(ctx, pt) {
			logger.Debug("silently dropping unreachable target")
			return
		}
		inv.typing(t.agentName, req.ChannelID, true, "")
	}

	if adapter.IsSessionBusy(ctx, pt) {
		logger.Warn("session busy, prompt will queue")
	}

	prompt := inv.buildPrompt(ctx, req, t)

	result, err := adapter.Prompt(ctx, pt, prompt, provider.Callbacks{
		OnTypingStart: func() {
			inv.typing(t.agentName, req.ChannelID, true, "")
		},
		OnTextDelta: func(delta string) {
			inv.events.Publish(hub.EventAgentStreaming, hub.StreamingPayload{
				AgentName: t.agentName, ChannelID: req.ChannelID, Chunk: delta,
			})
		},
		OnError: func(msg string) {
			logger.Warn("provider reported error", "error", msg)
		},
	})
	switch {
	case errors.Is(err, provider.ErrNoResponse):
		inv.typing(t.agentName, req.ChannelID, false, fmt.Sprintf("%s did not respond", t.agentName))
		return
	case err != nil:
		logger.Error("prompt failed", "error", err)
		inv.typing(t.agentName, req.ChannelID, false, fmt.Sprintf("%s encountered an error", t.agentName))
		return
	}

	mentions, err := inv.extractMentions(ctx, result.Text, t.agentName)
	if err != nil {
		logger.Error("mention extraction failed", "error", err)
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		ChannelID: req.ChannelID,
		SenderID:  agent.UserID,
		Content:   result.Text,
		Mentions:  mentions,
		CreatedAt: time.Now().UTC(),
	}
	if err := inv.store.CreateMessage(ctx, msg); err != nil {
		logger.Error("persisting response failed", "error", err)
		inv.typing(t.agentName, req.ChannelID, false, "")
		return
	}

	inv.events.Publish(hub.EventNewMessage, hub.MessagePayload{
		ID:          msg.ID,
		ChannelID:   msg.ChannelID,
		ChannelName: req.ChannelName,
		SenderID:    agent.UserID,
		SenderName:  t.agentName,
		SenderType:  string(store.UserTypeAgent),
		Content:     msg.Content,
		Mentions:    msg.Mentions,
		CreatedAt:   msg.CreatedAt,
	})
	inv.typing(t.agentName, req.ChannelID, false, "")

	if len(mentions) == 0 {
		return
	}
	if req.Depth+1 >= MaxChainDepth {
		logger.Info("response mentions agents but chain depth cap reached",
			"mentions", mentions)
		return
	}
	inv.InvokeForMessage(ctx, Request{
		SenderName:  t.agentName,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		Content:     result.Text,
		Mentions:    mentions,
		Depth:       req.Depth + 1,
	})
}

// buildPrompt frames the content for the target: DMs get the raw content,
// mentions get a header plus recent channel context.
func (inv *Invoker) buildPrompt(ctx context.Context, req Request, t target) string {
	if t.dm {
		return req.Content
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[TalkTo] %s mentioned you in %s.\n\n", req.SenderName, req.ChannelName)

	recent, err := inv.store.ListRecentMessages(ctx, req.ChannelID, contextMessageCount)
	if err == nil && len(recent) > 0 {
		b.WriteString("Recent messages in the channel:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "  %s: %s\n", m.SenderName, m.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%s: %s", req.SenderName, req.Content)
	return b.String()
}

// extractMentions scans a response for @name tokens that match registered
// agents, excluding the responder. Order of first appearance is kept.
func (inv *Invoker) extractMentions(ctx context.Context, text, responder string) ([]string, error) {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	registered, err := inv.store.ListAgentNames(ctx)
	if err != nil {
		return nil, err
	}

	var mentions []string
	seen := map[string]bool{responder: true}
	for _, m := range matches {
		name := m[1]
		if seen[name] || !registered[name] {
			continue
		}
		seen[name] = true
		mentions = append(mentions, name)
	}
	return mentions, nil
}

func (inv *Invoker) typing(agentName, channelID string, typing bool, errMsg string) {
	inv.events.Publish(hub.EventAgentTyping, hub.TypingPayload{
		AgentName: agentName,
		ChannelID: channelID,
		Typing:    typing,
		Error:     errMsg,
	})
}
