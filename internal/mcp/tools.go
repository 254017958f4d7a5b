// ABOUTME: Tool registry and handlers backing the MCP surface.
// ABOUTME: Every tool returns one text content item whose body is JSON.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/registry"
	"github.com/2389/talkto/internal/router"
	"github.com/2389/talkto/internal/store"
)

// errUnregistered is returned by identity-requiring tools when the MCP
// session has not called register.
var errUnregistered = errors.New("session not registered: call the register tool first")

// toolHandler executes one tool call for a session.
type toolHandler func(ctx context.Context, sessionID string, args json.RawMessage) (any, error)

type toolDef struct {
	name        string
	description string
	schema      json.RawMessage
	handler     toolHandler
}

// toolSet is a session's tool registry, listed in registration order.
type toolSet struct {
	order  []string
	byName map[string]*toolDef
}

func (ts *toolSet) add(name, description, schema string, handler toolHandler) {
	ts.order = append(ts.order, name)
	ts.byName[name] = &toolDef{
		name:        name,
		description: description,
		schema:      json.RawMessage(schema),
		handler:     handler,
	}
}

// identity resolves the agent bound to a session.
func (s *Server) identity(sessionID string) (Identity, error) {
	id, ok := s.identities.Lookup(sessionID)
	if !ok {
		return Identity{}, errUnregistered
	}
	return id, nil
}

func (s *Server) publishFeature(f *store.FeatureRequest) {
	if s.events == nil {
		return
	}
	s.events.Publish(hub.EventFeatureUpdate, hub.FeatureUpdatePayload{
		FeatureID: f.ID,
		Title:     f.Title,
		Status:    string(f.Status),
		VoteCount: f.VoteCount,
	})
}

// buildTools constructs a fresh tool registry for a new session.
func (s *Server) buildTools() *toolSet {
	ts := &toolSet{byName: make(map[string]*toolDef)}

	ts.add("register",
		"Register this coding agent with the hub, or reconnect under an existing name. Returns the agent record and onboarding prompts.",
		`{"type":"object","properties":{"session_id":{"type":"string"},"project_path":{"type":"string"},"agent_name":{"type":"string"},"server_url":{"type":"string"},"agent_type":{"type":"string","enum":["opencode","claude_code","codex"]},"pid":{"type":"integer"},"tty":{"type":"string"}},"required":["session_id","project_path"]}`,
		s.toolRegister)

	ts.add("disconnect",
		"Disconnect an agent, marking it offline and ending its session.",
		`{"type":"object","properties":{"agent_name":{"type":"string"}}}`,
		s.toolDisconnect)

	ts.add("send_message",
		"Send a message to a channel. Mentions trigger invocation of the named agents; reply_to threads onto an existing message.",
		`{"type":"object","properties":{"channel":{"type":"string"},"content":{"type":"string"},"mentions":{"type":"array","items":{"type":"string"}},"reply_to":{"type":"string"}},"required":["channel","content"]}`,
		s.toolSendMessage)

	ts.add("get_messages",
		"Fetch unread messages. Without a channel, returns priority buckets (mentions, project, other) and advances the read watermark.",
		`{"type":"object","properties":{"channel":{"type":"string"},"limit":{"type":"integer","maximum":10}}}`,
		s.toolGetMessages)

	ts.add("create_channel",
		"Create a custom channel. The name is lowercased and prefixed with # if missing.",
		`{"type":"object","properties":{"name":{"type":"string"},"topic":{"type":"string"}},"required":["name"]}`,
		s.toolCreateChannel)

	ts.add("join_channel",
		"Join an existing channel.",
		`{"type":"object","properties":{"channel":{"type":"string"}},"required":["channel"]}`,
		s.toolJoinChannel)

	ts.add("set_channel_topic",
		"Set a channel's topic.",
		`{"type":"object","properties":{"channel":{"type":"string"},"topic":{"type":"string"}},"required":["channel","topic"]}`,
		s.toolSetChannelTopic)

	ts.add("list_channels",
		"List all non-archived channels in the workspace.",
		`{"type":"object","properties":{}}`,
		s.toolListChannels)

	ts.add("list_agents",
		"List all agents with their status and derived ghost flag.",
		`{"type":"object","properties":{}}`,
		s.toolListAgents)

	ts.add("update_profile",
		"Update this agent's profile. Only the provided fields change.",
		`{"type":"object","properties":{"description":{"type":"string"},"personality":{"type":"string"},"current_task":{"type":"string"},"gender":{"type":"string"}}}`,
		s.toolUpdateProfile)

	ts.add("get_feature_requests",
		"List feature requests, highest vote sum first.",
		`{"type":"object","properties":{}}`,
		s.toolGetFeatureRequests)

	ts.add("create_feature_request",
		"File a feature request on the board.",
		`{"type":"object","properties":{"title":{"type":"string"},"description":{"type":"string"}},"required":["title","description"]}`,
		s.toolCreateFeatureRequest)

	ts.add("vote_feature",
		"Vote a feature request up (+1) or down (-1). Re-voting overwrites.",
		`{"type":"object","properties":{"feature_id":{"type":"string"},"vote":{"type":"integer","enum":[1,-1]}},"required":["feature_id","vote"]}`,
		s.toolVoteFeature)

	ts.add("update_feature_status",
		"Transition a feature request's status with an optional reason.",
		`{"type":"object","properties":{"feature_id":{"type":"string"},"status":{"type":"string","enum":["open","planned","in_progress","done","declined"]},"reason":{"type":"string"}},"required":["feature_id","status"]}`,
		s.toolUpdateFeatureStatus)

	ts.add("delete_feature_request",
		"Delete a feature request and its votes.",
		`{"type":"object","properties":{"feature_id":{"type":"string"}},"required":["feature_id"]}`,
		s.toolDeleteFeatureRequest)

	ts.add("heartbeat",
		"Refresh this agent's session liveness.",
		`{"type":"object","properties":{}}`,
		s.toolHeartbeat)

	ts.add("search_messages",
		"Search message content, newest first, capped at 50 results.",
		`{"type":"object","properties":{"query":{"type":"string"},"channel":{"type":"string"},"limit":{"type":"integer","maximum":50}},"required":["query"]}`,
		s.toolSearchMessages)

	ts.add("edit_message",
		"Edit one of your own messages.",
		`{"type":"object","properties":{"channel":{"type":"string"},"message_id":{"type":"string"},"content":{"type":"string"}},"required":["channel","message_id","content"]}`,
		s.toolEditMessage)

	ts.add("react_message",
		"Toggle an emoji reaction on a message.",
		`{"type":"object","properties":{"channel":{"type":"string"},"message_id":{"type":"string"},"emoji":{"type":"string"}},"required":["channel","message_id","emoji"]}`,
		s.toolReactMessage)

	return ts
}

func (s *Server) toolRegister(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	var in struct {
		SessionID   string `json:"session_id"`
		ProjectPath string `json:"project_path"`
		AgentName   string `json:"agent_name"`
		ServerURL   string `json:"server_url"`
		AgentType   string `json:"agent_type"`
		PID         int    `json:"pid"`
		TTY         string `json:"tty"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.SessionID == "" || in.ProjectPath == "" {
		return nil, errors.New("session_id and project_path are required")
	}

	reg, err := s.registry.RegisterOrConnect(ctx, registry.RegisterParams{
		SessionID:   in.SessionID,
		ProjectPath: in.ProjectPath,
		AgentName:   in.AgentName,
		ServerURL:   in.ServerURL,
		AgentType:   store.AgentType(in.AgentType),
		PID:         in.PID,
		TTY:         in.TTY,
	})
	if err != nil {
		return nil, err
	}

	s.identities.Bind(sessionID, Identity{
		AgentName:   reg.Agent.AgentName,
		UserID:      reg.Agent.UserID,
		WorkspaceID: reg.Agent.WorkspaceID,
	})
	return newRegistrationView(reg), nil
}

func (s *Server) toolDisconnect(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	var in struct {
		AgentName string `json:"agent_name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	name := in.AgentName
	if name == "" {
		id, err := s.identity(sessionID)
		if err != nil {
			return nil, err
		}
		name = id.AgentName
	}

	if err := s.registry.Disconnect(ctx, name); err != nil {
		return nil, err
	}
	s.identities.Unbind(sessionID)
	return map[string]any{"disconnected": name}, nil
}

func (s *Server) toolSendMessage(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Channel  string   `json:"channel"`
		Content  string   `json:"content"`
		Mentions []string `json:"mentions"`
		ReplyTo  string   `json:"reply_to"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Channel == "" || in.Content == "" {
		return nil, errors.New("channel and content are required")
	}

	msg, err := s.router.Send(ctx, router.SendParams{
		ChannelName: in.Channel,
		SenderID:    id.UserID,
		SenderName:  id.AgentName,
		SenderType:  store.UserTypeAgent,
		Content:     in.Content,
		Mentions:    in.Mentions,
		ParentID:    in.ReplyTo,
	})
	if err != nil {
		return nil, err
	}
	return newMessageView(msg), nil
}

func (s *Server) toolGetMessages(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	agent, err := s.store.GetAgentByName(ctx, id.AgentName)
	if err != nil {
		return nil, err
	}

	res, err := s.router.FetchForAgent(ctx, agent, in.Channel, in.Limit)
	if err != nil {
		return nil, err
	}
	return newFetchView(res), nil
}

func (s *Server) toolCreateChannel(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Name  string `json:"name"`
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Name == "" {
		return nil, errors.New("name is required")
	}

	ch, err := s.channels.CreateCustom(ctx, in.Name, in.Topic, id.UserID)
	if err != nil {
		return nil, err
	}
	return newChannelView(ch), nil
}

func (s *Server) toolJoinChannel(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Channel == "" {
		return nil, errors.New("channel is required")
	}

	ch, joined, err := s.channels.Join(ctx, in.Channel, id.UserID)
	if err != nil {
		return nil, err
	}
	status := "already_member"
	if joined {
		status = "joined"
	}
	return map[string]any{"status": status, "channel": ch.Name}, nil
}

func (s *Server) toolSetChannelTopic(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	if _, err := s.identity(sessionID); err != nil {
		return nil, err
	}

	var in struct {
		Channel string `json:"channel"`
		Topic   string `json:"topic"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Channel == "" {
		return nil, errors.New("channel is required")
	}

	ch, err := s.channels.SetTopic(ctx, in.Channel, in.Topic)
	if err != nil {
		return nil, err
	}
	return newChannelView(ch), nil
}

func (s *Server) toolListChannels(ctx context.Context, sessionID string, _ json.RawMessage) (any, error) {
	if _, err := s.identity(sessionID); err != nil {
		return nil, err
	}

	chs, err := s.channels.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]channelView, len(chs))
	for i, c := range chs {
		views[i] = newChannelView(c)
	}
	return map[string]any{"channels": views, "count": len(views)}, nil
}

func (s *Server) toolListAgents(ctx context.Context, sessionID string, _ json.RawMessage) (any, error) {
	if _, err := s.identity(sessionID); err != nil {
		return nil, err
	}

	agents, err := s.registry.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]agentView, len(agents))
	for i, a := range agents {
		views[i] = newAgentView(a.Agent, a.IsGhost)
	}
	return map[string]any{"agents": views, "count": len(views)}, nil
}

func (s *Server) toolUpdateProfile(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Description *string `json:"description"`
		Personality *string `json:"personality"`
		CurrentTask *string `json:"current_task"`
		Gender      *string `json:"gender"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	agent, err := s.registry.UpdateProfile(ctx, id.AgentName, store.AgentProfileUpdate{
		Description: in.Description,
		Personality: in.Personality,
		CurrentTask: in.CurrentTask,
		Gender:      in.Gender,
	})
	if err != nil {
		return nil, err
	}
	return newAgentView(agent, s.registry.IsGhost(agent.AgentName)), nil
}

func (s *Server) toolGetFeatureRequests(ctx context.Context, sessionID string, _ json.RawMessage) (any, error) {
	if _, err := s.identity(sessionID); err != nil {
		return nil, err
	}

	features, err := s.store.ListFeatureRequests(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]featureView, len(features))
	for i, f := range features {
		views[i] = newFeatureView(f)
	}
	return map[string]any{"features": views, "count": len(views)}, nil
}

func (s *Server) toolCreateFeatureRequest(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Title == "" || in.Description == "" {
		return nil, errors.New("title and description are required")
	}

	now := time.Now().UTC()
	f := &store.FeatureRequest{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      store.FeatureStatusOpen,
		CreatedBy:   id.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateFeatureRequest(ctx, f); err != nil {
		return nil, err
	}

	s.publishFeature(f)
	return newFeatureView(f), nil
}

func (s *Server) toolVoteFeature(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		FeatureID string `json:"feature_id"`
		Vote      int    `json:"vote"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.FeatureID == "" {
		return nil, errors.New("feature_id is required")
	}

	if err := s.store.VoteFeature(ctx, in.FeatureID, id.UserID, in.Vote, time.Now().UTC()); err != nil {
		return nil, err
	}

	f, err := s.store.GetFeatureRequest(ctx, in.FeatureID)
	if err != nil {
		return nil, err
	}
	s.publishFeature(f)
	return newFeatureView(f), nil
}

func (s *Server) toolUpdateFeatureStatus(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	if _, err := s.identity(sessionID); err != nil {
		return nil, err
	}

	var in struct {
		FeatureID string `json:"feature_id"`
		Status    string `json:"status"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.FeatureID == "" {
		return nil, errors.New("feature_id is required")
	}

	status := store.FeatureStatus(in.Status)
	switch status {
	case store.FeatureStatusOpen, store.FeatureStatusPlanned, store.FeatureStatusInProgress,
		store.FeatureStatusDone, store.FeatureStatusDeclined:
	default:
		return nil, fmt.Errorf("invalid status %q", in.Status)
	}

	if err := s.store.SetFeatureStatus(ctx, in.FeatureID, status, in.Reason, time.Now().UTC()); err != nil {
		return nil, err
	}

	f, err := s.store.GetFeatureRequest(ctx, in.FeatureID)
	if err != nil {
		return nil, err
	}
	s.publishFeature(f)
	return newFeatureView(f), nil
}

func (s *Server) toolDeleteFeatureRequest(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	if _, err := s.identity(sessionID); err != nil {
		return nil, err
	}

	var in struct {
		FeatureID string `json:"feature_id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.FeatureID == "" {
		return nil, errors.New("feature_id is required")
	}

	if err := s.store.DeleteFeatureRequest(ctx, in.FeatureID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": in.FeatureID}, nil
}

func (s *Server) toolHeartbeat(ctx context.Context, sessionID string, _ json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Heartbeat(ctx, id.AgentName); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Server) toolSearchMessages(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	if _, err := s.identity(sessionID); err != nil {
		return nil, err
	}

	var in struct {
		Query   string `json:"query"`
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Query == "" {
		return nil, errors.New("query is required")
	}

	filter := store.SearchFilter{Query: in.Query, Limit: in.Limit}
	if in.Channel != "" {
		ch, err := s.channels.Get(ctx, in.Channel)
		if err != nil {
			return nil, err
		}
		filter.ChannelID = ch.ID
	}

	results, err := s.router.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"query":   in.Query,
		"results": newMessageViews(results),
		"count":   len(results),
	}, nil
}

func (s *Server) toolEditMessage(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Channel   string `json:"channel"`
		MessageID string `json:"message_id"`
		Content   string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.MessageID == "" || in.Content == "" {
		return nil, errors.New("message_id and content are required")
	}
	if err := s.checkMessageChannel(ctx, in.MessageID, in.Channel); err != nil {
		return nil, err
	}

	msg, err := s.router.Edit(ctx, in.MessageID, id.UserID, in.Content)
	if err != nil {
		return nil, err
	}
	return newMessageView(msg), nil
}

func (s *Server) toolReactMessage(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
	id, err := s.identity(sessionID)
	if err != nil {
		return nil, err
	}

	var in struct {
		Channel   string `json:"channel"`
		MessageID string `json:"message_id"`
		Emoji     string `json:"emoji"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.MessageID == "" || in.Emoji == "" {
		return nil, errors.New("message_id and emoji are required")
	}
	if err := s.checkMessageChannel(ctx, in.MessageID, in.Channel); err != nil {
		return nil, err
	}

	added, err := s.router.React(ctx, in.MessageID, id.UserID, in.Emoji)
	if err != nil {
		return nil, err
	}
	action := "removed"
	if added {
		action = "added"
	}
	return map[string]any{"action": action, "emoji": in.Emoji}, nil
}

// checkMessageChannel verifies a message lives in the named channel when
// the caller supplied one.
func (s *Server) checkMessageChannel(ctx context.Context, messageID, channelName string) error {
	if channelName == "" {
		return nil
	}
	ch, err := s.channels.Get(ctx, channelName)
	if err != nil {
		return err
	}
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.ChannelID != ch.ID {
		return fmt.Errorf("message %s is not in %s", messageID, ch.Name)
	}
	return nil
}
