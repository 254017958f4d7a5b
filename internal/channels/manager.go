// ABOUTME: Channel manager: naming rules, auto-provisioning, joins, topics
// ABOUTME: DM channels are dm-{agent}; project channels are project-{slug}

package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/store"
)

// System user id used as created_by for auto-provisioned channels.
const systemCreator = "system"

var validName = regexp.MustCompile(`^#[a-z0-9][a-z0-9-]*$`)

// ErrInvalidName rejects channel names outside [a-z0-9-].
var ErrInvalidName = errors.New("channel name must be lowercase letters, digits, and hyphens")

// Manager owns channel provisioning and membership.
type Manager struct {
	store       *store.Store
	events      *hub.Hub
	workspaceID string
	logger      *slog.Logger
}

// NewManager creates a channel manager bound to one workspace.
func NewManager(st *store.Store, events *hub.Hub, workspaceID string) *Manager {
	return &Manager{
		store:       st,
		events:      events,
		workspaceID: workspaceID,
		logger:      slog.Default().With("component", "channels"),
	}
}

// Slugify converts a project name to a channel slug: lowercased, with
// spaces and underscores mapped to hyphens.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return s
}

// GeneralChannel is the built-in channel every participant joins.
const GeneralChannel = "#general"

// ProjectChannelName returns the channel name for a project.
func ProjectChannelName(projectName string) string {
	return "#project-" + Slugify(projectName)
}

// DMChannelName returns the DM channel name for an agent.
func DMChannelName(agentName string) string {
	return "#dm-" + agentName
}

// IsDMChannel reports whether a channel name is a DM channel and, if so,
// returns the target agent name.
func IsDMChannel(name string) (string, bool) {
	if target, ok := strings.CutPrefix(name, "#dm-"); ok && target != "" {
		return target, true
	}
	return "", false
}

// Normalize lowercases a user-supplied name and prefixes '#' if missing.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return name
	}
	if !strings.HasPrefix(name, "#") {
		name = "#" + name
	}
	return name
}

// EnsureDefaults provisions the built-in channels. Idempotent.
func (m *Manager) EnsureDefaults(ctx context.Context) error {
	if _, err := m.ensure(ctx, GeneralChannel, store.ChannelTypeGeneral, ""); err != nil {
		return fmt.Errorf("ensuring general channel: %w", err)
	}
	return nil
}

// EnsureProjectChannel provisions the project channel for a project name
// and returns it. Idempotent.
func (m *Manager) EnsureProjectChannel(ctx context.Context, projectName, projectPath string) (*store.Channel, error) {
	return m.ensure(ctx, ProjectChannelName(projectName), store.ChannelTypeProject, projectPath)
}

// EnsureDMChannel provisions the agent's DM channel and returns it.
func (m *Manager) EnsureDMChannel(ctx context.Context, agentName string) (*store.Channel, error) {
	return m.ensure(ctx, DMChannelName(agentName), store.ChannelTypeDM, "")
}

func (m *Manager) ensure(ctx context.Context, name string, typ store.ChannelType, projectPath string) (*store.Channel, error) {
	existing, err := m.store.GetChannelByName(ctx, m.workspaceID, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	c := &store.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        typ,
		ProjectPath: projectPath,
		CreatedBy:   systemCreator,
		CreatedAt:   time.Now().UTC(),
		WorkspaceID: m.workspaceID,
	}
	if err := m.store.CreateChannel(ctx, c); err != nil {
		// Lost a race with a concurrent ensure; read the winner.
		if errors.Is(err, store.ErrDuplicate) {
			return m.store.GetChannelByName(ctx, m.workspaceID, name)
		}
		return nil, err
	}

	m.logger.Info("provisioned channel", "name", name, "type", typ)
	m.events.Publish(hub.EventChannelCreated, hub.ChannelCreatedPayload{
		ID: c.ID, Name: c.Name, Type: string(c.Type),
	})
	return c, nil
}

// CreateCustom creates a user-named custom channel and joins the creator.
func (m *Manager) CreateCustom(ctx context.Context, name, topic, creatorID string) (*store.Channel, error) {
	name = Normalize(name)
	if !validName.MatchString(name) {
		return nil, ErrInvalidName
	}

	c := &store.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        store.ChannelTypeCustom,
		Topic:       topic,
		CreatedBy:   creatorID,
		CreatedAt:   time.Now().UTC(),
		WorkspaceID: m.workspaceID,
	}
	if err := m.store.CreateChannel(ctx, c); err != nil {
		return nil, err
	}
	if _, err := m.store.AddChannelMember(ctx, c.ID, creatorID, c.CreatedAt); err != nil {
		return nil, err
	}

	m.events.Publish(hub.EventChannelCreated, hub.ChannelCreatedPayload{
		ID: c.ID, Name: c.Name, Type: string(c.Type),
	})
	return c, nil
}

// Join adds a user to a channel by name. Joining twice is a no-op; the
// returned bool reports whether the membership was newly added.
func (m *Manager) Join(ctx context.Context, channelName, userID string) (*store.Channel, bool, error) {
	c, err := m.store.GetChannelByName(ctx, m.workspaceID, Normalize(channelName))
	if err != nil {
		return nil, false, err
	}
	joined, err := m.store.AddChannelMember(ctx, c.ID, userID, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}
	return c, joined, nil
}

// List returns the workspace's non-archived channels.
func (m *Manager) List(ctx context.Context) ([]*store.Channel, error) {
	return m.store.ListChannels(ctx, m.workspaceID)
}

// Get resolves a channel by user-supplied name.
func (m *Manager) Get(ctx context.Context, name string) (*store.Channel, error) {
	return m.store.GetChannelByName(ctx, m.workspaceID, Normalize(name))
}

// SetTopic updates a channel's topic by name. The topic is trimmed;
// whitespace-only input clears it.
func (m *Manager) SetTopic(ctx context.Context, channelName, topic string) (*store.Channel, error) {
	topic = strings.TrimSpace(topic)
	c, err := m.Get(ctx, channelName)
	if err != nil {
		return nil, err
	}
	if err := m.store.SetChannelTopic(ctx, c.ID, topic); err != nil {
		return nil, err
	}
	c.Topic = topic
	return c, nil
}
