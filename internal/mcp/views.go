// ABOUTME: JSON view types returned inside tool result text bodies.
// ABOUTME: Store models stay untagged; each surface owns its wire shapes.

package mcp

import (
	"time"

	"github.com/2389/talkto/internal/registry"
	"github.com/2389/talkto/internal/router"
	"github.com/2389/talkto/internal/store"
)

type agentView struct {
	AgentName   string    `json:"agent_name"`
	AgentType   string    `json:"agent_type"`
	Status      string    `json:"status"`
	IsGhost     bool      `json:"is_ghost"`
	ProjectName string    `json:"project_name,omitempty"`
	ProjectPath string    `json:"project_path,omitempty"`
	Description string    `json:"description,omitempty"`
	Personality string    `json:"personality,omitempty"`
	CurrentTask string    `json:"current_task,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newAgentView(a *store.Agent, ghost bool) agentView {
	return agentView{
		AgentName:   a.AgentName,
		AgentType:   string(a.AgentType),
		Status:      string(a.Status),
		IsGhost:     ghost,
		ProjectName: a.ProjectName,
		ProjectPath: a.ProjectPath,
		Description: a.Description,
		Personality: a.Personality,
		CurrentTask: a.CurrentTask,
		Gender:      a.Gender,
		CreatedAt:   a.CreatedAt,
	}
}

type registrationView struct {
	Agent          agentView `json:"agent"`
	IsNew          bool      `json:"is_new"`
	MasterPrompt   string    `json:"master_prompt"`
	InjectPrompt   string    `json:"inject_prompt"`
	ProjectChannel string    `json:"project_channel"`
}

func newRegistrationView(reg *registry.Registration) registrationView {
	return registrationView{
		Agent:          newAgentView(reg.Agent, false),
		IsNew:          reg.IsNew,
		MasterPrompt:   reg.MasterPrompt,
		InjectPrompt:   reg.InjectPrompt,
		ProjectChannel: reg.ProjectChannel,
	}
}

type channelView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Topic       string    `json:"topic,omitempty"`
	ProjectPath string    `json:"project_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newChannelView(c *store.Channel) channelView {
	return channelView{
		ID:          c.ID,
		Name:        c.Name,
		Type:        string(c.Type),
		Topic:       c.Topic,
		ProjectPath: c.ProjectPath,
		CreatedAt:   c.CreatedAt,
	}
}

type messageView struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channel_id"`
	SenderID   string     `json:"sender_id"`
	SenderName string     `json:"sender_name"`
	SenderType string     `json:"sender_type"`
	Content    string     `json:"content"`
	Mentions   []string   `json:"mentions,omitempty"`
	ParentID   string     `json:"parent_id,omitempty"`
	IsPinned   bool       `json:"is_pinned"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newMessageView(m *store.MessageWithSender) messageView {
	return messageView{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderType: string(m.SenderType),
		Content:    m.Content,
		Mentions:   m.Mentions,
		ParentID:   m.ParentID,
		IsPinned:   m.IsPinned,
		EditedAt:   m.EditedAt,
		CreatedAt:  m.CreatedAt,
	}
}

func newMessageViews(msgs []*store.MessageWithSender) []messageView {
	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = newMessageView(m)
	}
	return views
}

type priorityMessageView struct {
	messageView
	ChannelName string `json:"channel_name"`
	Priority    string `json:"priority"`
}

func newPriorityViews(msgs []*store.PriorityMessage) []priorityMessageView {
	views := make([]priorityMessageView, len(msgs))
	for i, m := range msgs {
		views[i] = priorityMessageView{
			messageView: newMessageView(&m.MessageWithSender),
			ChannelName: m.ChannelName,
			Priority:    string(m.Bucket),
		}
	}
	return views
}

type fetchView struct {
	Mentions []priorityMessageView `json:"mentions"`
	Project  []priorityMessageView `json:"project"`
	Other    []priorityMessageView `json:"other"`
}

func newFetchView(res *router.FetchResult) fetchView {
	return fetchView{
		Mentions: newPriorityViews(res.Mentions),
		Project:  newPriorityViews(res.Project),
		Other:    newPriorityViews(res.Other),
	}
}

type featureView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	StatusReason string    `json:"status_reason,omitempty"`
	VoteCount    int       `json:"vote_count"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newFeatureView(f *store.FeatureRequest) featureView {
	return featureView{
		ID:           f.ID,
		Title:        f.Title,
		Description:  f.Description,
		Status:       string(f.Status),
		StatusReason: f.StatusReason,
		VoteCount:    f.VoteCount,
		CreatedBy:    f.CreatedBy,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}
