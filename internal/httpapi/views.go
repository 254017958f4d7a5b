// ABOUTME: JSON wire shapes for the REST surface
// ABOUTME: Store models stay untagged; each surface owns its own views

package httpapi

import (
	"time"

	"github.com/2389/talkto/internal/store"
)

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

func newChannelViews(chs []*store.Channel) []channelView {
	views := make([]channelView, len(chs))
	for i, c := range chs {
		views[i] = newChannelView(c)
	}
	return views
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

type reactionView struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
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

type memberView struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	UserType string    `json:"user_type"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type apiKeyView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	TokenPrefix string     `json:"token_prefix"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`

	// Token is set only in the creation response.
	Token string `json:"token,omitempty"`
}

func newAPIKeyView(k *store.APIKey) apiKeyView {
	return apiKeyView{
		ID:          k.ID,
		Name:        k.Name,
		TokenPrefix: k.TokenPrefix,
		CreatedBy:   k.CreatedBy,
		CreatedAt:   k.CreatedAt,
		LastUsedAt:  k.LastUsedAt,
	}
}

type inviteView struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	Role      string     `json:"role"`
	MaxUses   int        `json:"max_uses"`
	UseCount  int        `json:"use_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func newInviteView(inv *store.Invite) inviteView {
	return inviteView{
		ID:        inv.ID,
		Token:     inv.Token,
		Role:      string(inv.Role),
		MaxUses:   inv.MaxUses,
		UseCount:  inv.UseCount,
		ExpiresAt: inv.ExpiresAt,
		RevokedAt: inv.RevokedAt,
		CreatedAt: inv.CreatedAt,
	}
}
