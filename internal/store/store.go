// ABOUTME: Data model types and sentinel errors for the TalkTo store
// ABOUTME: Users, agents, sessions, channels, messages, reactions, features, workspaces

package store

import (
	"errors"
	"time"
)

// Common store errors. Callers branch with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("already exists")
	ErrNotSender     = errors.New("not the message sender")
	ErrWrongChannel  = errors.New("parent message is in a different channel")
	ErrInviteExpired = errors.New("invite expired")
	ErrInviteRevoked = errors.New("invite revoked")
	ErrInviteUsedUp  = errors.New("invite has no uses left")
)

// UserType distinguishes humans from agents.
type UserType string

const (
	UserTypeHuman UserType = "human"
	UserTypeAgent UserType = "agent"
)

// User is a human operator or an agent identity.
type User struct {
	ID                string
	Name              string
	Type              UserType
	DisplayName       string
	About             string
	AgentInstructions string
	CreatedAt         time.Time
}

// AgentType identifies the provider backing an agent.
type AgentType string

const (
	AgentTypeOpenCode   AgentType = "opencode"
	AgentTypeClaudeCode AgentType = "claude_code"
	AgentTypeCodex      AgentType = "codex"
	AgentTypeSystem     AgentType = "system"
)

// AgentStatus is the persisted online/offline flag. It is independent of
// the derived ghost flag.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
)

// Agent extends a user 1-to-1 with provider state.
type Agent struct {
	UserID            string
	AgentName         string
	AgentType         AgentType
	ProjectPath       string
	ProjectName       string
	Status            AgentStatus
	Description       string
	Personality       string
	CurrentTask       string
	Gender            string
	ServerURL         string // OpenCode only
	ProviderSessionID string
	WorkspaceID       string
	CreatedAt         time.Time
}

// Invocable reports whether the agent carries enough provider credentials
// to be prompted. Online status does not imply invocable.
func (a *Agent) Invocable() bool {
	switch a.AgentType {
	case AgentTypeOpenCode:
		return a.ServerURL != "" && a.ProviderSessionID != ""
	case AgentTypeClaudeCode, AgentTypeCodex:
		return a.ProviderSessionID != ""
	default:
		return false
	}
}

// Session is an agent login. At most one active session per agent.
type Session struct {
	ID            string
	AgentID       string
	PID           int
	TTY           string
	IsActive      bool
	StartedAt     time.Time
	EndedAt       *time.Time
	LastHeartbeat time.Time
}

// ChannelType classifies channels.
type ChannelType string

const (
	ChannelTypeGeneral ChannelType = "general"
	ChannelTypeProject ChannelType = "project"
	ChannelTypeCustom  ChannelType = "custom"
	ChannelTypeDM      ChannelType = "dm"
)

// Channel is a named conversation scope within a workspace.
type Channel struct {
	ID          string
	Name        string
	Type        ChannelType
	Topic       string
	ProjectPath string
	CreatedBy   string // user id or "system"; not a foreign key
	CreatedAt   time.Time
	IsArchived  bool
	ArchivedAt  *time.Time
	WorkspaceID string
}

// ChannelMember is a (channel, user) membership row.
type ChannelMember struct {
	ChannelID string
	UserID    string
	JoinedAt  time.Time
}

// Message is a channel post, optionally a reply to a parent in the same
// channel. Mentions is the ordered list of names as sent.
type Message struct {
	ID        string
	ChannelID string
	SenderID  string
	Content   string
	Mentions  []string
	ParentID  string
	IsPinned  bool
	PinnedAt  *time.Time
	PinnedBy  string
	EditedAt  *time.Time
	CreatedAt time.Time
}

// MessageWithSender joins a message with its sender's read-model fields.
type MessageWithSender struct {
	Message
	SenderName string
	SenderType UserType
}

// PriorityBucket tags a priority-fetch result.
type PriorityBucket string

const (
	BucketMention PriorityBucket = "mention"
	BucketProject PriorityBucket = "project"
	BucketOther   PriorityBucket = "other"
)

// PriorityMessage is a priority-fetch result item.
type PriorityMessage struct {
	MessageWithSender
	ChannelName string
	Bucket      PriorityBucket
}

// Reaction is one (message, user, emoji) row.
type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// ReadReceipt records the last-read watermark per (user, channel).
type ReadReceipt struct {
	UserID     string
	ChannelID  string
	LastReadAt time.Time
}

// FeatureStatus values for the lightweight voting domain.
type FeatureStatus string

const (
	FeatureStatusOpen       FeatureStatus = "open"
	FeatureStatusPlanned    FeatureStatus = "planned"
	FeatureStatusInProgress FeatureStatus = "in_progress"
	FeatureStatusDone       FeatureStatus = "done"
	FeatureStatusDeclined   FeatureStatus = "declined"
)

// FeatureRequest with its aggregate signed vote sum.
type FeatureRequest struct {
	ID           string
	Title        string
	Description  string
	Status       FeatureStatus
	StatusReason string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	VoteCount    int
}

// WorkspaceRole values for membership tables.
type WorkspaceRole string

const (
	RoleAdmin  WorkspaceRole = "admin"
	RoleMember WorkspaceRole = "member"
)

// Workspace is the ownership root for channels and agents.
type Workspace struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// WorkspaceMember is a (workspace, user, role) row.
type WorkspaceMember struct {
	WorkspaceID string
	UserID      string
	Role        WorkspaceRole
	JoinedAt    time.Time
}

// APIKey stores only the hash plus a visible prefix for display.
type APIKey struct {
	ID          string
	WorkspaceID string
	Name        string
	TokenHash   string
	TokenPrefix string
	CreatedBy   string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

// Invite is a workspace invite token with optional use and expiry limits.
type Invite struct {
	ID          string
	WorkspaceID string
	Token       string
	Role        WorkspaceRole
	MaxUses     int // 0 = unlimited
	UseCount    int
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	CreatedBy   string
	CreatedAt   time.Time
}

// SearchFilter narrows a message search.
type SearchFilter struct {
	Query     string
	ChannelID string
	SenderID  string
	After     *time.Time
	Before    *time.Time
	Limit     int
}
