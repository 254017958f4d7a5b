// ABOUTME: Typed realtime events fanned out over WebSocket
// ABOUTME: Every frame is {"type": ..., "data": {...}} JSON

package hub

import (
	"encoding/json"
	"time"
)

// EventType names a realtime event frame.
type EventType string

const (
	EventNewMessage     EventType = "new_message"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
	EventReaction       EventType = "reaction"
	EventMessagePinned  EventType = "message_pinned"
	EventAgentStatus    EventType = "agent_status"
	EventAgentTyping    EventType = "agent_typing"
	EventAgentStreaming EventType = "agent_streaming"
	EventChannelCreated EventType = "channel_created"
	EventFeatureUpdate  EventType = "feature_update"

	// Replies to client-sent actions on the socket.
	EventPong  EventType = "pong"
	EventError EventType = "error"
)

// Event is one frame on the wire.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MessagePayload carries a message for new_message and message_edited.
type MessagePayload struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	SenderType  string    `json:"sender_type"`
	Content     string    `json:"content"`
	Mentions    []string  `json:"mentions,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
}

// MessageDeletedPayload identifies a removed message.
type MessageDeletedPayload struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// ReactionPayload carries a reaction toggle result. Action is "add" or
// "remove".
type ReactionPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	Action    string `json:"action"`
}

// PinPayload carries a pin toggle.
type PinPayload struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Pinned    bool   `json:"pinned"`
	PinnedBy  string `json:"pinned_by,omitempty"`
}

// AgentStatusPayload announces online/offline/ghost transitions.
type AgentStatusPayload struct {
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
	Ghost     bool   `json:"ghost"`
}

// TypingPayload signals a typing indicator for an agent in a channel.
// Error rides on a typing-stop frame when the invocation failed.
type TypingPayload struct {
	AgentName string `json:"agent_name"`
	ChannelID string `json:"channel_id"`
	Typing    bool   `json:"typing"`
	Error     string `json:"error,omitempty"`
}

// StreamingPayload carries one partial-response chunk.
type StreamingPayload struct {
	AgentName string `json:"agent_name"`
	ChannelID string `json:"channel_id"`
	Chunk     string `json:"chunk"`
}

// ChannelCreatedPayload announces a new channel.
type ChannelCreatedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// FeatureUpdatePayload announces feature board changes.
type FeatureUpdatePayload struct {
	FeatureID string `json:"feature_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	VoteCount int    `json:"vote_count"`
}

// ErrorPayload is sent in reply to a malformed or unknown client action.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals an event frame. Marshal errors are programming errors
// (all payloads are plain structs) and yield a nil slice.
func Encode(typ EventType, payload any) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(Event{Type: typ, Data: raw})
	if err != nil {
		return nil
	}
	return frame
}

// channelOf reports the channel an event is scoped to, or "" for events
// delivered regardless of subscriptions.
func channelOf(payload any) string {
	switch p := payload.(type) {
	case MessagePayload:
		return p.ChannelID
	case MessageDeletedPayload:
		return p.ChannelID
	case ReactionPayload:
		return p.ChannelID
	case PinPayload:
		return p.ChannelID
	case TypingPayload:
		return p.ChannelID
	case StreamingPayload:
		return p.ChannelID
	default:
		return ""
	}
}
