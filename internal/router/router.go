// ABOUTME: Message router: persist, broadcast, then hand off to the invoker
// ABOUTME: Reply context is framed into the invocation prompt, never persisted

package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/talkto/internal/channels"
	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/invoker"
	"github.com/2389/talkto/internal/store"
)

// replyContextLimit is the parent-content truncation for reply framing.
const replyContextLimit = 200

// Router coordinates message writes with broadcasting and invocation.
type Router struct {
	store    *store.Store
	channels *channels.Manager
	events   *hub.Hub
	invoker  *invoker.Invoker
	logger   *slog.Logger
}

// New creates a router.
func New(st *store.Store, ch *channels.Manager, events *hub.Hub, inv *invoker.Invoker) *Router {
	return &Router{
		store:    st,
		channels: ch,
		events:   events,
		invoker:  inv,
		logger:   slog.Default().With("component", "router"),
	}
}

// SendParams are the inputs to Send.
type SendParams struct {
	ChannelName string
	SenderID    string
	SenderName  string
	SenderType  store.UserType
	Content     string
	Mentions    []string
	ParentID    string
}

// Send persists a message, fans out new_message, and fires the invocation
// pipeline. Returns the stored message.
func (r *Router) Send(ctx context.Context, p SendParams) (*store.MessageWithSender, error) {
	ch, err := r.channels.Get(ctx, p.ChannelName)
	if err != nil {
		return nil, fmt.Errorf("resolving channel %s: %w", p.ChannelName, err)
	}

	mentions := p.Mentions
	if mentions == nil {
		mentions, err = r.mentionsFromContent(ctx, p.Content)
		if err != nil {
			return nil, err
		}
	}

	msg := &store.Message{
		ID:        uuid.NewString(),
		ChannelID: ch.ID,
		SenderID:  p.SenderID,
		Content:   p.Content,
		Mentions:  mentions,
		ParentID:  p.ParentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	out := &store.MessageWithSender{
		Message:    *msg,
		SenderName: p.SenderName,
		SenderType: p.SenderType,
	}

	r.events.Publish(hub.EventNewMessage, hub.MessagePayload{
		ID:          msg.ID,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		SenderID:    p.SenderID,
		SenderName:  p.SenderName,
		SenderType:  string(p.SenderType),
		Content:     msg.Content,
		Mentions:    msg.Mentions,
		ParentID:    msg.ParentID,
		CreatedAt:   msg.CreatedAt,
	})

	content := msg.Content
	if msg.ParentID != "" {
		if framed, err := r.frameReply(ctx, msg.ParentID, content); err == nil {
			content = framed
		}
	}

	r.invoker.InvokeForMessage(ctx, invoker.Request{
		SenderName:  p.SenderName,
		ChannelID:   ch.ID,
		ChannelName: ch.Name,
		Content:     content,
		Mentions:    mentions,
	})
	return out, nil
}

// frameReply prefixes the invocation content with the parent's sender and a
// truncated quote. The stored message keeps the original content.
func (r *Router) frameReply(ctx context.Context, parentID, content string) (string, error) {
	parent, err := r.store.GetMessageWithSender(ctx, parentID)
	if err != nil {
		return "", err
	}

	quote := parent.Content
	if runes := []rune(quote); len(runes) > replyContextLimit {
		quote = string(runes[:replyContextLimit])
	}
	return fmt.Sprintf("[Replying to %s: \"%s\"]\n\n%s", parent.SenderName, quote, content), nil
}

// mentionsFromContent derives the mention list for callers that did not
// supply one, keeping @all plus registered agent names.
func (r *Router) mentionsFromContent(ctx context.Context, content string) ([]string, error) {
	tokens := invoker.MentionTokens(content)
	if len(tokens) == 0 {
		return nil, nil
	}

	registered, err := r.store.ListAgentNames(ctx)
	if err != nil {
		return nil, err
	}

	var mentions []string
	seen := map[string]bool{}
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		if tok != "all" && !registered[tok] {
			continue
		}
		seen[tok] = true
		mentions = append(mentions, tok)
	}
	return mentions, nil
}

// History returns channel messages, oldest first, paged backwards from the
// message named by beforeID when set.
func (r *Router) History(ctx context.Context, channelName string, limit int, beforeID string) ([]*store.MessageWithSender, error) {
	ch, err := r.channels.Get(ctx, channelName)
	if err != nil {
		return nil, err
	}

	var before time.Time
	if beforeID != "" {
		cursor, err := r.store.GetMessage(ctx, beforeID)
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		before = cursor.CreatedAt
	}
	return r.store.ListMessages(ctx, ch.ID, limit, before)
}

// Edit rewrites a message's content and broadcasts message_edited.
func (r *Router) Edit(ctx context.Context, messageID, senderID, content string) (*store.MessageWithSender, error) {
	if err := r.store.EditMessage(ctx, messageID, senderID, content, time.Now().UTC()); err != nil {
		return nil, err
	}
	msg, err := r.store.GetMessageWithSender(ctx, messageID)
	if err != nil {
		return nil, err
	}

	r.events.Publish(hub.EventMessageEdited, hub.MessagePayload{
		ID:         msg.ID,
		ChannelID:  msg.ChannelID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		SenderType: string(msg.SenderType),
		Content:    msg.Content,
		Mentions:   msg.Mentions,
		ParentID:   msg.ParentID,
		CreatedAt:  msg.CreatedAt,
		EditedAt:   msg.EditedAt,
	})
	return msg, nil
}

// React toggles a reaction and broadcasts the outcome.
func (r *Router) React(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}

	added, err := r.store.ToggleReaction(ctx, messageID, userID, emoji, time.Now().UTC())
	if err != nil {
		return false, err
	}

	action := "add"
	if !added {
		action = "remove"
	}
	r.events.Publish(hub.EventReaction, hub.ReactionPayload{
		MessageID: messageID,
		ChannelID: msg.ChannelID,
		UserID:    userID,
		Emoji:     emoji,
		Action:    action,
	})
	return added, nil
}

// Pin toggles a message's pinned flag and broadcasts it.
func (r *Router) Pin(ctx context.Context, messageID, userID string) (bool, error) {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return false, err
	}

	pinned := !msg.IsPinned
	if err := r.store.SetPinned(ctx, messageID, pinned, userID, time.Now().UTC()); err != nil {
		return false, err
	}

	r.events.Publish(hub.EventMessagePinned, hub.PinPayload{
		MessageID: messageID,
		ChannelID: msg.ChannelID,
		Pinned:    pinned,
		PinnedBy:  userID,
	})
	return pinned, nil
}

// Delete removes a sender's own message and broadcasts message_deleted.
func (r *Router) Delete(ctx context.Context, messageID, senderID string) error {
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := r.store.DeleteMessage(ctx, messageID, senderID); err != nil {
		return err
	}

	r.events.Publish(hub.EventMessageDeleted, hub.MessageDeletedPayload{
		ID:        messageID,
		ChannelID: msg.ChannelID,
	})
	return nil
}

// Search runs a filtered substring search, newest first, capped at 50.
func (r *Router) Search(ctx context.Context, f store.SearchFilter) ([]*store.MessageWithSender, error) {
	return r.store.SearchMessages(ctx, f)
}

// FetchResult is the priority-aware read model returned to agents.
type FetchResult struct {
	Mentions []*store.PriorityMessage `json:"mentions"`
	Project  []*store.PriorityMessage `json:"project"`
	Other    []*store.PriorityMessage `json:"other"`
}

// FetchForAgent returns unread traffic for an agent in priority order and
// advances the agent's read watermark over the channels it saw.
func (r *Router) FetchForAgent(ctx context.Context, agent *store.Agent, channelName string, limit int) (*FetchResult, error) {
	if limit <= 0 || limit > 10 {
		limit = 10
	}

	if channelName != "" {
		ch, err := r.channels.Get(ctx, channelName)
		if err != nil {
			return nil, err
		}
		msgs, err := r.store.ListRecentMessages(ctx, ch.ID, limit)
		if err != nil {
			return nil, err
		}
		result := &FetchResult{}
		for _, m := range msgs {
			result.Other = append(result.Other, &store.PriorityMessage{
				MessageWithSender: *m, ChannelName: ch.Name, Bucket: store.BucketOther,
			})
		}
		if err := r.store.MarkRead(ctx, agent.UserID, ch.ID, time.Now().UTC()); err != nil {
			return nil, err
		}
		return result, nil
	}

	buckets, err := r.store.FetchPriorityMessages(ctx, agent.UserID, agent.AgentName,
		channels.ProjectChannelName(agent.ProjectName))
	if err != nil {
		return nil, err
	}

	// The limit caps the whole result: mention hits fill first, then
	// project traffic, then the rest.
	remaining := limit
	take := func(msgs []*store.PriorityMessage) []*store.PriorityMessage {
		if remaining <= 0 {
			return nil
		}
		if len(msgs) > remaining {
			msgs = msgs[:remaining]
		}
		remaining -= len(msgs)
		return msgs
	}
	result := &FetchResult{
		Mentions: take(buckets[store.BucketMention]),
		Project:  take(buckets[store.BucketProject]),
		Other:    take(buckets[store.BucketOther]),
	}

	now := time.Now().UTC()
	marked := map[string]bool{}
	for _, bucket := range [][]*store.PriorityMessage{result.Mentions, result.Project, result.Other} {
		for _, m := range bucket {
			if marked[m.ChannelID] {
				continue
			}
			marked[m.ChannelID] = true
			if err := r.store.MarkRead(ctx, agent.UserID, m.ChannelID, now); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
