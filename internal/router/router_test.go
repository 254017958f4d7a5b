// ABOUTME: Tests for send, reply framing, edits, reactions, pins, and fetch
// ABOUTME: Uses the real invoker with no reachable providers; invocation is inert

package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/talkto/internal/channels"
	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/invoker"
	"github.com/2389/talkto/internal/provider"
	"github.com/2389/talkto/internal/store"
)

type fixture struct {
	router *Router
	store  *store.Store
	inv    *invoker.Invoker
	wsID   string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	w := &store.Workspace{ID: uuid.NewString(), Name: "test", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkspace(ctx, w))

	h := hub.New()
	go h.Run(ctx)

	ch := channels.NewManager(st, h, w.ID)
	require.NoError(t, ch.EnsureDefaults(ctx))

	inv := invoker.New(st, h, provider.NewRegistry())
	return &fixture{
		router: New(st, ch, h, inv),
		store:  st,
		inv:    inv,
		wsID:   w.ID,
	}
}

func (f *fixture) addHuman(t *testing.T, name string) *store.User {
	t.Helper()
	u := &store.User{ID: uuid.NewString(), Name: name, Type: store.UserTypeHuman, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) addAgent(t *testing.T, name string) *store.Agent {
	t.Helper()
	ctx := context.Background()
	u := &store.User{ID: uuid.NewString(), Name: name, Type: store.UserTypeAgent, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(ctx, u))
	a := &store.Agent{
		UserID: u.ID, AgentName: name, AgentType: store.AgentTypeClaudeCode,
		Status: store.AgentStatusOffline, WorkspaceID: f.wsID, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateAgent(ctx, a))
	return a
}

func (f *fixture) send(t *testing.T, sender *store.User, channel, content string, mentions []string, parentID string) *store.MessageWithSender {
	t.Helper()
	msg, err := f.router.Send(context.Background(), SendParams{
		ChannelName: channel,
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		SenderType:  sender.Type,
		Content:     content,
		Mentions:    mentions,
		ParentID:    parentID,
	})
	require.NoError(t, err)
	f.inv.Wait()
	return msg
}

func TestRouter_SendPersists(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")

	msg := f.send(t, alice, "#general", "hello world", nil, "")
	assert.Equal(t, "alice", msg.SenderName)

	history, err := f.router.History(context.Background(), "#general", 10, "")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello world", history[0].Content)
}

func TestRouter_SendUnknownChannel(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")

	_, err := f.router.Send(context.Background(), SendParams{
		ChannelName: "#nope", SenderID: alice.ID, SenderName: "alice",
		SenderType: store.UserTypeHuman, Content: "x",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRouter_SendExtractsMentionsWhenOmitted(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")
	f.addAgent(t, "swift-falcon")

	msg := f.send(t, alice, "#general", "hey @swift-falcon and @nobody and @all", nil, "")
	assert.Equal(t, []string{"swift-falcon", "all"}, msg.Mentions,
		"registered agents and the all pseudo-mention survive, unknown names do not")
}

func TestRouter_ExplicitMentionsStoredAsSent(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")

	msg := f.send(t, alice, "#general", "plain text", []string{"whoever"}, "")
	assert.Equal(t, []string{"whoever"}, msg.Mentions)
}

func TestRouter_HistoryCursor(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		ids = append(ids, f.send(t, alice, "#general", text, nil, "").ID)
	}

	page, err := f.router.History(context.Background(), "#general", 10, ids[2])
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "one", page[0].Content)
	assert.Equal(t, "two", page[1].Content)
}

func TestRouter_FrameReplyTruncates(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")

	long := ""
	for i := 0; i < 30; i++ {
		long += "0123456789"
	}
	parent := f.send(t, alice, "#general", long, nil, "")

	framed, err := f.router.frameReply(context.Background(), parent.ID, "my answer")
	require.NoError(t, err)
	assert.Contains(t, framed, `[Replying to alice: "`)
	assert.Contains(t, framed, "\n\nmy answer")
	// 200-char quote plus framing, well under the 300-char original.
	assert.Less(t, len(framed), 250)
}

func TestRouter_FrameReplyKeepsQuotesLiteral(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")

	parent := f.send(t, alice, "#general", "she said \"ship it\"\nright now", nil, "")

	framed, err := f.router.frameReply(context.Background(), parent.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, "[Replying to alice: \"she said \"ship it\"\nright now\"]\n\ndone", framed)
}

func TestRouter_ReplyFramingNotPersisted(t *testing.T) {
	f := setup(t)
	alice := f.addHuman(t, "alice")

	parent := f.send(t, alice, "#general", "original question", nil, "")
	reply := f.send(t, alice, "#general", "the answer", nil, parent.ID)

	stored, err := f.store.GetMessage(context.Background(), reply.ID)
	require.NoError(t, err)
	assert.Equal(t, "the answer", stored.Content)
	assert.Equal(t, parent.ID, stored.ParentID)
}

func TestRouter_EditReactPinDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.addHuman(t, "alice")
	msg := f.send(t, alice, "#general", "draft", nil, "")

	edited, err := f.router.Edit(ctx, msg.ID, alice.ID, "final")
	require.NoError(t, err)
	assert.Equal(t, "final", edited.Content)
	assert.NotNil(t, edited.EditedAt)

	added, err := f.router.React(ctx, msg.ID, alice.ID, "🚀")
	require.NoError(t, err)
	assert.True(t, added)
	removed, err := f.router.React(ctx, msg.ID, alice.ID, "🚀")
	require.NoError(t, err)
	assert.False(t, removed)

	pinned, err := f.router.Pin(ctx, msg.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, pinned)
	unpinned, err := f.router.Pin(ctx, msg.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, unpinned)

	require.NoError(t, f.router.Delete(ctx, msg.ID, alice.ID))
	_, err = f.store.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRouter_FetchForAgent_ChannelMode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.addHuman(t, "alice")
	agent := f.addAgent(t, "swift-falcon")

	f.send(t, alice, "#general", "one", nil, "")
	f.send(t, alice, "#general", "two", nil, "")

	res, err := f.router.FetchForAgent(ctx, agent, "#general", 10)
	require.NoError(t, err)
	require.Len(t, res.Other, 2)
	assert.Equal(t, "one", res.Other[0].Content)
	assert.Empty(t, res.Mentions)
}

func TestRouter_FetchForAgent_PriorityAndWatermark(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.addHuman(t, "alice")
	agent := f.addAgent(t, "swift-falcon")

	general, err := f.router.channels.Get(ctx, "#general")
	require.NoError(t, err)
	_, err = f.store.AddChannelMember(ctx, general.ID, agent.UserID, time.Now().UTC())
	require.NoError(t, err)

	f.send(t, alice, "#general", "@swift-falcon look at this", []string{"swift-falcon"}, "")
	f.send(t, alice, "#general", "background noise", nil, "")

	res, err := f.router.FetchForAgent(ctx, agent, "", 10)
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "@swift-falcon look at this", res.Mentions[0].Content)
	require.Len(t, res.Other, 1)

	// The fetch advanced the watermark; a second fetch is empty.
	res, err = f.router.FetchForAgent(ctx, agent, "", 10)
	require.NoError(t, err)
	assert.Empty(t, res.Mentions)
	assert.Empty(t, res.Other)
}

func TestRouter_FetchForAgent_LimitSpansBuckets(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.addHuman(t, "alice")
	agent := f.addAgent(t, "swift-falcon")

	general, err := f.router.channels.Get(ctx, "#general")
	require.NoError(t, err)
	_, err = f.store.AddChannelMember(ctx, general.ID, agent.UserID, time.Now().UTC())
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		f.send(t, alice, "#general", "@swift-falcon ping", []string{"swift-falcon"}, "")
	}
	for i := 0; i < 7; i++ {
		f.send(t, alice, "#general", "background noise", nil, "")
	}

	res, err := f.router.FetchForAgent(ctx, agent, "", 10)
	require.NoError(t, err)

	// The limit caps the whole result, mentions first.
	assert.Len(t, res.Mentions, 7)
	assert.Len(t, res.Other, 3)
	assert.LessOrEqual(t, len(res.Mentions)+len(res.Project)+len(res.Other), 10)
}
