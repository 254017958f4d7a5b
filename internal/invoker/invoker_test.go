// ABOUTME: Tests for invocation target resolution, guards, chaining, and prompts
// ABOUTME: A scripted fake adapter stands in for real providers

package invoker

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/provider"
	"github.com/2389/talkto/internal/store"
)

// fakeAdapter returns scripted responses per agent session and records
// every prompt it receives.
type fakeAdapter struct {
	mu        sync.Mutex
	responses map[string]string // sessionID → response text
	alive     map[string]bool
	prompts   map[string][]string // sessionID → prompts received
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		responses: make(map[string]string),
		alive:     make(map[string]bool),
		prompts:   make(map[string][]string),
	}
}

func (f *fakeAdapter) Prompt(_ context.Context, target provider.Target, text string, cb provider.Callbacks) (*provider.Result, error) {
	f.mu.Lock()
	f.prompts[target.SessionID] = append(f.prompts[target.SessionID], text)
	resp := f.responses[target.SessionID]
	f.mu.Unlock()

	if resp == "" {
		return nil, provider.ErrNoResponse
	}
	if cb.OnTextDelta != nil {
		cb.OnTextDelta(resp)
	}
	return &provider.Result{Text: resp}, nil
}

func (f *fakeAdapter) IsSessionBusy(context.Context, provider.Target) bool { return false }

func (f *fakeAdapter) IsSessionAlive(_ context.Context, target provider.Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[target.SessionID]
}

func (f *fakeAdapter) promptsFor(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts[sessionID]...)
}

type fakeAdapters struct{ adapter *fakeAdapter }

func (f fakeAdapters) For(t store.AgentType) (provider.Adapter, error) {
	return f.adapter, nil
}

type fixture struct {
	invoker *Invoker
	store   *store.Store
	adapter *fakeAdapter
	wsID    string
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

	adapter := newFakeAdapter()
	return &fixture{
		invoker: New(st, h, fakeAdapters{adapter}),
		store:   st,
		adapter: adapter,
		wsID:    w.ID,
	}
}

// addAgent registers an invocable claude_code agent with its own session id.
func (f *fixture) addAgent(t *testing.T, name, projectName, sessionID string) *store.Agent {
	t.Helper()
	ctx := context.Background()
	u := &store.User{ID: uuid.NewString(), Name: name, Type: store.UserTypeAgent, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(ctx, u))
	a := &store.Agent{
		UserID: u.ID, AgentName: name, AgentType: store.AgentTypeClaudeCode,
		ProjectName: projectName, Status: store.AgentStatusOnline,
		ProviderSessionID: sessionID, WorkspaceID: f.wsID, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateAgent(ctx, a))
	f.adapter.alive[sessionID] = true
	return a
}

func (f *fixture) addChannel(t *testing.T, name string, typ store.ChannelType) *store.Channel {
	t.Helper()
	c := &store.Channel{
		ID: uuid.NewString(), Name: name, Type: typ, CreatedBy: "system",
		CreatedAt: time.Now().UTC(), WorkspaceID: f.wsID,
	}
	require.NoError(t, f.store.CreateChannel(context.Background(), c))
	return c
}

func TestInvoker_DMInvokesTargetVerbatim(t *testing.T) {
	f := setup(t)
	f.addAgent(t, "plucky-sparrow", "app", "ses_1")
	c := f.addChannel(t, "#dm-plucky-sparrow", store.ChannelTypeDM)
	f.adapter.responses["ses_1"] = "on it"

	f.invoker.InvokeForMessage(context.Background(), Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name, Content: "fix the bug",
	})
	f.invoker.Wait()

	prompts := f.adapter.promptsFor("ses_1")
	require.Len(t, prompts, 1)
	assert.Equal(t, "fix the bug", prompts[0], "DM prompt is the raw content")

	msgs, err := f.store.ListMessages(context.Background(), c.ID, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "on it", msgs[0].Content)
	assert.Equal(t, "plucky-sparrow", msgs[0].SenderName)
}

func TestInvoker_SelfInvocationGuardInDM(t *testing.T) {
	f := setup(t)
	f.addAgent(t, "alice", "app", "ses_1")
	c := f.addChannel(t, "#dm-alice", store.ChannelTypeDM)
	f.adapter.responses["ses_1"] = "should never be used"

	f.invoker.InvokeForMessage(context.Background(), Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name, Content: "talking to myself",
	})
	f.invoker.Wait()

	assert.Empty(t, f.adapter.promptsFor("ses_1"))
}

func TestInvoker_MentionPromptIncludesContext(t *testing.T) {
	f := setup(t)
	f.addAgent(t, "swift-falcon", "app", "ses_1")
	c := f.addChannel(t, "#general", store.ChannelTypeGeneral)
	f.adapter.responses["ses_1"] = "ack"

	ctx := context.Background()
	human := &store.User{ID: uuid.NewString(), Name: "alice", Type: store.UserTypeHuman, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(ctx, human))
	prior := &store.Message{
		ID: uuid.NewString(), ChannelID: c.ID, SenderID: human.ID,
		Content: "earlier chatter", CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, f.store.CreateMessage(ctx, prior))

	f.invoker.InvokeForMessage(ctx, Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name,
		Content: "@swift-falcon status?", Mentions: []string{"swift-falcon"},
	})
	f.invoker.Wait()

	prompts := f.adapter.promptsFor("ses_1")
	require.Len(t, prompts, 1)
	assert.True(t, strings.HasPrefix(prompts[0], "[TalkTo] alice mentioned you in #general."), prompts[0])
	assert.Contains(t, prompts[0], "Recent messages in the channel:")
	assert.Contains(t, prompts[0], "  alice: earlier chatter")
	assert.Contains(t, prompts[0], "alice: @swift-falcon status?")
}

func TestInvoker_AllExpansionInProjectChannel(t *testing.T) {
	f := setup(t)
	// a1: right project, invocable. a2: right project, not alive (silent drop).
	// a3: other project. a4: system.
	f.addAgent(t, "a1", "foo", "ses_a1")
	a2 := f.addAgent(t, "a2", "foo", "ses_a2")
	f.addAgent(t, "a3", "bar", "ses_a3")
	f.adapter.alive["ses_a2"] = false
	_ = a2

	ctx := context.Background()
	sysUser := &store.User{ID: uuid.NewString(), Name: "a4", Type: store.UserTypeAgent, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(ctx, sysUser))
	require.NoError(t, f.store.CreateAgent(ctx, &store.Agent{
		UserID: sysUser.ID, AgentName: "a4", AgentType: store.AgentTypeSystem,
		ProjectName: "foo", Status: store.AgentStatusOnline, WorkspaceID: f.wsID, CreatedAt: time.Now().UTC(),
	}))

	c := f.addChannel(t, "#project-foo", store.ChannelTypeProject)
	f.adapter.responses["ses_a1"] = "here"
	f.adapter.responses["ses_a2"] = "should not fire"
	f.adapter.responses["ses_a3"] = "wrong project"

	f.invoker.InvokeForMessage(ctx, Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name,
		Content: "@all standup time", Mentions: []string{"all"},
	})
	f.invoker.Wait()

	assert.Len(t, f.adapter.promptsFor("ses_a1"), 1)
	assert.Empty(t, f.adapter.promptsFor("ses_a2"), "ghost dropped silently")
	assert.Empty(t, f.adapter.promptsFor("ses_a3"), "other project excluded")
}

func TestInvoker_AllIgnoredInDM(t *testing.T) {
	f := setup(t)
	f.addAgent(t, "plucky-sparrow", "app", "ses_1")
	f.addAgent(t, "bystander", "app", "ses_2")
	c := f.addChannel(t, "#dm-plucky-sparrow", store.ChannelTypeDM)
	f.adapter.responses["ses_1"] = "just me"
	f.adapter.responses["ses_2"] = "should not fire"

	f.invoker.InvokeForMessage(context.Background(), Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name,
		Content: "@all hello", Mentions: []string{"all"},
	})
	f.invoker.Wait()

	assert.Len(t, f.adapter.promptsFor("ses_1"), 1, "DM target still invoked")
	assert.Empty(t, f.adapter.promptsFor("ses_2"), "@all is a no-op in DMs")
}

func TestInvoker_ChainingWithDepthCap(t *testing.T) {
	f := setup(t)
	// ping and pong mention each other forever; the depth cap must stop it.
	f.addAgent(t, "ping", "app", "ses_ping")
	f.addAgent(t, "pong", "app", "ses_pong")
	c := f.addChannel(t, "#general", store.ChannelTypeGeneral)
	f.adapter.responses["ses_ping"] = "@pong your turn"
	f.adapter.responses["ses_pong"] = "@ping your turn"

	f.invoker.InvokeForMessage(context.Background(), Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name,
		Content: "@ping go", Mentions: []string{"ping"},
	})
	f.invoker.Wait()

	total := len(f.adapter.promptsFor("ses_ping")) + len(f.adapter.promptsFor("ses_pong"))
	assert.Equal(t, MaxChainDepth, total, "one invocation per depth level")
}

func TestInvoker_ResponseMentionExtraction(t *testing.T) {
	f := setup(t)
	f.addAgent(t, "swift-falcon", "app", "ses_1")
	f.addAgent(t, "keen-otter", "app", "ses_2")
	c := f.addChannel(t, "#general", store.ChannelTypeGeneral)
	// Mentions itself, a registered agent, and an unknown name.
	f.adapter.responses["ses_1"] = "done. @keen-otter take over, cc @swift-falcon @nobody"
	f.adapter.responses["ses_2"] = "taking over"

	f.invoker.InvokeForMessage(context.Background(), Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name,
		Content: "@swift-falcon go", Mentions: []string{"swift-falcon"},
	})
	f.invoker.Wait()

	msgs, err := f.store.ListMessages(context.Background(), c.ID, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"keen-otter"}, msgs[0].Mentions,
		"self and unknown names are excluded from persisted mentions")
	assert.Len(t, f.adapter.promptsFor("ses_2"), 1, "chained to the mentioned agent")
}

func TestInvoker_DepthAtCapIsNoop(t *testing.T) {
	f := setup(t)
	f.addAgent(t, "swift-falcon", "app", "ses_1")
	c := f.addChannel(t, "#general", store.ChannelTypeGeneral)
	f.adapter.responses["ses_1"] = "should not fire"

	f.invoker.InvokeForMessage(context.Background(), Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name,
		Content: "@swift-falcon go", Mentions: []string{"swift-falcon"}, Depth: MaxChainDepth,
	})
	f.invoker.Wait()

	assert.Empty(t, f.adapter.promptsFor("ses_1"))
}

func TestInvoker_NonInvocableExplicitMention(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Registered but without a provider session: not invocable.
	u := &store.User{ID: uuid.NewString(), Name: "sleepy-mole", Type: store.UserTypeAgent, CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CreateUser(ctx, u))
	require.NoError(t, f.store.CreateAgent(ctx, &store.Agent{
		UserID: u.ID, AgentName: "sleepy-mole", AgentType: store.AgentTypeClaudeCode,
		Status: store.AgentStatusOffline, WorkspaceID: f.wsID, CreatedAt: time.Now().UTC(),
	}))

	c := f.addChannel(t, "#general", store.ChannelTypeGeneral)

	f.invoker.InvokeForMessage(ctx, Request{
		SenderName: "alice", ChannelID: c.ID, ChannelName: c.Name,
		Content: "@sleepy-mole wake up", Mentions: []string{"sleepy-mole"},
	})
	f.invoker.Wait()

	// No message persisted; the agent was never prompted.
	msgs, err := f.store.ListMessages(ctx, c.ID, 10, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
