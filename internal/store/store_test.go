// ABOUTME: Tests for users, agents, sessions, and channels
// ABOUTME: Each test runs against a fresh temporary SQLite database

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := Open(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func seedWorkspace(t *testing.T, s *Store) *Workspace {
	t.Helper()
	w := &Workspace{ID: uuid.NewString(), Name: "test", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateWorkspace(context.Background(), w))
	return w
}

func seedUser(t *testing.T, s *Store, name string, typ UserType) *User {
	t.Helper()
	u := &User{ID: uuid.NewString(), Name: name, Type: typ, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func seedAgent(t *testing.T, s *Store, workspaceID, name string, typ AgentType) *Agent {
	t.Helper()
	u := seedUser(t, s, name, UserTypeAgent)
	a := &Agent{
		UserID:      u.ID,
		AgentName:   name,
		AgentType:   typ,
		ProjectPath: "/work/demo",
		ProjectName: "demo",
		Status:      AgentStatusOffline,
		WorkspaceID: workspaceID,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func seedChannel(t *testing.T, s *Store, workspaceID, name string, typ ChannelType) *Channel {
	t.Helper()
	c := &Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        typ,
		CreatedBy:   "system",
		CreatedAt:   time.Now().UTC(),
		WorkspaceID: workspaceID,
	}
	require.NoError(t, s.CreateChannel(context.Background(), c))
	return c
}

func TestStore_CreateUser(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "donatello", UserTypeHuman)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "donatello", got.Name)
	assert.Equal(t, UserTypeHuman, got.Type)

	byName, err := store.GetUserByName(ctx, "donatello")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)
}

func TestStore_CreateUser_DuplicateName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "donatello", UserTypeHuman)

	dup := &User{ID: uuid.NewString(), Name: "donatello", Type: UserTypeHuman, CreatedAt: time.Now().UTC()}
	err := store.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestStore_GetUser_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetUser(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateUserProfile(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	u := seedUser(t, store, "donatello", UserTypeHuman)

	err := store.UpdateUserProfile(ctx, u.ID, "Donatello", "turtle things")
	require.NoError(t, err)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Donatello", got.DisplayName)
	assert.Equal(t, "turtle things", got.About)
}

func TestStore_CreateAgent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)

	a := seedAgent(t, store, w.ID, "swift-falcon", AgentTypeOpenCode)

	got, err := store.GetAgentByName(ctx, "swift-falcon")
	require.NoError(t, err)
	assert.Equal(t, a.UserID, got.UserID)
	assert.Equal(t, AgentTypeOpenCode, got.AgentType)
	assert.Equal(t, AgentStatusOffline, got.Status)
}

func TestStore_AgentNameExists(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)

	seedAgent(t, store, w.ID, "swift-falcon", AgentTypeClaudeCode)

	exists, err := store.AgentNameExists(ctx, "swift-falcon")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.AgentNameExists(ctx, "slow-snail")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_UpdateAgentConnection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)

	seedAgent(t, store, w.ID, "swift-falcon", AgentTypeOpenCode)

	err := store.UpdateAgentConnection(ctx, "swift-falcon", "sess-1", "http://localhost:4096", "/work/other", "other", AgentStatusOnline)
	require.NoError(t, err)

	got, err := store.GetAgentByName(ctx, "swift-falcon")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ProviderSessionID)
	assert.Equal(t, "http://localhost:4096", got.ServerURL)
	assert.Equal(t, "other", got.ProjectName)
	assert.Equal(t, AgentStatusOnline, got.Status)

	// Reconnecting with an empty server URL clears the column.
	err = store.UpdateAgentConnection(ctx, "swift-falcon", "sess-2", "", "/work/other", "other", AgentStatusOnline)
	require.NoError(t, err)

	got, err = store.GetAgentByName(ctx, "swift-falcon")
	require.NoError(t, err)
	assert.Empty(t, got.ServerURL)
}

func TestAgent_Invocable(t *testing.T) {
	tests := []struct {
		name  string
		agent Agent
		want  bool
	}{
		{"opencode with both", Agent{AgentType: AgentTypeOpenCode, ServerURL: "http://x", ProviderSessionID: "s"}, true},
		{"opencode missing url", Agent{AgentType: AgentTypeOpenCode, ProviderSessionID: "s"}, false},
		{"opencode missing session", Agent{AgentType: AgentTypeOpenCode, ServerURL: "http://x"}, false},
		{"claude_code with session", Agent{AgentType: AgentTypeClaudeCode, ProviderSessionID: "s"}, true},
		{"claude_code without session", Agent{AgentType: AgentTypeClaudeCode}, false},
		{"codex with session", Agent{AgentType: AgentTypeCodex, ProviderSessionID: "s"}, true},
		{"system never", Agent{AgentType: AgentTypeSystem, ProviderSessionID: "s"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.agent.Invocable())
		})
	}
}

func TestStore_UpdateAgentProfile_PartialFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)

	seedAgent(t, store, w.ID, "swift-falcon", AgentTypeCodex)

	desc := "debugging the flaky test"
	err := store.UpdateAgentProfile(ctx, "swift-falcon", AgentProfileUpdate{CurrentTask: &desc})
	require.NoError(t, err)

	got, err := store.GetAgentByName(ctx, "swift-falcon")
	require.NoError(t, err)
	assert.Equal(t, desc, got.CurrentTask)
	assert.Empty(t, got.Description, "untouched fields stay unset")
}

func TestStore_CreateSession_EndsStaleActives(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)
	a := seedAgent(t, store, w.ID, "swift-falcon", AgentTypeOpenCode)

	now := time.Now().UTC()
	first := &Session{ID: uuid.NewString(), AgentID: a.UserID, PID: 100, StartedAt: now, LastHeartbeat: now}
	require.NoError(t, store.CreateSession(ctx, first))

	second := &Session{ID: uuid.NewString(), AgentID: a.UserID, PID: 200, StartedAt: now.Add(time.Second), LastHeartbeat: now.Add(time.Second)}
	require.NoError(t, store.CreateSession(ctx, second))

	active, err := store.GetActiveSession(ctx, a.UserID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, 200, active.PID)
}

func TestStore_Heartbeat(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)
	a := seedAgent(t, store, w.ID, "swift-falcon", AgentTypeOpenCode)

	// No active session yet.
	err := store.Heartbeat(ctx, a.UserID, time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	sess := &Session{ID: uuid.NewString(), AgentID: a.UserID, PID: 100, StartedAt: now, LastHeartbeat: now}
	require.NoError(t, store.CreateSession(ctx, sess))

	later := now.Add(30 * time.Second)
	require.NoError(t, store.Heartbeat(ctx, a.UserID, later))

	active, err := store.GetActiveSession(ctx, a.UserID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, active.LastHeartbeat, time.Millisecond)
}

func TestStore_EndSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)
	a := seedAgent(t, store, w.ID, "swift-falcon", AgentTypeOpenCode)

	now := time.Now().UTC()
	sess := &Session{ID: uuid.NewString(), AgentID: a.UserID, PID: 100, StartedAt: now, LastHeartbeat: now}
	require.NoError(t, store.CreateSession(ctx, sess))

	require.NoError(t, store.EndSessions(ctx, a.UserID, now.Add(time.Minute)))

	_, err := store.GetActiveSession(ctx, a.UserID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateChannel_DuplicateNamePerWorkspace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)

	seedChannel(t, store, w.ID, "general", ChannelTypeGeneral)

	dup := &Channel{
		ID: uuid.NewString(), Name: "general", Type: ChannelTypeCustom,
		CreatedBy: "system", CreatedAt: time.Now().UTC(), WorkspaceID: w.ID,
	}
	err := store.CreateChannel(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same name in a different workspace is fine.
	other := seedWorkspace(t, store)
	dup.WorkspaceID = other.ID
	require.NoError(t, store.CreateChannel(ctx, dup))
}

func TestStore_ListChannels_SkipsArchived(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)

	seedChannel(t, store, w.ID, "general", ChannelTypeGeneral)
	archived := seedChannel(t, store, w.ID, "old-stuff", ChannelTypeCustom)

	_, err := store.db.ExecContext(ctx, `UPDATE channels SET is_archived = 1 WHERE id = ?`, archived.ID)
	require.NoError(t, err)

	channels, err := store.ListChannels(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "general", channels[0].Name)
}

func TestStore_AddChannelMember_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)
	c := seedChannel(t, store, w.ID, "general", ChannelTypeGeneral)
	u := seedUser(t, store, "donatello", UserTypeHuman)

	added, err := store.AddChannelMember(ctx, c.ID, u.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.AddChannelMember(ctx, c.ID, u.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, added, "second join is a no-op")

	member, err := store.IsChannelMember(ctx, c.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, member)
}

func TestStore_SetChannelTopic(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	w := seedWorkspace(t, store)
	c := seedChannel(t, store, w.ID, "general", ChannelTypeGeneral)

	require.NoError(t, store.SetChannelTopic(ctx, c.ID, "daily standup notes"))

	got, err := store.GetChannel(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "daily standup notes", got.Topic)

	err = store.SetChannelTopic(ctx, "nonexistent", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_TimeOrdering_LexicographicAcrossPrecision(t *testing.T) {
	// The fixed-width layout must keep string order equal to time order even
	// when fractional seconds differ in magnitude.
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	times := []time.Time{
		base.Add(100 * time.Millisecond),
		base.Add(150 * time.Millisecond),
		base.Add(2 * time.Millisecond),
	}
	for i := range times {
		for j := range times {
			wantBefore := times[i].Before(times[j])
			gotBefore := fmtTime(times[i]) < fmtTime(times[j])
			assert.Equal(t, wantBefore, gotBefore,
				fmt.Sprintf("%s vs %s", fmtTime(times[i]), fmtTime(times[j])))
		}
	}
}

func TestStore_MigrationsIdempotent(t *testing.T) {
	store := setupTestStore(t)

	// Running migrations again against an up-to-date schema is a no-op.
	require.NoError(t, store.runMigrations())
	require.NoError(t, store.runMigrations())
}
