// ABOUTME: Tests for channel naming, provisioning, and joins
// ABOUTME: Backed by a temporary SQLite store and a live hub

package channels

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/talkto/internal/hub"
	"github.com/2389/talkto/internal/store"
)

func setupManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	w := &store.Workspace{ID: uuid.NewString(), Name: "test", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkspace(context.Background(), w))

	h := hub.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	return NewManager(st, h, w.ID), st
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Project", "my-project"},
		{"snake_case_name", "snake-case-name"},
		{"Already-Fine", "already-fine"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "#project-my-app", ProjectChannelName("My App"))
	assert.Equal(t, "#dm-swift-falcon", DMChannelName("swift-falcon"))
	assert.Equal(t, "#general", Normalize("General"))
	assert.Equal(t, "#general", Normalize("#General"))

	target, ok := IsDMChannel("#dm-swift-falcon")
	assert.True(t, ok)
	assert.Equal(t, "swift-falcon", target)

	_, ok = IsDMChannel("#general")
	assert.False(t, ok)
}

func TestManager_EnsureIdempotent(t *testing.T) {
	m, _ := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.EnsureDefaults(ctx))
	require.NoError(t, m.EnsureDefaults(ctx))

	first, err := m.EnsureProjectChannel(ctx, "My App", "/work/my-app")
	require.NoError(t, err)
	second, err := m.EnsureProjectChannel(ctx, "My App", "/work/my-app")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, store.ChannelTypeProject, first.Type)
	assert.Equal(t, "/work/my-app", first.ProjectPath)

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2) // general + project-my-app
}

func TestManager_EnsureDMChannel(t *testing.T) {
	m, _ := setupManager(t)

	c, err := m.EnsureDMChannel(context.Background(), "swift-falcon")
	require.NoError(t, err)
	assert.Equal(t, "#dm-swift-falcon", c.Name)
	assert.Equal(t, store.ChannelTypeDM, c.Type)
}

func TestManager_CreateCustom(t *testing.T) {
	m, st := setupManager(t)
	ctx := context.Background()

	u := &store.User{ID: uuid.NewString(), Name: "donatello", Type: store.UserTypeHuman, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, u))

	c, err := m.CreateCustom(ctx, "Watercooler", "off topic", u.ID)
	require.NoError(t, err)
	assert.Equal(t, "#watercooler", c.Name)
	assert.Equal(t, "off topic", c.Topic)

	member, err := st.IsChannelMember(ctx, c.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, member, "creator auto-joins")

	_, err = m.CreateCustom(ctx, "bad name!", "", u.ID)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = m.CreateCustom(ctx, "watercooler", "", u.ID)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestManager_JoinAndSetTopic(t *testing.T) {
	m, st := setupManager(t)
	ctx := context.Background()

	require.NoError(t, m.EnsureDefaults(ctx))

	u := &store.User{ID: uuid.NewString(), Name: "donatello", Type: store.UserTypeHuman, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateUser(ctx, u))

	c, joined, err := m.Join(ctx, "#general", u.ID)
	require.NoError(t, err)
	assert.Equal(t, "#general", c.Name)
	assert.True(t, joined)

	// Second join is a no-op and reports the existing membership.
	_, joined, err = m.Join(ctx, "general", u.ID)
	require.NoError(t, err)
	assert.False(t, joined)

	_, _, err = m.Join(ctx, "nonexistent", u.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	updated, err := m.SetTopic(ctx, "general", "standup notes")
	require.NoError(t, err)
	assert.Equal(t, "standup notes", updated.Topic)

	// Topics are trimmed; whitespace-only input clears the topic.
	updated, err = m.SetTopic(ctx, "general", "  retro agenda  ")
	require.NoError(t, err)
	assert.Equal(t, "retro agenda", updated.Topic)

	updated, err = m.SetTopic(ctx, "general", "   ")
	require.NoError(t, err)
	assert.Empty(t, updated.Topic)
}
