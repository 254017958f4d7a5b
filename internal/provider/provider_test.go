// ABOUTME: Tests for text extraction, liveness, and the OpenCode HTTP adapter
// ABOUTME: OpenCode endpoints are served by httptest fakes

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/talkto/internal/store"
)

func TestExtractText(t *testing.T) {
	parts := []Part{
		{Type: "text", Text: "first"},
		{Type: "tool_invocation", Text: "ls -la"},
		{Type: "text", Text: "ignored bit", Ignored: true},
		{Type: "reasoning", Text: "thinking..."},
		{Type: "text", Text: "second"},
	}
	assert.Equal(t, "first\nsecond", ExtractText(parts))

	assert.Empty(t, ExtractText(nil))
	assert.Empty(t, ExtractText([]Part{{Type: "text", Ignored: true, Text: "x"}}))
}

func TestLongestCommonDirPrefix(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"/work/app/src", "/work/app", 2},
		{"/work/app", "/work/other", 1},
		{"/a", "/b", 0},
		{`C:\work\app`, "C:/work/app/src", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LongestCommonDirPrefix(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestLivenessMap(t *testing.T) {
	m := NewLivenessMap()
	assert.False(t, m.IsAlive("ses_1"))

	m.MarkAlive("ses_1")
	assert.True(t, m.IsAlive("ses_1"))

	m.MarkDead("ses_1")
	assert.False(t, m.IsAlive("ses_1"))
}

func TestRegistry_AdapterLookup(t *testing.T) {
	r := NewRegistry()

	for _, typ := range []store.AgentType{store.AgentTypeOpenCode, store.AgentTypeClaudeCode, store.AgentTypeCodex} {
		a, err := r.For(typ)
		require.NoError(t, err)
		assert.NotNil(t, a)
	}

	_, err := r.For(store.AgentTypeSystem)
	assert.Error(t, err)
}

func TestRegistry_SubprocessLiveness(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	claude, err := r.For(store.AgentTypeClaudeCode)
	require.NoError(t, err)

	target := Target{AgentName: "swift-falcon", SessionID: "ses_1"}
	assert.False(t, claude.IsSessionAlive(ctx, target))

	r.MarkSessionAlive(store.AgentTypeClaudeCode, "ses_1")
	assert.True(t, claude.IsSessionAlive(ctx, target))

	r.MarkSessionDead(store.AgentTypeClaudeCode, "ses_1")
	assert.False(t, claude.IsSessionAlive(ctx, target))
}

func TestOpenCode_IsSessionAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/ses_live" {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"id":"ses_live"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	a := NewOpenCodeAdapter()
	ctx := context.Background()

	assert.True(t, a.IsSessionAlive(ctx, Target{ServerURL: srv.URL, SessionID: "ses_live"}))
	assert.False(t, a.IsSessionAlive(ctx, Target{ServerURL: srv.URL, SessionID: "ses_gone"}))
	assert.False(t, a.IsSessionAlive(ctx, Target{SessionID: "ses_live"}), "no server URL")
	assert.False(t, a.IsSessionAlive(ctx, Target{ServerURL: "http://127.0.0.1:1", SessionID: "x"}), "unreachable server")
}

func TestOpenCode_DiscoverSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session", r.URL.Path)
		fmt.Fprint(w, `[
			{"id":"ses_a","directory":"/work/other"},
			{"id":"ses_b","directory":"/work/app"},
			{"id":"ses_c","directory":"/elsewhere"}
		]`)
	}))
	defer srv.Close()

	a := NewOpenCodeAdapter()
	a.DiscoveryBase = srv.URL
	ctx := context.Background()

	url, sessionID, ok := a.DiscoverSession(ctx, "/work/app/src")
	require.True(t, ok)
	assert.Equal(t, srv.URL, url)
	assert.Equal(t, "ses_b", sessionID)

	// No session shares a path component with the project.
	_, _, ok = a.DiscoverSession(ctx, "/nowhere/near")
	assert.False(t, ok)

	// Dead server.
	a.DiscoveryBase = "http://127.0.0.1:1"
	_, _, ok = a.DiscoverSession(ctx, "/work/app")
	assert.False(t, ok)
}

func TestOpenCode_Prompt_SSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session/ses_1/message", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"part\",\"part\":{\"type\":\"text\",\"text\":\"Hello \"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"part\",\"part\":{\"type\":\"tool_invocation\",\"text\":\"ls\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"part\",\"part\":{\"type\":\"text\",\"text\":\"world\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewOpenCodeAdapter()

	var deltas []string
	typingStarted := false
	res, err := a.Prompt(context.Background(), Target{ServerURL: srv.URL, SessionID: "ses_1"}, "hi", Callbacks{
		OnTypingStart: func() { typingStarted = true },
		OnTextDelta:   func(d string) { deltas = append(deltas, d) },
	})
	require.NoError(t, err)

	assert.True(t, typingStarted)
	assert.Equal(t, []string{"Hello ", "world"}, deltas)
	assert.Equal(t, "Hello world", res.Text)
}

func TestOpenCode_Prompt_JSONFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"parts":[{"type":"text","text":"done deal"}],"cost":0.02,"tokens":{"input":10,"output":5}}`)
	}))
	defer srv.Close()

	a := NewOpenCodeAdapter()
	res, err := a.Prompt(context.Background(), Target{ServerURL: srv.URL, SessionID: "ses_1"}, "hi", Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "done deal", res.Text)
	assert.Equal(t, 0.02, res.Cost)
	assert.Equal(t, Tokens{Input: 10, Output: 5}, res.Tokens)
}

func TestOpenCode_Prompt_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"parts":[{"type":"reasoning","text":"hmm"}]}`)
	}))
	defer srv.Close()

	a := NewOpenCodeAdapter()
	_, err := a.Prompt(context.Background(), Target{ServerURL: srv.URL, SessionID: "ses_1"}, "hi", Callbacks{})
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestOpenCode_Prompt_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewOpenCodeAdapter()
	_, err := a.Prompt(context.Background(), Target{ServerURL: srv.URL, SessionID: "ses_1"}, "hi", Callbacks{})
	assert.Error(t, err)
}
