// ABOUTME: OpenCode adapter: HTTP prompt with SSE streaming against the local server
// ABOUTME: Liveness probes GET /session/{id} with a short timeout

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const livenessTimeout = 4 * time.Second

// DefaultLocalServer is the conventional local OpenCode address probed when
// a registration omits serverUrl.
const DefaultLocalServer = "http://127.0.0.1:4096"

// OpenCodeAdapter prompts agents backed by a local OpenCode server.
type OpenCodeAdapter struct {
	client *http.Client
	logger *slog.Logger

	// DiscoveryBase is the server DiscoverSession probes. Tests point it at
	// a httptest server.
	DiscoveryBase string
}

// NewOpenCodeAdapter creates the adapter. The client carries no timeout;
// prompt calls run until the provider answers or ctx is canceled.
func NewOpenCodeAdapter() *OpenCodeAdapter {
	return &OpenCodeAdapter{
		client:        &http.Client{},
		logger:        slog.Default().With("component", "provider", "provider", "opencode"),
		DiscoveryBase: DefaultLocalServer,
	}
}

type opencodePromptRequest struct {
	Parts []Part `json:"parts"`
}

type opencodeStreamEvent struct {
	Type string `json:"type"`
	Part Part   `json:"part"`
}

type opencodeResponse struct {
	Parts []Part `json:"parts"`
	Cost  float64 `json:"cost"`
	Tokens struct {
		Input  int `json:"input"`
		Output int `json:"output"`
	} `json:"tokens"`
}

// Prompt posts the text to the session's message endpoint and streams the
// SSE response. Text deltas are forwarded in arrival order.
func (a *OpenCodeAdapter) Prompt(ctx context.Context, target Target, text string, cb Callbacks) (*Result, error) {
	body, err := json.Marshal(opencodePromptRequest{
		Parts: []Part{{Type: "text", Text: text}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding prompt: %w", err)
	}

	url := fmt.Sprintf("%s/session/%s/message", strings.TrimSuffix(target.ServerURL, "/"), target.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prompting session %s: %w", target.SessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("session %s returned status %d", target.SessionID, resp.StatusCode)
	}

	if cb.OnTypingStart != nil {
		cb.OnTypingStart()
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return a.consumeStream(resp.Body, cb)
	}
	return a.consumeJSON(resp.Body, cb)
}

// consumeStream parses SSE frames. Each data line carries either a part
// delta or the final response document.
func (a *OpenCodeAdapter) consumeStream(body io.Reader, cb Callbacks) (*Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	result := &Result{}
	var texts []string

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev opencodeStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "part":
			if ev.Part.Type == "text" && !ev.Part.Ignored && ev.Part.Text != "" {
				texts = append(texts, ev.Part.Text)
				if cb.OnTextDelta != nil {
					cb.OnTextDelta(ev.Part.Text)
				}
			}
		case "done":
			var final opencodeResponse
			if err := json.Unmarshal([]byte(data), &struct {
				Response *opencodeResponse `json:"response"`
			}{&final}); err == nil {
				result.Cost = final.Cost
				result.Tokens = Tokens{Input: final.Tokens.Input, Output: final.Tokens.Output}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	result.Text = strings.TrimSpace(strings.Join(texts, ""))
	if result.Text == "" {
		return nil, ErrNoResponse
	}
	return result, nil
}

// consumeJSON handles providers that answer with a single document.
func (a *OpenCodeAdapter) consumeJSON(body io.Reader, cb Callbacks) (*Result, error) {
	var doc opencodeResponse
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	text := ExtractText(doc.Parts)
	if text == "" {
		return nil, ErrNoResponse
	}
	if cb.OnTextDelta != nil {
		cb.OnTextDelta(text)
	}
	return &Result{
		Text:   text,
		Cost:   doc.Cost,
		Tokens: Tokens{Input: doc.Tokens.Input, Output: doc.Tokens.Output},
	}, nil
}

// IsSessionBusy asks the server whether the session is mid-turn.
func (a *OpenCodeAdapter) IsSessionBusy(ctx context.Context, target Target) bool {
	ctx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/session/%s", strings.TrimSuffix(target.ServerURL, "/"), target.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var doc struct {
		Busy bool `json:"busy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return false
	}
	return doc.Busy
}

// IsSessionAlive pings GET {serverUrl}/session/{id}; any 2xx is alive.
func (a *OpenCodeAdapter) IsSessionAlive(ctx context.Context, target Target) bool {
	if target.ServerURL == "" || target.SessionID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/session/%s", strings.TrimSuffix(target.ServerURL, "/"), target.SessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type opencodeSession struct {
	ID        string `json:"id"`
	Directory string `json:"directory"`
}

// DiscoverSession probes the conventional local server and matches one of
// its listed sessions to projectPath by longest-common-directory prefix.
// Returns the server URL and the best-matching session ID.
func (a *OpenCodeAdapter) DiscoverSession(ctx context.Context, projectPath string) (serverURL, sessionID string, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, livenessTimeout)
	defer cancel()

	base := strings.TrimSuffix(a.DiscoveryBase, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/session", nil)
	if err != nil {
		return "", "", false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", false
	}

	var sessions []opencodeSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return "", "", false
	}

	best, bestLen := -1, 0
	for i, s := range sessions {
		if n := LongestCommonDirPrefix(s.Directory, projectPath); n > bestLen {
			best, bestLen = i, n
		}
	}
	if best < 0 {
		return "", "", false
	}

	a.logger.Info("discovered local session",
		"server_url", base, "session_id", sessions[best].ID, "directory", sessions[best].Directory)
	return base, sessions[best].ID, true
}

// LongestCommonDirPrefix returns the number of leading path components two
// paths share. Separators are normalized so Windows paths compare cleanly.
// Used to match an OpenCode session to a project directory.
func LongestCommonDirPrefix(a, b string) int {
	norm := func(p string) []string {
		p = strings.ReplaceAll(p, "\\", "/")
		return strings.Split(strings.Trim(p, "/"), "/")
	}
	pa, pb := norm(a), norm(b)

	n := 0
	for n < len(pa) && n < len(pb) && pa[n] == pb[n] {
		n++
	}
	return n
}
