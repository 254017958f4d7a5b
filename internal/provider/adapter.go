// ABOUTME: Provider adapter contract shared by OpenCode, Claude Code, and Codex
// ABOUTME: Prompt streams text deltas through callbacks and returns the full text

package provider

import (
	"context"
	"errors"
	"strings"
)

// ErrNoResponse is returned when a prompt yields no usable text.
var ErrNoResponse = errors.New("provider returned no response")

// Target carries the provider credentials needed to prompt one agent.
type Target struct {
	AgentName string
	ServerURL string // OpenCode only
	SessionID string
	ProjectPath string
}

// Tokens is the prompt/completion token split of one call.
type Tokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Result is the outcome of a prompt call.
type Result struct {
	Text   string  `json:"text"`
	Cost   float64 `json:"cost"`
	Tokens Tokens  `json:"tokens"`
}

// Callbacks receive streaming progress during a prompt call. All fields are
// optional. OnTextDelta must be invoked in arrival order; OnError is called
// at most once and is terminal.
type Callbacks struct {
	OnTypingStart func()
	OnTextDelta   func(delta string)
	OnError       func(msg string)
}

// Adapter is the uniform provider interface.
type Adapter interface {
	// Prompt sends text to the session and returns the assembled response.
	// A busy session may queue; the call blocks until the provider answers.
	Prompt(ctx context.Context, target Target, text string, cb Callbacks) (*Result, error)

	// IsSessionBusy reports whether the session is mid-turn. Best effort.
	IsSessionBusy(ctx context.Context, target Target) bool

	// IsSessionAlive reports whether the session is still reachable.
	IsSessionAlive(ctx context.Context, target Target) bool
}

// Part is one structured fragment of a provider response.
type Part struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Ignored bool   `json:"ignored,omitempty"`
}

// ExtractText concatenates non-ignored text parts with newlines and trims.
// Tool invocations, reasoning, and other structured parts are skipped.
func ExtractText(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type != "text" || p.Ignored || p.Text == "" {
			continue
		}
		texts = append(texts, p.Text)
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}
