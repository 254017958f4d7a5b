// ABOUTME: Subprocess adapter for Claude Code and Codex CLI sessions
// ABOUTME: Liveness comes from an in-process map marked at register time

package provider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// LivenessMap tracks which provider sessions were registered by a live
// process. Subprocess providers have no remote probe, so register marks a
// session alive and disconnect marks it dead.
type LivenessMap struct {
	mu    sync.RWMutex
	alive map[string]bool
}

// NewLivenessMap creates an empty map.
func NewLivenessMap() *LivenessMap {
	return &LivenessMap{alive: make(map[string]bool)}
}

// MarkAlive records a session as reachable.
func (m *LivenessMap) MarkAlive(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive[sessionID] = true
}

// MarkDead removes a session.
func (m *LivenessMap) MarkDead(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alive, sessionID)
}

// IsAlive reports whether the session was marked alive.
func (m *LivenessMap) IsAlive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alive[sessionID]
}

// SubprocessAdapter prompts CLI-based providers by resuming their session
// in a one-shot subprocess and capturing stdout.
type SubprocessAdapter struct {
	command  string
	buildArgs func(sessionID, text string) []string
	liveness *LivenessMap
	logger   *slog.Logger

	// serializes prompts per session; a busy session queues
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewClaudeCodeAdapter builds the adapter for Claude Code sessions.
func NewClaudeCodeAdapter(liveness *LivenessMap) *SubprocessAdapter {
	return &SubprocessAdapter{
		command: "claude",
		buildArgs: func(sessionID, text string) []string {
			return []string{"--resume", sessionID, "--print", text}
		},
		liveness: liveness,
		logger:   slog.Default().With("component", "provider", "provider", "claude_code"),
		inFlight: make(map[string]bool),
	}
}

// NewCodexAdapter builds the adapter for Codex CLI sessions.
func NewCodexAdapter(liveness *LivenessMap) *SubprocessAdapter {
	return &SubprocessAdapter{
		command: "codex",
		buildArgs: func(sessionID, text string) []string {
			return []string{"exec", "resume", sessionID, text}
		},
		liveness: liveness,
		logger:   slog.Default().With("component", "provider", "provider", "codex"),
		inFlight: make(map[string]bool),
	}
}

// Prompt resumes the session in a subprocess. The full stdout is delivered
// as a single text delta; subprocess providers do not stream.
func (a *SubprocessAdapter) Prompt(ctx context.Context, target Target, text string, cb Callbacks) (*Result, error) {
	if cb.OnTypingStart != nil {
		cb.OnTypingStart()
	}

	a.setInFlight(target.SessionID, true)
	defer a.setInFlight(target.SessionID, false)

	cmd := exec.CommandContext(ctx, a.command, a.buildArgs(target.SessionID, text)...)
	if target.ProjectPath != "" {
		cmd.Dir = target.ProjectPath
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		a.logger.Warn("subprocess prompt failed",
			"session", target.SessionID, "error", err, "stderr", stderr.String())
		return nil, fmt.Errorf("running %s: %w", a.command, err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, ErrNoResponse
	}
	if cb.OnTextDelta != nil {
		cb.OnTextDelta(out)
	}
	return &Result{Text: out}, nil
}

func (a *SubprocessAdapter) setInFlight(sessionID string, v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v {
		a.inFlight[sessionID] = true
	} else {
		delete(a.inFlight, sessionID)
	}
}

// IsSessionBusy reports whether a prompt is currently running.
func (a *SubprocessAdapter) IsSessionBusy(_ context.Context, target Target) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight[target.SessionID]
}

// IsSessionAlive consults the register-time liveness map.
func (a *SubprocessAdapter) IsSessionAlive(_ context.Context, target Target) bool {
	return target.SessionID != "" && a.liveness.IsAlive(target.SessionID)
}
