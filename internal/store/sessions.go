// ABOUTME: Agent login session accessors
// ABOUTME: At most one active session per agent; heartbeats refresh the watermark

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateSession inserts a session, ending any still-active sessions for the
// same agent first so the one-active-session invariant holds.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning session tx: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(sess.StartedAt)
	if _, err := tx.ExecContext(ctx, `
		UPDATE agent_sessions SET is_active = 0, ended_at = ? WHERE agent_id = ? AND is_active = 1
	`, now, sess.AgentID); err != nil {
		return fmt.Errorf("ending stale sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agent_sessions (id, agent_id, pid, tty, is_active, started_at, last_heartbeat)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, sess.ID, sess.AgentID, sess.PID, nullString(sess.TTY), now, fmtTime(sess.LastHeartbeat)); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return tx.Commit()
}

// GetActiveSession returns the agent's active session, or ErrNotFound.
func (s *Store) GetActiveSession(ctx context.Context, agentID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, pid, tty, is_active, started_at, ended_at, last_heartbeat
		FROM agent_sessions
		WHERE agent_id = ? AND is_active = 1
	`, agentID)
	return scanSession(row)
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var tty, endedAt sql.NullString
	var isActive int
	var startedAt, lastHeartbeat string

	err := row.Scan(&sess.ID, &sess.AgentID, &sess.PID, &tty, &isActive,
		&startedAt, &endedAt, &lastHeartbeat)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.TTY = stringOrEmpty(tty)
	sess.IsActive = isActive == 1
	sess.StartedAt = parseTime(startedAt)
	sess.EndedAt = parseTimePtr(endedAt)
	sess.LastHeartbeat = parseTime(lastHeartbeat)
	return &sess, nil
}

// EndSessions deactivates all active sessions for an agent.
func (s *Store) EndSessions(ctx context.Context, agentID string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_sessions SET is_active = 0, ended_at = ? WHERE agent_id = ? AND is_active = 1
	`, fmtTime(endedAt), agentID)
	if err != nil {
		return fmt.Errorf("ending sessions: %w", err)
	}
	return nil
}

// Heartbeat refreshes the active session's last_heartbeat.
// Returns ErrNotFound when the agent has no active session.
func (s *Store) Heartbeat(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_sessions SET last_heartbeat = ? WHERE agent_id = ? AND is_active = 1
	`, fmtTime(at), agentID)
	if err != nil {
		return fmt.Errorf("updating heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
