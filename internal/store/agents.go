// ABOUTME: Agent accessors: provider credentials, status, and profile fields
// ABOUTME: Agents extend users 1-to-1 and are keyed by the user id

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const agentColumns = `user_id, agent_name, agent_type, project_path, project_name, status,
	description, personality, current_task, gender, server_url, provider_session_id,
	workspace_id, created_at`

// CreateAgent inserts an agent row. The user row must exist first.
// Returns ErrDuplicate when the agent name is taken.
func (s *Store) CreateAgent(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (user_id, agent_name, agent_type, project_path, project_name,
			status, description, personality, current_task, gender, server_url,
			provider_session_id, workspace_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.UserID, a.AgentName, string(a.AgentType), a.ProjectPath, a.ProjectName,
		string(a.Status), nullString(a.Description), nullString(a.Personality),
		nullString(a.CurrentTask), nullString(a.Gender), nullString(a.ServerURL),
		nullString(a.ProviderSessionID), a.WorkspaceID, fmtTime(a.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting agent: %w", err)
	}
	s.logger.Debug("created agent", "agent_name", a.AgentName, "type", a.AgentType)
	return nil
}

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var a Agent
	var agentType, status, createdAt string
	var desc, personality, task, gender, serverURL, sessionID sql.NullString

	err := row.Scan(&a.UserID, &a.AgentName, &agentType, &a.ProjectPath, &a.ProjectName,
		&status, &desc, &personality, &task, &gender, &serverURL, &sessionID,
		&a.WorkspaceID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}

	a.AgentType = AgentType(agentType)
	a.Status = AgentStatus(status)
	a.Description = stringOrEmpty(desc)
	a.Personality = stringOrEmpty(personality)
	a.CurrentTask = stringOrEmpty(task)
	a.Gender = stringOrEmpty(gender)
	a.ServerURL = stringOrEmpty(serverURL)
	a.ProviderSessionID = stringOrEmpty(sessionID)
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// GetAgent retrieves an agent by user ID.
func (s *Store) GetAgent(ctx context.Context, userID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE user_id = ?`, userID)
	return scanAgent(row)
}

// GetAgentByName retrieves an agent by its globally unique agent name.
func (s *Store) GetAgentByName(ctx context.Context, agentName string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_name = ?`, agentName)
	return scanAgent(row)
}

// AgentNameExists reports whether an agent name is taken.
func (s *Store) AgentNameExists(ctx context.Context, agentName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM agents WHERE agent_name = ?`, agentName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking agent name: %w", err)
	}
	return true, nil
}

// ListAgents returns all agents in a workspace ordered by agent name.
func (s *Store) ListAgents(ctx context.Context, workspaceID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents WHERE workspace_id = ? ORDER BY agent_name
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListAgentNames returns every registered agent name across workspaces.
// Used to intersect @mention tokens against real agents.
func (s *Store) ListAgentNames(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_name FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("querying agent names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning agent name: %w", err)
		}
		names[name] = true
	}
	return names, rows.Err()
}

// UpdateAgentConnection converges provider credentials and project fields on
// reconnect. An empty serverURL clears the column (subprocess providers).
func (s *Store) UpdateAgentConnection(ctx context.Context, agentName, providerSessionID, serverURL, projectPath, projectName string, status AgentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET provider_session_id = ?, server_url = ?, project_path = ?, project_name = ?, status = ?
		WHERE agent_name = ?
	`, nullString(providerSessionID), nullString(serverURL), projectPath, projectName,
		string(status), agentName)
	if err != nil {
		return fmt.Errorf("updating agent connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAgentStatus flips the persisted online/offline flag.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentName string, status AgentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ? WHERE agent_name = ?
	`, string(status), agentName)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AgentProfileUpdate holds optional profile fields; nil means unchanged.
type AgentProfileUpdate struct {
	Description *string
	Personality *string
	CurrentTask *string
	Gender      *string
}

// UpdateAgentProfile applies the non-nil fields of the update.
func (s *Store) UpdateAgentProfile(ctx context.Context, agentName string, upd AgentProfileUpdate) error {
	sets := []string{}
	args := []any{}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullString(*upd.Description))
	}
	if upd.Personality != nil {
		sets = append(sets, "personality = ?")
		args = append(args, nullString(*upd.Personality))
	}
	if upd.CurrentTask != nil {
		sets = append(sets, "current_task = ?")
		args = append(args, nullString(*upd.CurrentTask))
	}
	if upd.Gender != nil {
		sets = append(sets, "gender = ?")
		args = append(args, nullString(*upd.Gender))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, agentName)
	query := "UPDATE agents SET " + strings.Join(sets, ", ") + " WHERE agent_name = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating agent profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
