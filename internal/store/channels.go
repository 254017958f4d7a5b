// ABOUTME: Channel and channel-membership accessors
// ABOUTME: Names are unique per workspace; DM and project channels follow naming rules

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const channelColumns = `id, name, type, topic, project_path, created_by, created_at,
	is_archived, archived_at, workspace_id`

// CreateChannel inserts a channel. Returns ErrDuplicate when the name is
// taken within the workspace.
func (s *Store) CreateChannel(ctx context.Context, c *Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, type, topic, project_path, created_by, created_at,
			is_archived, workspace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, c.ID, c.Name, string(c.Type), nullString(c.Topic), nullString(c.ProjectPath),
		c.CreatedBy, fmtTime(c.CreatedAt), c.WorkspaceID)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting channel: %w", err)
	}
	s.logger.Debug("created channel", "name", c.Name, "type", c.Type)
	return nil
}

func scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	var c Channel
	var typ, createdAt string
	var topic, projectPath, archivedAt sql.NullString
	var isArchived int

	err := row.Scan(&c.ID, &c.Name, &typ, &topic, &projectPath, &c.CreatedBy,
		&createdAt, &isArchived, &archivedAt, &c.WorkspaceID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning channel: %w", err)
	}

	c.Type = ChannelType(typ)
	c.Topic = stringOrEmpty(topic)
	c.ProjectPath = stringOrEmpty(projectPath)
	c.CreatedAt = parseTime(createdAt)
	c.IsArchived = isArchived == 1
	c.ArchivedAt = parseTimePtr(archivedAt)
	return &c, nil
}

// GetChannel retrieves a channel by ID.
func (s *Store) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

// GetChannelByName retrieves a channel by name within a workspace.
func (s *Store) GetChannelByName(ctx context.Context, workspaceID, name string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+channelColumns+` FROM channels WHERE workspace_id = ? AND name = ?
	`, workspaceID, name)
	return scanChannel(row)
}

// ListChannels returns non-archived channels in a workspace ordered by name.
func (s *Store) ListChannels(ctx context.Context, workspaceID string) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE workspace_id = ? AND is_archived = 0
		ORDER BY name
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// SetChannelTopic updates a channel topic. Empty trims to NULL.
func (s *Store) SetChannelTopic(ctx context.Context, channelID, topic string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE channels SET topic = ? WHERE id = ?
	`, nullString(topic), channelID)
	if err != nil {
		return fmt.Errorf("setting topic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddChannelMember adds a membership row if absent. Returns true when the
// row was added, false when the user was already a member.
func (s *Store) AddChannelMember(ctx context.Context, channelID, userID string, joinedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO channel_members (channel_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, channelID, userID, fmtTime(joinedAt))
	if err != nil {
		return false, fmt.Errorf("adding channel member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsChannelMember reports membership of a user in a channel.
func (s *Store) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?
	`, channelID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking channel membership: %w", err)
	}
	return true, nil
}

// ListMemberChannelIDs returns the IDs of channels the user belongs to.
func (s *Store) ListMemberChannelIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id FROM channel_members WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying member channels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListChannelMemberIDs returns the user IDs of a channel's members.
func (s *Store) ListChannelMemberIDs(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM channel_members WHERE channel_id = ?
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("querying channel members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
