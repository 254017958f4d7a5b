// ABOUTME: Workspace, membership, API key, and invite accessors
// ABOUTME: API keys store only a sha256 hash; invites enforce expiry and use limits

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateWorkspace inserts a workspace.
func (s *Store) CreateWorkspace(ctx context.Context, w *Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)
	`, w.ID, w.Name, fmtTime(w.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting workspace: %w", err)
	}
	s.logger.Info("created workspace", "id", w.ID, "name", w.Name)
	return nil
}

// GetWorkspace retrieves a workspace by ID.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	var w Workspace
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM workspaces WHERE id = ?
	`, id).Scan(&w.ID, &w.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying workspace: %w", err)
	}
	w.CreatedAt = parseTime(createdAt)
	return &w, nil
}

// GetDefaultWorkspace returns the oldest workspace, or ErrNotFound when the
// database has never been initialized.
func (s *Store) GetDefaultWorkspace(ctx context.Context) (*Workspace, error) {
	var w Workspace
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM workspaces ORDER BY created_at LIMIT 1
	`).Scan(&w.ID, &w.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying default workspace: %w", err)
	}
	w.CreatedAt = parseTime(createdAt)
	return &w, nil
}

// AddWorkspaceMember adds a membership row if absent.
func (s *Store) AddWorkspaceMember(ctx context.Context, workspaceID, userID string, role WorkspaceRole, joinedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO workspace_members (workspace_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`, workspaceID, userID, string(role), fmtTime(joinedAt))
	if err != nil {
		return fmt.Errorf("adding workspace member: %w", err)
	}
	return nil
}

// MemberInfo joins a workspace membership with the user's read-model fields.
type MemberInfo struct {
	WorkspaceMember
	Name     string
	UserType UserType
}

// ListWorkspaceMembers returns all memberships with user names, oldest first.
func (s *Store) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]*MemberInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wm.workspace_id, wm.user_id, wm.role, wm.joined_at, u.name, u.type
		FROM workspace_members wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id = ?
		ORDER BY wm.joined_at, u.name
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying workspace members: %w", err)
	}
	defer rows.Close()

	var members []*MemberInfo
	for rows.Next() {
		var m MemberInfo
		var role, joinedAt, userType string
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &role, &joinedAt, &m.Name, &userType); err != nil {
			return nil, fmt.Errorf("scanning workspace member: %w", err)
		}
		m.Role = WorkspaceRole(role)
		m.JoinedAt = parseTime(joinedAt)
		m.UserType = UserType(userType)
		members = append(members, &m)
	}
	return members, rows.Err()
}

// GetWorkspaceRole returns the user's role, or ErrNotFound for non-members.
func (s *Store) GetWorkspaceRole(ctx context.Context, workspaceID, userID string) (WorkspaceRole, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM workspace_members WHERE workspace_id = ? AND user_id = ?
	`, workspaceID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying workspace role: %w", err)
	}
	return WorkspaceRole(role), nil
}

// CreateAPIKey inserts an API key row. The caller hashes the token.
func (s *Store) CreateAPIKey(ctx context.Context, k *APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_api_keys (id, workspace_id, name, token_hash, token_prefix,
			created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.WorkspaceID, k.Name, k.TokenHash, k.TokenPrefix, k.CreatedBy, fmtTime(k.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, workspace_id, name, token_hash, token_prefix, created_by,
	created_at, last_used_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*APIKey, error) {
	var k APIKey
	var createdAt string
	var lastUsedAt sql.NullString

	err := row.Scan(&k.ID, &k.WorkspaceID, &k.Name, &k.TokenHash, &k.TokenPrefix,
		&k.CreatedBy, &createdAt, &lastUsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}

	k.CreatedAt = parseTime(createdAt)
	k.LastUsedAt = parseTimePtr(lastUsedAt)
	return &k, nil
}

// GetAPIKeyByHash looks up a key by its token hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, tokenHash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM workspace_api_keys WHERE token_hash = ?
	`, tokenHash)
	return scanAPIKey(row)
}

// ListAPIKeys returns a workspace's keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, workspaceID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM workspace_api_keys
		WHERE workspace_id = ? ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying api keys: %w", err)
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchAPIKey records a successful use of the key.
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workspace_api_keys SET last_used_at = ? WHERE id = ?
	`, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

// DeleteAPIKey removes a key.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspace_api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInvite inserts an invite token.
func (s *Store) CreateInvite(ctx context.Context, inv *Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_invites (id, workspace_id, token, role, max_uses, use_count,
			expires_at, revoked_at, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, NULL, ?, ?)
	`, inv.ID, inv.WorkspaceID, inv.Token, string(inv.Role), inv.MaxUses,
		fmtTimePtr(inv.ExpiresAt), inv.CreatedBy, fmtTime(inv.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting invite: %w", err)
	}
	return nil
}

const inviteColumns = `id, workspace_id, token, role, max_uses, use_count, expires_at,
	revoked_at, created_by, created_at`

func scanInvite(row interface{ Scan(...any) error }) (*Invite, error) {
	var inv Invite
	var role, createdAt string
	var expiresAt, revokedAt sql.NullString

	err := row.Scan(&inv.ID, &inv.WorkspaceID, &inv.Token, &role, &inv.MaxUses,
		&inv.UseCount, &expiresAt, &revokedAt, &inv.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning invite: %w", err)
	}

	inv.Role = WorkspaceRole(role)
	inv.ExpiresAt = parseTimePtr(expiresAt)
	inv.RevokedAt = parseTimePtr(revokedAt)
	inv.CreatedAt = parseTime(createdAt)
	return &inv, nil
}

// GetInviteByToken looks up an invite by its token.
func (s *Store) GetInviteByToken(ctx context.Context, token string) (*Invite, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+inviteColumns+` FROM workspace_invites WHERE token = ?
	`, token)
	return scanInvite(row)
}

// ListInvites returns a workspace's invites, newest first.
func (s *Store) ListInvites(ctx context.Context, workspaceID string) ([]*Invite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+inviteColumns+` FROM workspace_invites
		WHERE workspace_id = ? ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("querying invites: %w", err)
	}
	defer rows.Close()

	var invites []*Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, err
		}
		invites = append(invites, inv)
	}
	return invites, rows.Err()
}

// RedeemInvite validates and consumes one use of an invite, returning it.
// Returns ErrInviteExpired, ErrInviteRevoked, or ErrInviteUsedUp when the
// token is no longer valid.
func (s *Store) RedeemInvite(ctx context.Context, token string, now time.Time) (*Invite, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning redeem tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+inviteColumns+` FROM workspace_invites WHERE token = ?
	`, token)
	inv, err := scanInvite(row)
	if err != nil {
		return nil, err
	}

	if inv.RevokedAt != nil {
		return nil, ErrInviteRevoked
	}
	if inv.ExpiresAt != nil && now.After(*inv.ExpiresAt) {
		return nil, ErrInviteExpired
	}
	if inv.MaxUses > 0 && inv.UseCount >= inv.MaxUses {
		return nil, ErrInviteUsedUp
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE workspace_invites SET use_count = use_count + 1 WHERE id = ?
	`, inv.ID); err != nil {
		return nil, fmt.Errorf("consuming invite use: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	inv.UseCount++
	return inv, nil
}

// RevokeInvite marks an invite revoked.
func (s *Store) RevokeInvite(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_invites SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("revoking invite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
