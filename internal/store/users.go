// ABOUTME: User accessors for the store
// ABOUTME: Users are shared across workspaces and never destroyed while referenced

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateUser inserts a user row. Returns ErrDuplicate if the name is taken.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, type, display_name, about, agent_instructions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Name, string(u.Type), nullString(u.DisplayName), nullString(u.About),
		nullString(u.AgentInstructions), fmtTime(u.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	s.logger.Debug("created user", "id", u.ID, "name", u.Name, "type", u.Type)
	return nil
}

const userColumns = `id, name, type, display_name, about, agent_instructions, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var typ, createdAt string
	var displayName, about, instructions sql.NullString

	err := row.Scan(&u.ID, &u.Name, &typ, &displayName, &about, &instructions, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.Type = UserType(typ)
	u.DisplayName = stringOrEmpty(displayName)
	u.About = stringOrEmpty(about)
	u.AgentInstructions = stringOrEmpty(instructions)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if absent.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByName retrieves a user by its unique name.
func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE name = ?`, name)
	return scanUser(row)
}

// UpdateUserProfile updates the mutable profile fields of a user.
func (s *Store) UpdateUserProfile(ctx context.Context, id, displayName, about string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = ?, about = ? WHERE id = ?
	`, nullString(displayName), nullString(about), id)
	if err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
