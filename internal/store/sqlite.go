// ABOUTME: SQLite-backed store using modernc.org/sqlite with automatic schema creation
// ABOUTME: WAL journal, foreign keys, presence-checked additive migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width UTC layout so created_at strings sort
// lexicographically; RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the SQLite-backed store. Writes are serialized by the driver;
// reads proceed in parallel under WAL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a store at the given path. Parent directories are created,
// the schema is created if missing, and additive migrations are applied.
func Open(path string) (*Store, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer; modernc's driver serializes through one connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("store initialized", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT UNIQUE NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('human', 'agent')),
			display_name TEXT,
			about TEXT,
			agent_instructions TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agents (
			user_id TEXT PRIMARY KEY REFERENCES users(id),
			agent_name TEXT UNIQUE NOT NULL,
			agent_type TEXT NOT NULL CHECK (agent_type IN ('opencode', 'claude_code', 'codex', 'system')),
			project_path TEXT NOT NULL DEFAULT '',
			project_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'offline' CHECK (status IN ('online', 'offline')),
			description TEXT,
			personality TEXT,
			current_task TEXT,
			gender TEXT,
			server_url TEXT,
			provider_session_id TEXT,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_agent_name ON agents(agent_name);
		CREATE INDEX IF NOT EXISTS idx_agents_project_name ON agents(project_name);

		CREATE TABLE IF NOT EXISTS agent_sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL REFERENCES agents(user_id),
			pid INTEGER NOT NULL DEFAULT 0,
			tty TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			last_heartbeat TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent ON agent_sessions(agent_id, is_active);

		CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('general', 'project', 'custom', 'dm')),
			topic TEXT,
			project_path TEXT,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			is_archived INTEGER NOT NULL DEFAULT 0,
			archived_at TEXT,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),

			UNIQUE (workspace_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_channels_name ON channels(name);

		CREATE TABLE IF NOT EXISTS channel_members (
			channel_id TEXT NOT NULL REFERENCES channels(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			joined_at TEXT NOT NULL,

			PRIMARY KEY (channel_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES channels(id),
			sender_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			mentions TEXT,
			parent_id TEXT REFERENCES messages(id),
			is_pinned INTEGER NOT NULL DEFAULT 0,
			pinned_at TEXT,
			pinned_by TEXT,
			edited_at TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_created ON messages(channel_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);

		CREATE TABLE IF NOT EXISTS message_reactions (
			message_id TEXT NOT NULL REFERENCES messages(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			emoji TEXT NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (message_id, user_id, emoji)
		);

		CREATE TABLE IF NOT EXISTS read_receipts (
			user_id TEXT NOT NULL REFERENCES users(id),
			channel_id TEXT NOT NULL REFERENCES channels(id),
			last_read_at TEXT NOT NULL,

			PRIMARY KEY (user_id, channel_id)
		);

		CREATE TABLE IF NOT EXISTS feature_requests (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open'
				CHECK (status IN ('open', 'planned', 'in_progress', 'done', 'declined')),
			status_reason TEXT,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS feature_votes (
			feature_id TEXT NOT NULL REFERENCES feature_requests(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			vote INTEGER NOT NULL CHECK (vote IN (1, -1)),
			created_at TEXT NOT NULL,

			PRIMARY KEY (feature_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS workspace_members (
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			user_id TEXT NOT NULL REFERENCES users(id),
			role TEXT NOT NULL CHECK (role IN ('admin', 'member')),
			joined_at TEXT NOT NULL,

			PRIMARY KEY (workspace_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS workspace_api_keys (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			name TEXT NOT NULL,
			token_hash TEXT UNIQUE NOT NULL,
			token_prefix TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_token_hash ON workspace_api_keys(token_hash);

		CREATE TABLE IF NOT EXISTS workspace_invites (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id),
			token TEXT UNIQUE NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('admin', 'member')),
			max_uses INTEGER NOT NULL DEFAULT 0,
			use_count INTEGER NOT NULL DEFAULT 0,
			expires_at TEXT,
			revoked_at TEXT,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invites_token ON workspace_invites(token);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive migrations for databases created by older
// builds. SQLite has no ADD COLUMN IF NOT EXISTS, so each is guarded by a
// pragma_table_info presence check. Destructive migrations are disallowed.
func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{"agents", "gender", `ALTER TABLE agents ADD COLUMN gender TEXT`},
		{"agents", "current_task", `ALTER TABLE agents ADD COLUMN current_task TEXT`},
		{"channels", "archived_at", `ALTER TABLE channels ADD COLUMN archived_at TEXT`},
		{"messages", "parent_id", `ALTER TABLE messages ADD COLUMN parent_id TEXT REFERENCES messages(id)`},
		{"messages", "pinned_by", `ALTER TABLE messages ADD COLUMN pinned_by TEXT`},
		{"feature_requests", "status_reason", `ALTER TABLE feature_requests ADD COLUMN status_reason TEXT`},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue // column already present
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "table", m.table, "column", m.column)
	}

	return nil
}

// isConstraintViolation checks for a SQLite UNIQUE/constraint failure.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// nullString maps "" to NULL on write.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringOrEmpty(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}
