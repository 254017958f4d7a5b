// ABOUTME: Message accessors: history, replies, edits, pins, search, priority fetch
// ABOUTME: Mentions are stored as a JSON array; created_at sorts lexicographically

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const messageColumns = `m.id, m.channel_id, m.sender_id, m.content, m.mentions, m.parent_id,
	m.is_pinned, m.pinned_at, m.pinned_by, m.edited_at, m.created_at`

const messageSenderColumns = messageColumns + `, u.name, u.type`

// maxSearchResults caps any message search.
const maxSearchResults = 50

// CreateMessage inserts a message. When ParentID is set the parent must
// exist and live in the same channel, otherwise ErrWrongChannel.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.ParentID != "" {
		parent, err := s.GetMessage(ctx, m.ParentID)
		if err != nil {
			return fmt.Errorf("looking up parent message: %w", err)
		}
		if parent.ChannelID != m.ChannelID {
			return ErrWrongChannel
		}
	}

	mentions, err := encodeMentions(m.Mentions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, sender_id, content, mentions, parent_id,
			is_pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, m.ID, m.ChannelID, m.SenderID, m.Content, mentions, nullString(m.ParentID),
		fmtTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func encodeMentions(mentions []string) (any, error) {
	if len(mentions) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(mentions)
	if err != nil {
		return nil, fmt.Errorf("encoding mentions: %w", err)
	}
	return string(b), nil
}

func decodeMentions(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var mentions []string
	if err := json.Unmarshal([]byte(raw.String), &mentions); err != nil {
		return nil
	}
	return mentions
}

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var mentions, parentID, pinnedAt, pinnedBy, editedAt sql.NullString
	var isPinned int
	var createdAt string

	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &mentions, &parentID,
		&isPinned, &pinnedAt, &pinnedBy, &editedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.Mentions = decodeMentions(mentions)
	m.ParentID = stringOrEmpty(parentID)
	m.IsPinned = isPinned == 1
	m.PinnedAt = parseTimePtr(pinnedAt)
	m.PinnedBy = stringOrEmpty(pinnedBy)
	m.EditedAt = parseTimePtr(editedAt)
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func scanMessageWithSender(row interface{ Scan(...any) error }) (*MessageWithSender, error) {
	var m MessageWithSender
	var mentions, parentID, pinnedAt, pinnedBy, editedAt sql.NullString
	var isPinned int
	var createdAt, senderType string

	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &mentions, &parentID,
		&isPinned, &pinnedAt, &pinnedBy, &editedAt, &createdAt, &m.SenderName, &senderType)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.Mentions = decodeMentions(mentions)
	m.ParentID = stringOrEmpty(parentID)
	m.IsPinned = isPinned == 1
	m.PinnedAt = parseTimePtr(pinnedAt)
	m.PinnedBy = stringOrEmpty(pinnedBy)
	m.EditedAt = parseTimePtr(editedAt)
	m.CreatedAt = parseTime(createdAt)
	m.SenderType = UserType(senderType)
	return &m, nil
}

// GetMessage retrieves a message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages m WHERE m.id = ?
	`, id)
	return scanMessage(row)
}

// GetMessageWithSender retrieves a message joined with its sender.
func (s *Store) GetMessageWithSender(ctx context.Context, id string) (*MessageWithSender, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageSenderColumns+`
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`, id)
	return scanMessageWithSender(row)
}

// ListMessages returns up to limit messages in a channel in chronological
// order. A non-zero before bound pages backwards through history.
func (s *Store) ListMessages(ctx context.Context, channelID string, limit int, before time.Time) ([]*MessageWithSender, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + messageSenderColumns + `
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.channel_id = ?`
	args := []any{channelID}
	if !before.IsZero() {
		query += ` AND m.created_at < ?`
		args = append(args, fmtTime(before))
	}
	query += ` ORDER BY m.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; callers want oldest-first.
	reverseMessages(messages)
	return messages, nil
}

// ListRecentMessages returns the last n messages of a channel, oldest first.
// Used to build invocation context.
func (s *Store) ListRecentMessages(ctx context.Context, channelID string, n int) ([]*MessageWithSender, error) {
	return s.ListMessages(ctx, channelID, n, time.Time{})
}

// ListPinnedMessages returns the pinned messages of a channel, oldest first.
func (s *Store) ListPinnedMessages(ctx context.Context, channelID string) ([]*MessageWithSender, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageSenderColumns+`
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.channel_id = ? AND m.is_pinned = 1
		ORDER BY m.created_at
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("querying pinned messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*MessageWithSender, error) {
	var messages []*MessageWithSender
	for rows.Next() {
		m, err := scanMessageWithSender(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func reverseMessages(messages []*MessageWithSender) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

// EditMessage replaces the content of a message owned by senderID.
// Returns ErrNotSender when someone else tries.
func (s *Store) EditMessage(ctx context.Context, messageID, senderID, content string, editedAt time.Time) error {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != senderID {
		return ErrNotSender
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, edited_at = ? WHERE id = ?
	`, content, fmtTime(editedAt), messageID)
	if err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

// SetPinned pins or unpins a message. Any member may pin.
func (s *Store) SetPinned(ctx context.Context, messageID string, pinned bool, by string, at time.Time) error {
	var res sql.Result
	var err error
	if pinned {
		res, err = s.db.ExecContext(ctx, `
			UPDATE messages SET is_pinned = 1, pinned_at = ?, pinned_by = ? WHERE id = ?
		`, fmtTime(at), by, messageID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE messages SET is_pinned = 0, pinned_at = NULL, pinned_by = NULL WHERE id = ?
		`, messageID)
	}
	if err != nil {
		return fmt.Errorf("updating pin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessage removes a message owned by senderID along with its
// reactions. Replies keep their parent_id pointing at the gone row.
func (s *Store) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != senderID {
		return ErrNotSender
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("deleting reactions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET parent_id = NULL WHERE parent_id = ?`, messageID); err != nil {
		return fmt.Errorf("detaching replies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}

	return tx.Commit()
}

// SearchMessages runs a substring search over message content with optional
// channel, sender, and time filters. Results are newest first, capped at 50.
func (s *Store) SearchMessages(ctx context.Context, f SearchFilter) ([]*MessageWithSender, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}

	query := `
		SELECT ` + messageSenderColumns + `
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(f.Query) + "%"}

	if f.ChannelID != "" {
		query += ` AND m.channel_id = ?`
		args = append(args, f.ChannelID)
	}
	if f.SenderID != "" {
		query += ` AND m.sender_id = ?`
		args = append(args, f.SenderID)
	}
	if f.After != nil {
		query += ` AND m.created_at > ?`
		args = append(args, fmtTime(*f.After))
	}
	if f.Before != nil {
		query += ` AND m.created_at < ?`
		args = append(args, fmtTime(*f.Before))
	}
	query += ` ORDER BY m.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// maxPerPriorityBucket caps each priority-fetch bucket.
const maxPerPriorityBucket = 10

// FetchPriorityMessages returns unread messages for an agent split into
// three buckets: mentions of the agent, traffic in its project channel, and
// everything else. Only channels the agent is a member of are considered,
// and each bucket holds at most 10 messages, oldest first. A row appears in
// exactly one bucket; mention wins over project wins over other.
func (s *Store) FetchPriorityMessages(ctx context.Context, agentUserID, agentName, projectChannel string) (map[PriorityBucket][]*PriorityMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageSenderColumns+`, c.name
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		JOIN channels c ON c.id = m.channel_id
		JOIN channel_members cm ON cm.channel_id = m.channel_id AND cm.user_id = ?
		LEFT JOIN read_receipts r ON r.channel_id = m.channel_id AND r.user_id = ?
		WHERE m.sender_id != ?
		  AND (r.last_read_at IS NULL OR m.created_at > r.last_read_at)
		ORDER BY m.created_at
	`, agentUserID, agentUserID, agentUserID)
	if err != nil {
		return nil, fmt.Errorf("querying priority messages: %w", err)
	}
	defer rows.Close()

	out := map[PriorityBucket][]*PriorityMessage{
		BucketMention: nil,
		BucketProject: nil,
		BucketOther:   nil,
	}

	for rows.Next() {
		var m MessageWithSender
		var mentions, parentID, pinnedAt, pinnedBy, editedAt sql.NullString
		var isPinned int
		var createdAt, senderType, channelName string

		err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &mentions, &parentID,
			&isPinned, &pinnedAt, &pinnedBy, &editedAt, &createdAt, &m.SenderName, &senderType,
			&channelName)
		if err != nil {
			return nil, fmt.Errorf("scanning priority message: %w", err)
		}

		m.Mentions = decodeMentions(mentions)
		m.ParentID = stringOrEmpty(parentID)
		m.IsPinned = isPinned == 1
		m.PinnedAt = parseTimePtr(pinnedAt)
		m.PinnedBy = stringOrEmpty(pinnedBy)
		m.EditedAt = parseTimePtr(editedAt)
		m.CreatedAt = parseTime(createdAt)
		m.SenderType = UserType(senderType)

		bucket := BucketOther
		if mentionsName(m.Mentions, agentName) {
			bucket = BucketMention
		} else if projectChannel != "" && channelName == projectChannel {
			bucket = BucketProject
		}

		if len(out[bucket]) >= maxPerPriorityBucket {
			continue
		}
		out[bucket] = append(out[bucket], &PriorityMessage{
			MessageWithSender: m,
			ChannelName:       channelName,
			Bucket:            bucket,
		})
	}
	return out, rows.Err()
}

func mentionsName(mentions []string, name string) bool {
	for _, m := range mentions {
		if m == name || m == "all" {
			return true
		}
	}
	return false
}
