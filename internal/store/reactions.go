// ABOUTME: Emoji reaction toggles and read receipt watermarks
// ABOUTME: Reactions are unique per (message, user, emoji); toggling twice removes

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ToggleReaction adds the reaction if absent, removes it if present.
// Returns true when the reaction now exists.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("removing reaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_reactions (message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?)
	`, messageID, userID, emoji, fmtTime(at))
	if err != nil {
		return false, fmt.Errorf("adding reaction: %w", err)
	}
	return true, nil
}

// ListReactions returns all reactions on a message in insertion order.
func (s *Store) ListReactions(ctx context.Context, messageID string) ([]*Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at
		FROM message_reactions
		WHERE message_id = ?
		ORDER BY created_at
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying reactions: %w", err)
	}
	defer rows.Close()

	var reactions []*Reaction
	for rows.Next() {
		var r Reaction
		var createdAt string
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reaction: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		reactions = append(reactions, &r)
	}
	return reactions, rows.Err()
}

// MarkRead upserts the read watermark for (user, channel).
func (s *Store) MarkRead(ctx context.Context, userID, channelID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_receipts (user_id, channel_id, last_read_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, channel_id) DO UPDATE SET last_read_at = excluded.last_read_at
	`, userID, channelID, fmtTime(at))
	if err != nil {
		return fmt.Errorf("marking read: %w", err)
	}
	return nil
}

// GetReadReceipt returns the watermark, or ErrNotFound if never read.
func (s *Store) GetReadReceipt(ctx context.Context, userID, channelID string) (*ReadReceipt, error) {
	var r ReadReceipt
	var lastReadAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, channel_id, last_read_at FROM read_receipts
		WHERE user_id = ? AND channel_id = ?
	`, userID, channelID).Scan(&r.UserID, &r.ChannelID, &lastReadAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying read receipt: %w", err)
	}
	r.LastReadAt = parseTime(lastReadAt)
	return &r, nil
}

// CountUnread returns per-channel unread counts for the user's channels,
// excluding the user's own messages.
func (s *Store) CountUnread(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cm.channel_id, COUNT(m.id)
		FROM channel_members cm
		LEFT JOIN read_receipts r ON r.channel_id = cm.channel_id AND r.user_id = cm.user_id
		LEFT JOIN messages m ON m.channel_id = cm.channel_id
			AND m.sender_id != cm.user_id
			AND (r.last_read_at IS NULL OR m.created_at > r.last_read_at)
		WHERE cm.user_id = ?
		GROUP BY cm.channel_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var channelID string
		var n int
		if err := rows.Scan(&channelID, &n); err != nil {
			return nil, fmt.Errorf("scanning unread count: %w", err)
		}
		counts[channelID] = n
	}
	return counts, rows.Err()
}
