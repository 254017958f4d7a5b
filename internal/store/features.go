// ABOUTME: Feature request board with signed votes
// ABOUTME: One vote per (feature, user); re-voting overwrites

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateFeatureRequest inserts a feature request with status open.
func (s *Store) CreateFeatureRequest(ctx context.Context, f *FeatureRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_requests (id, title, description, status, status_reason,
			created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.Title, f.Description, string(f.Status), nullString(f.StatusReason),
		f.CreatedBy, fmtTime(f.CreatedAt), fmtTime(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting feature request: %w", err)
	}
	return nil
}

const featureColumns = `f.id, f.title, f.description, f.status, f.status_reason,
	f.created_by, f.created_at, f.updated_at,
	COALESCE((SELECT SUM(vote) FROM feature_votes v WHERE v.feature_id = f.id), 0)`

func scanFeature(row interface{ Scan(...any) error }) (*FeatureRequest, error) {
	var f FeatureRequest
	var status, createdAt, updatedAt string
	var reason sql.NullString

	err := row.Scan(&f.ID, &f.Title, &f.Description, &status, &reason,
		&f.CreatedBy, &createdAt, &updatedAt, &f.VoteCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning feature request: %w", err)
	}

	f.Status = FeatureStatus(status)
	f.StatusReason = stringOrEmpty(reason)
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}

// GetFeatureRequest retrieves a feature request with its vote sum.
func (s *Store) GetFeatureRequest(ctx context.Context, id string) (*FeatureRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+featureColumns+` FROM feature_requests f WHERE f.id = ?
	`, id)
	return scanFeature(row)
}

// ListFeatureRequests returns all feature requests, highest vote sum first,
// ties broken by newest.
func (s *Store) ListFeatureRequests(ctx context.Context) ([]*FeatureRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+featureColumns+` FROM feature_requests f
		ORDER BY 9 DESC, f.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying feature requests: %w", err)
	}
	defer rows.Close()

	var features []*FeatureRequest
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// VoteFeature records an up (+1) or down (-1) vote, overwriting any prior
// vote by the same user.
func (s *Store) VoteFeature(ctx context.Context, featureID, userID string, vote int, at time.Time) error {
	if vote != 1 && vote != -1 {
		return fmt.Errorf("vote must be 1 or -1, got %d", vote)
	}
	if _, err := s.GetFeatureRequest(ctx, featureID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_votes (feature_id, user_id, vote, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (feature_id, user_id) DO UPDATE SET vote = excluded.vote, created_at = excluded.created_at
	`, featureID, userID, vote, fmtTime(at))
	if err != nil {
		return fmt.Errorf("recording vote: %w", err)
	}
	return nil
}

// DeleteFeatureRequest removes a feature request and its votes.
func (s *Store) DeleteFeatureRequest(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM feature_votes WHERE feature_id = ?`, id); err != nil {
		return fmt.Errorf("deleting feature votes: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM feature_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting feature request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SetFeatureStatus transitions a feature request with an optional reason.
func (s *Store) SetFeatureStatus(ctx context.Context, id string, status FeatureStatus, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feature_requests SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?
	`, string(status), nullString(reason), fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("updating feature status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
