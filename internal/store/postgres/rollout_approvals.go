package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateRolloutApproval(ctx context.Context, a store.RolloutApproval) (store.RolloutApproval, error) {
	query := `INSERT INTO rollout_approvals (rollout_id, user_id, comment, approved)
	VALUES ($1,$2,$3,$4)
	RETURNING id, rollout_id, user_id, comment, approved, created_at`
	row := s.pool.QueryRow(ctx, query, a.RolloutID, a.UserID, a.Comment, a.Approved)
	if err := row.Scan(&a.ID, &a.RolloutID, &a.UserID, &a.Comment, &a.Approved, &a.CreatedAt); err != nil {
		return store.RolloutApproval{}, fmt.Errorf("creating rollout approval: %w", err)
	}
	return a, nil
}

func (s *Store) ListRolloutApprovals(ctx context.Context, rolloutID uuid.UUID) ([]store.RolloutApproval, error) {
	query := `SELECT id, rollout_id, user_id, comment, approved, created_at
	FROM rollout_approvals WHERE rollout_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, rolloutID)
	if err != nil {
		return nil, fmt.Errorf("listing rollout approvals: %w", err)
	}
	defer rows.Close()

	var out []store.RolloutApproval
	for rows.Next() {
		var a store.RolloutApproval
		if err := rows.Scan(&a.ID, &a.RolloutID, &a.UserID, &a.Comment, &a.Approved, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning rollout approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
