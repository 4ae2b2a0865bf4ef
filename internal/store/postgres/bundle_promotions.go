package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateBundlePromotion(ctx context.Context, p store.BundlePromotion) (store.BundlePromotion, error) {
	query := `INSERT INTO bundle_promotions (bundle_id, environment_id)
	VALUES ($1, $2)
	RETURNING id, bundle_id, environment_id, promoted_at`
	row := s.pool.QueryRow(ctx, query, p.BundleID, p.EnvironmentID)
	if err := row.Scan(&p.ID, &p.BundleID, &p.EnvironmentID, &p.PromotedAt); err != nil {
		return store.BundlePromotion{}, fmt.Errorf("creating bundle promotion: %w", err)
	}
	return p, nil
}

func (s *Store) IsPromoted(ctx context.Context, bundleID, environmentID uuid.UUID) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM bundle_promotions WHERE bundle_id = $1 AND environment_id = $2)`
	if err := s.pool.QueryRow(ctx, query, bundleID, environmentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking bundle promotion: %w", err)
	}
	return exists, nil
}

func (s *Store) ListPromotionsForBundle(ctx context.Context, bundleID uuid.UUID) ([]store.BundlePromotion, error) {
	query := `SELECT id, bundle_id, environment_id, promoted_at FROM bundle_promotions WHERE bundle_id = $1`
	rows, err := s.pool.Query(ctx, query, bundleID)
	if err != nil {
		return nil, fmt.Errorf("listing bundle promotions: %w", err)
	}
	defer rows.Close()

	var out []store.BundlePromotion
	for rows.Next() {
		var p store.BundlePromotion
		if err := rows.Scan(&p.ID, &p.BundleID, &p.EnvironmentID, &p.PromotedAt); err != nil {
			return nil, fmt.Errorf("scanning bundle promotion: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
