package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/store"
)

const nodeBundleStatusColumns = `id, rollout_id, node_id, state, staged_at, activated_at, verified_at, last_report_at`

func scanNodeBundleStatus(row pgx.Row) (store.NodeBundleStatus, error) {
	var st store.NodeBundleStatus
	err := row.Scan(&st.ID, &st.RolloutID, &st.NodeID, &st.State,
		&st.StagedAt, &st.ActivatedAt, &st.VerifiedAt, &st.LastReportAt)
	return st, err
}

func (s *Store) ListStatusesByStep(ctx context.Context, rolloutID uuid.UUID, nodeIDs []uuid.UUID) ([]store.NodeBundleStatus, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + nodeBundleStatusColumns + ` FROM node_bundle_statuses
	WHERE rollout_id = $1 AND node_id = ANY($2)`
	return s.queryNodeBundleStatuses(ctx, query, rolloutID, nodeIDs)
}

func (s *Store) ListStatusesByRollout(ctx context.Context, rolloutID uuid.UUID) ([]store.NodeBundleStatus, error) {
	query := `SELECT ` + nodeBundleStatusColumns + ` FROM node_bundle_statuses WHERE rollout_id = $1`
	return s.queryNodeBundleStatuses(ctx, query, rolloutID)
}

func (s *Store) queryNodeBundleStatuses(ctx context.Context, query string, args ...any) ([]store.NodeBundleStatus, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing node bundle statuses: %w", err)
	}
	defer rows.Close()

	var out []store.NodeBundleStatus
	for rows.Next() {
		st, err := scanNodeBundleStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node bundle status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateNodeBundleStatus(ctx context.Context, rolloutID, nodeID uuid.UUID, state store.NodeBundleState, f store.NodeBundleStatusFields) (store.NodeBundleStatus, error) {
	query := `UPDATE node_bundle_statuses SET state = $3,
		staged_at = COALESCE($4, staged_at),
		activated_at = COALESCE($5, activated_at),
		verified_at = COALESCE($6, verified_at),
		last_report_at = COALESCE($7, last_report_at)
	WHERE rollout_id = $1 AND node_id = $2
	RETURNING ` + nodeBundleStatusColumns
	out, err := scanNodeBundleStatus(s.pool.QueryRow(ctx, query, rolloutID, nodeID, state,
		f.StagedAt, f.ActivatedAt, f.VerifiedAt, f.LastReportAt))
	if err != nil {
		return store.NodeBundleStatus{}, mapNotFound(err, "node bundle status")
	}
	return out, nil
}
