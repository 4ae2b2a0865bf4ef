package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

const driftColumns = `id, node_id, project_id, expected_bundle_id, actual_bundle_id, detected_at, resolved_at, resolution`

func scanDrift(row pgx.Row) (store.DriftEvent, error) {
	var e store.DriftEvent
	err := row.Scan(&e.ID, &e.NodeID, &e.ProjectID, &e.ExpectedBundleID, &e.ActualBundleID,
		&e.DetectedAt, &e.ResolvedAt, &e.Resolution)
	return e, err
}

func (s *Store) GetActiveDriftEvent(ctx context.Context, nodeID uuid.UUID) (store.DriftEvent, error) {
	query := `SELECT ` + driftColumns + ` FROM drift_events WHERE node_id = $1 AND resolved_at IS NULL`
	e, err := scanDrift(s.pool.QueryRow(ctx, query, nodeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.DriftEvent{}, apperr.New(apperr.NotFound, "no active drift event")
		}
		return store.DriftEvent{}, fmt.Errorf("querying active drift event: %w", err)
	}
	return e, nil
}

func (s *Store) ListActiveDriftEventsForNodes(ctx context.Context, nodeIDs []uuid.UUID, expectedBundleID uuid.UUID) ([]store.DriftEvent, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + driftColumns + ` FROM drift_events
	WHERE node_id = ANY($1) AND resolved_at IS NULL AND expected_bundle_id = $2`
	rows, err := s.pool.Query(ctx, query, nodeIDs, expectedBundleID)
	if err != nil {
		return nil, fmt.Errorf("listing active drift events: %w", err)
	}
	defer rows.Close()

	var out []store.DriftEvent
	for rows.Next() {
		e, err := scanDrift(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning drift event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) OpenDriftEvent(ctx context.Context, e store.DriftEvent) (store.DriftEvent, error) {
	query := `INSERT INTO drift_events (node_id, project_id, expected_bundle_id, actual_bundle_id, detected_at)
	VALUES ($1,$2,$3,$4, now())
	RETURNING ` + driftColumns
	out, err := scanDrift(s.pool.QueryRow(ctx, query, e.NodeID, e.ProjectID, e.ExpectedBundleID, e.ActualBundleID))
	if err != nil {
		return store.DriftEvent{}, fmt.Errorf("opening drift event: %w", err)
	}
	return out, nil
}

func (s *Store) ResolveDriftEvent(ctx context.Context, id uuid.UUID, resolution store.DriftResolution, resolvedAt time.Time) (store.DriftEvent, error) {
	query := `UPDATE drift_events SET resolved_at = $2, resolution = $3 WHERE id = $1
	RETURNING ` + driftColumns
	out, err := scanDrift(s.pool.QueryRow(ctx, query, id, resolvedAt.UTC().Truncate(time.Second), resolution))
	if err != nil {
		return store.DriftEvent{}, mapNotFound(err, "drift event")
	}
	return out, nil
}
