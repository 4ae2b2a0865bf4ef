package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/store"
)

const rolloutStepColumns = `id, rollout_id, step_index, node_ids, state, started_at, completed_at, error`

func scanRolloutStep(row pgx.Row) (store.RolloutStep, error) {
	var st store.RolloutStep
	var errJSON []byte
	err := row.Scan(&st.ID, &st.RolloutID, &st.StepIndex, &st.NodeIDs, &st.State,
		&st.StartedAt, &st.CompletedAt, &errJSON)
	if err != nil {
		return store.RolloutStep{}, err
	}
	if len(errJSON) > 0 {
		var re store.RolloutError
		if err := json.Unmarshal(errJSON, &re); err != nil {
			return store.RolloutStep{}, fmt.Errorf("decoding step error: %w", err)
		}
		st.Error = &re
	}
	return st, nil
}

func (s *Store) ListStepsByRollout(ctx context.Context, rolloutID uuid.UUID) ([]store.RolloutStep, error) {
	query := `SELECT ` + rolloutStepColumns + ` FROM rollout_steps WHERE rollout_id = $1 ORDER BY step_index ASC`
	rows, err := s.pool.Query(ctx, query, rolloutID)
	if err != nil {
		return nil, fmt.Errorf("listing rollout steps: %w", err)
	}
	defer rows.Close()

	var out []store.RolloutStep
	for rows.Next() {
		st, err := scanRolloutStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rollout step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) UpdateStepState(ctx context.Context, id uuid.UUID, state store.RolloutStepState, f store.StepStateFields) (store.RolloutStep, error) {
	var errJSON []byte
	var err error
	if f.Error != nil {
		errJSON, err = json.Marshal(f.Error)
		if err != nil {
			return store.RolloutStep{}, fmt.Errorf("encoding step error: %w", err)
		}
	}
	query := `UPDATE rollout_steps SET state = $2,
		started_at = COALESCE($3, started_at),
		completed_at = COALESCE($4, completed_at),
		error = COALESCE($5, error)
	WHERE id = $1
	RETURNING ` + rolloutStepColumns
	out, err := scanRolloutStep(s.pool.QueryRow(ctx, query, id, state, f.StartedAt, f.CompletedAt, errJSON))
	if err != nil {
		return store.RolloutStep{}, mapNotFound(err, "rollout step")
	}
	return out, nil
}
