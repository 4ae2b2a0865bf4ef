package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

const rolloutColumns = `id, project_id, bundle_id, target_selector, strategy, batch_size, batch_percentage,
	max_unavailable, progress_deadline_sec, health_gates, custom_health_checks, auto_rollback,
	scheduled_at, state, approval_state, started_at, completed_at, error, created_by_id, created_at`

func scanRollout(row pgx.Row) (store.Rollout, error) {
	var r store.Rollout
	var selectorJSON, gatesJSON, errJSON []byte
	err := row.Scan(
		&r.ID, &r.ProjectID, &r.BundleID, &selectorJSON, &r.Strategy, &r.BatchSize, &r.BatchPercentage,
		&r.MaxUnavailable, &r.ProgressDeadlineSec, &gatesJSON, &r.CustomHealthChecks, &r.AutoRollback,
		&r.ScheduledAt, &r.State, &r.ApprovalState, &r.StartedAt, &r.CompletedAt, &errJSON,
		&r.CreatedByID, &r.CreatedAt,
	)
	if err != nil {
		return store.Rollout{}, err
	}
	if len(selectorJSON) > 0 {
		if err := json.Unmarshal(selectorJSON, &r.TargetSelector); err != nil {
			return store.Rollout{}, fmt.Errorf("decoding target selector: %w", err)
		}
	}
	if len(gatesJSON) > 0 {
		if err := json.Unmarshal(gatesJSON, &r.HealthGates); err != nil {
			return store.Rollout{}, fmt.Errorf("decoding health gates: %w", err)
		}
	}
	if len(errJSON) > 0 {
		var re store.RolloutError
		if err := json.Unmarshal(errJSON, &re); err != nil {
			return store.Rollout{}, fmt.Errorf("decoding rollout error: %w", err)
		}
		r.Error = &re
	}
	return r, nil
}

func (s *Store) CreateRollout(ctx context.Context, r store.Rollout) (store.Rollout, error) {
	selectorJSON, err := json.Marshal(r.TargetSelector)
	if err != nil {
		return store.Rollout{}, fmt.Errorf("encoding target selector: %w", err)
	}
	gatesJSON, err := json.Marshal(r.HealthGates)
	if err != nil {
		return store.Rollout{}, fmt.Errorf("encoding health gates: %w", err)
	}
	if r.State == "" {
		r.State = store.RolloutPending
	}
	if r.ApprovalState == "" {
		r.ApprovalState = store.ApprovalNotRequired
	}
	query := `INSERT INTO rollouts (project_id, bundle_id, target_selector, strategy, batch_size,
		batch_percentage, max_unavailable, progress_deadline_sec, health_gates, custom_health_checks,
		auto_rollback, scheduled_at, state, approval_state, created_by_id)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	RETURNING ` + rolloutColumns
	row := s.pool.QueryRow(ctx, query, r.ProjectID, r.BundleID, selectorJSON, r.Strategy, r.BatchSize,
		r.BatchPercentage, r.MaxUnavailable, r.ProgressDeadlineSec, gatesJSON, r.CustomHealthChecks,
		r.AutoRollback, r.ScheduledAt, r.State, r.ApprovalState, r.CreatedByID)
	out, err := scanRollout(row)
	if err != nil {
		return store.Rollout{}, fmt.Errorf("creating rollout: %w", err)
	}
	return out, nil
}

func (s *Store) GetRollout(ctx context.Context, id uuid.UUID) (store.Rollout, error) {
	query := `SELECT ` + rolloutColumns + ` FROM rollouts WHERE id = $1`
	r, err := scanRollout(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Rollout{}, apperr.New(apperr.NotFound, "rollout not found")
		}
		return store.Rollout{}, fmt.Errorf("querying rollout: %w", err)
	}
	return r, nil
}

func (s *Store) ListRolloutsByProject(ctx context.Context, projectID uuid.UUID) ([]store.Rollout, error) {
	query := `SELECT ` + rolloutColumns + ` FROM rollouts WHERE project_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing rollouts: %w", err)
	}
	defer rows.Close()

	var out []store.Rollout
	for rows.Next() {
		r, err := scanRollout(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rollout: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListDueScheduledRollouts(ctx context.Context, now time.Time) ([]store.Rollout, error) {
	query := `SELECT ` + rolloutColumns + ` FROM rollouts
	WHERE state = 'pending' AND scheduled_at IS NOT NULL AND scheduled_at <= $1
	ORDER BY scheduled_at ASC`
	rows, err := s.pool.Query(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing due scheduled rollouts: %w", err)
	}
	defer rows.Close()

	var out []store.Rollout
	for rows.Next() {
		r, err := scanRollout(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rollout: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRunningRolloutIDs returns the ids of every rollout currently in
// the running state, across all projects.
func (s *Store) ListRunningRolloutIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM rollouts WHERE state = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("listing running rollout ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning rollout id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateRolloutState is a compare-and-swap: it only applies when the
// rollout's current state equals from, guarding against two writers
// (the ticker and an operator transition) racing the same rollout.
func (s *Store) UpdateRolloutState(ctx context.Context, id uuid.UUID, from, to store.RolloutState, f store.RolloutStateFields) (store.Rollout, error) {
	var errJSON []byte
	var err error
	if f.Error != nil {
		errJSON, err = json.Marshal(f.Error)
		if err != nil {
			return store.Rollout{}, fmt.Errorf("encoding rollout error: %w", err)
		}
	}
	query := `UPDATE rollouts SET state = $3,
		started_at = COALESCE($4, started_at),
		completed_at = COALESCE($5, completed_at),
		error = COALESCE($6, error)
	WHERE id = $1 AND state = $2
	RETURNING ` + rolloutColumns
	row := s.pool.QueryRow(ctx, query, id, from, to, f.StartedAt, f.CompletedAt, errJSON)
	out, err := scanRollout(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Rollout{}, apperr.New(apperr.InvalidState, fmt.Sprintf("rollout not in state %s", from))
		}
		return store.Rollout{}, fmt.Errorf("updating rollout state: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateRolloutApproval(ctx context.Context, id uuid.UUID, state store.ApprovalState) (store.Rollout, error) {
	query := `UPDATE rollouts SET approval_state = $2 WHERE id = $1 RETURNING ` + rolloutColumns
	out, err := scanRollout(s.pool.QueryRow(ctx, query, id, state))
	if err != nil {
		return store.Rollout{}, mapNotFound(err, "rollout")
	}
	return out, nil
}

// PlanRollout writes a planner's output atomically: the rollout's
// pending→running transition, its steps, and their initial node bundle
// statuses (spec §4.6.3 "Planning").
func (s *Store) PlanRollout(ctx context.Context, plan store.RolloutPlan) error {
	return s.tx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE rollouts SET state = 'running', started_at = now()
			WHERE id = $1 AND state = 'pending'`, plan.Rollout.ID)
		if err != nil {
			return fmt.Errorf("starting rollout: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.InvalidState, "rollout not in pending state")
		}

		for _, step := range plan.Steps {
			if err := tx.QueryRow(ctx,
				`INSERT INTO rollout_steps (id, rollout_id, step_index, node_ids, state)
				VALUES ($1,$2,$3,$4,$5) RETURNING id`,
				step.ID, plan.Rollout.ID, step.StepIndex, step.NodeIDs, step.State,
			).Scan(&step.ID); err != nil {
				return fmt.Errorf("inserting rollout step: %w", err)
			}
		}

		for _, st := range plan.Statuses {
			if _, err := tx.Exec(ctx,
				`INSERT INTO node_bundle_statuses (id, rollout_id, node_id, state)
				VALUES ($1,$2,$3,$4)`,
				st.ID, plan.Rollout.ID, st.NodeID, st.State,
			); err != nil {
				return fmt.Errorf("inserting node bundle status: %w", err)
			}
		}
		return nil
	})
}

// RollbackRollout applies an operator-initiated rollback: the rollout
// transitions to a terminal state and any node still staged for this
// rollout's bundle has its staged_bundle_id cleared.
func (s *Store) RollbackRollout(ctx context.Context, rb store.RolloutRollback, to store.RolloutState) error {
	return s.tx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE rollouts SET state = $2, completed_at = now() WHERE id = $1`, rb.RolloutID, to,
		); err != nil {
			return fmt.Errorf("terminating rollout: %w", err)
		}
		if len(rb.ResetNodeIDs) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE nodes SET staged_bundle_id = NULL WHERE id = ANY($1)`, rb.ResetNodeIDs,
		); err != nil {
			return fmt.Errorf("resetting staged nodes: %w", err)
		}
		return nil
	})
}
