package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateEnvironment(ctx context.Context, e store.Environment) (store.Environment, error) {
	query := `INSERT INTO environments (project_id, name, ordinal)
	VALUES ($1, $2, $3)
	RETURNING id, project_id, name, ordinal, created_at`
	row := s.pool.QueryRow(ctx, query, e.ProjectID, e.Name, e.Ordinal)
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Ordinal, &e.CreatedAt); err != nil {
		return store.Environment{}, fmt.Errorf("creating environment: %w", err)
	}
	return e, nil
}

func (s *Store) GetEnvironment(ctx context.Context, id uuid.UUID) (store.Environment, error) {
	var e store.Environment
	query := `SELECT id, project_id, name, ordinal, created_at FROM environments WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id).Scan(&e.ID, &e.ProjectID, &e.Name, &e.Ordinal, &e.CreatedAt)
	if err != nil {
		return store.Environment{}, mapNotFound(err, "environment")
	}
	return e, nil
}

func (s *Store) ListEnvironmentsByProject(ctx context.Context, projectID uuid.UUID) ([]store.Environment, error) {
	query := `SELECT id, project_id, name, ordinal, created_at FROM environments WHERE project_id = $1 ORDER BY ordinal ASC`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}
	defer rows.Close()

	var out []store.Environment
	for rows.Next() {
		var e store.Environment
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Name, &e.Ordinal, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning environment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
