package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

const groupColumns = `id, project_id, name, node_ids, created_at`

func scanGroup(row pgx.Row) (store.Group, error) {
	var g store.Group
	err := row.Scan(&g.ID, &g.ProjectID, &g.Name, &g.NodeIDs, &g.CreatedAt)
	return g, err
}

func (s *Store) CreateGroup(ctx context.Context, g store.Group) (store.Group, error) {
	query := `INSERT INTO groups (project_id, name, node_ids)
	VALUES ($1,$2,$3)
	RETURNING ` + groupColumns
	out, err := scanGroup(s.pool.QueryRow(ctx, query, g.ProjectID, g.Name, g.NodeIDs))
	if err != nil {
		return store.Group{}, fmt.Errorf("creating group: %w", err)
	}
	return out, nil
}

func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (store.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`
	g, err := scanGroup(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Group{}, apperr.New(apperr.NotFound, "group not found")
		}
		return store.Group{}, fmt.Errorf("querying group: %w", err)
	}
	return g, nil
}

func (s *Store) ListGroupsByProject(ctx context.Context, projectID uuid.UUID) ([]store.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE project_id = $1 ORDER BY name ASC`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var out []store.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ResolveGroupMembers flattens and dedups node ids across the given
// groups via a set-returning query rather than fetching full rows.
func (s *Store) ResolveGroupMembers(ctx context.Context, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT node_id FROM groups, unnest(node_ids) AS node_id WHERE id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving group members: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning group member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
