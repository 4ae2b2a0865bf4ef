package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateOrganization(ctx context.Context, o store.Organization) (store.Organization, error) {
	query := `INSERT INTO organizations (id, name) VALUES (COALESCE(NULLIF($1, '00000000-0000-0000-0000-000000000000'::uuid), gen_random_uuid()), $2)
	RETURNING id, name, created_at`
	row := s.pool.QueryRow(ctx, query, o.ID, o.Name)
	if err := row.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
		return store.Organization{}, fmt.Errorf("creating organization: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (store.Organization, error) {
	var o store.Organization
	query := `SELECT id, name, created_at FROM organizations WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err != nil {
		return store.Organization{}, mapNotFound(err, "organization")
	}
	return o, nil
}
