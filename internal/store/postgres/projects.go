package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateProject(ctx context.Context, p store.Project) (store.Project, error) {
	query := `INSERT INTO projects (org_id, slug, name, approvals_needed, drift_auto_remediation)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, org_id, slug, name, approvals_needed, drift_auto_remediation, created_at`
	row := s.pool.QueryRow(ctx, query, p.OrgID, p.Slug, p.Name, p.ApprovalsNeeded, p.DriftAutoRemediation)
	if err := row.Scan(&p.ID, &p.OrgID, &p.Slug, &p.Name, &p.ApprovalsNeeded, &p.DriftAutoRemediation, &p.CreatedAt); err != nil {
		return store.Project{}, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (store.Project, error) {
	var p store.Project
	query := `SELECT id, org_id, slug, name, approvals_needed, drift_auto_remediation, created_at FROM projects WHERE id = $1`
	err := s.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.OrgID, &p.Slug, &p.Name, &p.ApprovalsNeeded, &p.DriftAutoRemediation, &p.CreatedAt)
	if err != nil {
		return store.Project{}, mapNotFound(err, "project")
	}
	return p, nil
}

func (s *Store) GetProjectBySlug(ctx context.Context, slug string) (store.Project, error) {
	var p store.Project
	query := `SELECT id, org_id, slug, name, approvals_needed, drift_auto_remediation, created_at FROM projects WHERE slug = $1`
	err := s.pool.QueryRow(ctx, query, slug).Scan(&p.ID, &p.OrgID, &p.Slug, &p.Name, &p.ApprovalsNeeded, &p.DriftAutoRemediation, &p.CreatedAt)
	if err != nil {
		return store.Project{}, mapNotFound(err, "project")
	}
	return p, nil
}
