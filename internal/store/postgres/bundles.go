package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

const bundleColumns = `id, project_id, version, status, checksum, size_bytes, storage_key,
	config_source, manifest, compiler_output, risk_level, risk_reasons, signature,
	signing_key_id, source_type, source_ref, sbom, created_at, updated_at`

func scanBundle(row pgx.Row) (store.Bundle, error) {
	var b store.Bundle
	var manifestJSON []byte
	err := row.Scan(
		&b.ID, &b.ProjectID, &b.Version, &b.Status, &b.Checksum, &b.SizeBytes, &b.StorageKey,
		&b.ConfigSource, &manifestJSON, &b.CompilerOutput, &b.RiskLevel, &b.RiskReasons, &b.Signature,
		&b.SigningKeyID, &b.SourceType, &b.SourceRef, &b.SBOM, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return store.Bundle{}, err
	}
	if len(manifestJSON) > 0 {
		var m store.Manifest
		if err := json.Unmarshal(manifestJSON, &m); err != nil {
			return store.Bundle{}, fmt.Errorf("decoding manifest: %w", err)
		}
		b.Manifest = &m
	}
	return b, nil
}

func (s *Store) CreateBundle(ctx context.Context, b store.Bundle) (store.Bundle, error) {
	if b.Status == "" {
		b.Status = store.BundlePending
	}
	if b.SourceType == "" {
		b.SourceType = store.BundleSourceAPI
	}
	query := `INSERT INTO bundles (project_id, version, status, config_source, source_type, source_ref)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + bundleColumns
	row := s.pool.QueryRow(ctx, query, b.ProjectID, b.Version, b.Status, b.ConfigSource, b.SourceType, b.SourceRef)
	out, err := scanBundle(row)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("creating bundle: %w", err)
	}
	return out, nil
}

func (s *Store) GetBundle(ctx context.Context, id uuid.UUID) (store.Bundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM bundles WHERE id = $1`
	b, err := scanBundle(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Bundle{}, apperr.New(apperr.BundleNotFound, "bundle not found")
		}
		return store.Bundle{}, fmt.Errorf("querying bundle: %w", err)
	}
	return b, nil
}

func (s *Store) GetBundleByProjectVersion(ctx context.Context, projectID uuid.UUID, version string) (store.Bundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM bundles WHERE project_id = $1 AND version = $2`
	b, err := scanBundle(s.pool.QueryRow(ctx, query, projectID, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Bundle{}, apperr.New(apperr.BundleNotFound, "bundle not found")
		}
		return store.Bundle{}, fmt.Errorf("querying bundle: %w", err)
	}
	return b, nil
}

func (s *Store) ListBundlesByProject(ctx context.Context, projectID uuid.UUID) ([]store.Bundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM bundles WHERE project_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing bundles: %w", err)
	}
	defer rows.Close()

	var out []store.Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bundle: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListPendingBundleIDs returns every bundle id still awaiting
// compilation, across all projects.
func (s *Store) ListPendingBundleIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM bundles WHERE status = 'pending'`)
	if err != nil {
		return nil, fmt.Errorf("listing pending bundle ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning bundle id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBundle(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bundles WHERE id = $1 AND status IN ('pending', 'failed')`, id)
	if err != nil {
		return fmt.Errorf("deleting bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.InvalidState, "bundle not found or not deletable")
	}
	return nil
}

func (s *Store) ClaimBundleForCompile(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bundles SET status = 'compiling', updated_at = now() WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("claiming bundle: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateBundleCompiled(ctx context.Context, id uuid.UUID, f store.BundleCompiledFields) (store.Bundle, error) {
	manifestJSON, err := json.Marshal(f.Manifest)
	if err != nil {
		return store.Bundle{}, fmt.Errorf("encoding manifest: %w", err)
	}
	query := `UPDATE bundles SET status = 'compiled', checksum = $2, size_bytes = $3, storage_key = $4,
		manifest = $5, compiler_output = $6, risk_level = $7, risk_reasons = $8, signature = $9,
		signing_key_id = $10, sbom = $11, updated_at = now()
	WHERE id = $1
	RETURNING ` + bundleColumns
	row := s.pool.QueryRow(ctx, query, id, f.Checksum, f.SizeBytes, f.StorageKey, manifestJSON,
		f.CompilerOutput, f.RiskLevel, f.RiskReasons, f.Signature, f.SigningKeyID, f.SBOM)
	b, err := scanBundle(row)
	if err != nil {
		return store.Bundle{}, mapNotFound(err, "bundle")
	}
	return b, nil
}

func (s *Store) UpdateBundleFailed(ctx context.Context, id uuid.UUID, compilerOutput string) (store.Bundle, error) {
	query := `UPDATE bundles SET status = 'failed', compiler_output = $2, updated_at = now()
	WHERE id = $1
	RETURNING ` + bundleColumns
	b, err := scanBundle(s.pool.QueryRow(ctx, query, id, compilerOutput))
	if err != nil {
		return store.Bundle{}, mapNotFound(err, "bundle")
	}
	return b, nil
}

func (s *Store) RevokeBundle(ctx context.Context, id uuid.UUID) (store.Bundle, error) {
	query := `UPDATE bundles SET status = 'revoked', updated_at = now()
	WHERE id = $1 AND status = 'compiled'
	RETURNING ` + bundleColumns
	b, err := scanBundle(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Bundle{}, apperr.New(apperr.InvalidState, "only compiled bundles may be revoked")
		}
		return store.Bundle{}, fmt.Errorf("revoking bundle: %w", err)
	}
	return b, nil
}

func (s *Store) GetLatestCompiledBundle(ctx context.Context, projectID uuid.UUID) (store.Bundle, error) {
	query := `SELECT ` + bundleColumns + ` FROM bundles
	WHERE project_id = $1 AND status = 'compiled'
	ORDER BY created_at DESC LIMIT 1`
	b, err := scanBundle(s.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Bundle{}, apperr.New(apperr.BundleNotFound, "no compiled bundle")
		}
		return store.Bundle{}, fmt.Errorf("querying latest compiled bundle: %w", err)
	}
	return b, nil
}
