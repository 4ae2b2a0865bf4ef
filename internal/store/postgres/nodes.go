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

const nodeColumns = `id, project_id, environment_id, name, labels, capabilities, version, status,
	last_seen_at, registered_at, ip, hostname, node_key_hash, active_bundle_id, staged_bundle_id,
	expected_bundle_id, pinned_bundle_id, min_bundle_version, max_bundle_version`

func scanNode(row pgx.Row) (store.Node, error) {
	var n store.Node
	var labelsJSON []byte
	err := row.Scan(
		&n.ID, &n.ProjectID, &n.EnvironmentID, &n.Name, &labelsJSON, &n.Capabilities, &n.Version, &n.Status,
		&n.LastSeenAt, &n.RegisteredAt, &n.IP, &n.Hostname, &n.NodeKeyHash, &n.ActiveBundleID, &n.StagedBundleID,
		&n.ExpectedBundleID, &n.PinnedBundleID, &n.MinBundleVersion, &n.MaxBundleVersion,
	)
	if err != nil {
		return store.Node{}, err
	}
	if len(labelsJSON) > 0 {
		if err := json.Unmarshal(labelsJSON, &n.Labels); err != nil {
			return store.Node{}, fmt.Errorf("decoding node labels: %w", err)
		}
	}
	return n, nil
}

func (s *Store) CreateNode(ctx context.Context, n store.Node) (store.Node, error) {
	labelsJSON, err := json.Marshal(n.Labels)
	if err != nil {
		return store.Node{}, fmt.Errorf("encoding node labels: %w", err)
	}
	if n.Status == "" {
		n.Status = store.NodeOnline
	}
	query := `INSERT INTO nodes (project_id, environment_id, name, labels, capabilities, version, status,
		last_seen_at, registered_at, ip, hostname, node_key_hash, min_bundle_version, max_bundle_version)
	VALUES ($1,$2,$3,$4,$5,$6,$7, now(), now(), $8,$9,$10,$11,$12)
	RETURNING ` + nodeColumns
	row := s.pool.QueryRow(ctx, query, n.ProjectID, n.EnvironmentID, n.Name, labelsJSON, n.Capabilities,
		n.Version, n.Status, n.IP, n.Hostname, n.NodeKeyHash, n.MinBundleVersion, n.MaxBundleVersion)
	out, err := scanNode(row)
	if err != nil {
		return store.Node{}, fmt.Errorf("creating node: %w", err)
	}
	return out, nil
}

func (s *Store) GetNode(ctx context.Context, id uuid.UUID) (store.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`
	n, err := scanNode(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Node{}, apperr.New(apperr.NotFound, "node not found")
		}
		return store.Node{}, fmt.Errorf("querying node: %w", err)
	}
	return n, nil
}

func (s *Store) GetNodeByProjectName(ctx context.Context, projectID uuid.UUID, name string) (store.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE project_id = $1 AND name = $2`
	n, err := scanNode(s.pool.QueryRow(ctx, query, projectID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Node{}, apperr.New(apperr.NotFound, "node not found")
		}
		return store.Node{}, fmt.Errorf("querying node: %w", err)
	}
	return n, nil
}

func (s *Store) ListNodesByProject(ctx context.Context, projectID uuid.UUID) ([]store.Node, error) {
	return s.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE project_id = $1 ORDER BY name ASC`, projectID)
}

func (s *Store) ListNodesByIDs(ctx context.Context, ids []uuid.UUID) ([]store.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ANY($1)`, ids)
}

// ListNodesByLabels implements label superset matching via a jsonb
// containment operator, the abstraction spec.md §9 calls for (the store
// may implement label matching with either a JSON operator or a joined
// attributes table; this adapter picks the JSON operator).
func (s *Store) ListNodesByLabels(ctx context.Context, projectID uuid.UUID, want map[string]string) ([]store.Node, error) {
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return nil, fmt.Errorf("encoding label predicate: %w", err)
	}
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE project_id = $1 AND labels @> $2::jsonb ORDER BY name ASC`
	return s.queryNodes(ctx, query, projectID, wantJSON)
}

func (s *Store) GetNodeByKeyHash(ctx context.Context, keyHash string) (store.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE node_key_hash = $1`
	n, err := scanNode(s.pool.QueryRow(ctx, query, keyHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Node{}, apperr.New(apperr.NotFound, "node not found")
		}
		return store.Node{}, fmt.Errorf("querying node by key hash: %w", err)
	}
	return n, nil
}

// ListAllNodeIDs returns every node id across all projects, for the
// periodic drift scan job.
func (s *Store) ListAllNodeIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("listing node ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning node id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]store.Node, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	var out []store.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UpdateNodeRuntimeConfig(ctx context.Context, nodeID uuid.UUID, configHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE nodes SET runtime_config_hash = $2 WHERE id = $1`, nodeID, configHash)
	if err != nil {
		return fmt.Errorf("updating node runtime config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "node not found")
	}
	return nil
}

func (s *Store) SetExpectedBundle(ctx context.Context, nodeIDs []uuid.UUID, bundleID uuid.UUID) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE nodes SET expected_bundle_id = $2 WHERE id = ANY($1)`, nodeIDs, bundleID)
	if err != nil {
		return fmt.Errorf("setting expected bundle: %w", err)
	}
	return nil
}

func (s *Store) ResetStagedForBundle(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE nodes SET staged_bundle_id = NULL WHERE staged_bundle_id = $1 RETURNING id`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("resetting staged bundle: %w", err)
	}
	defer rows.Close()

	var affected []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning reset node id: %w", err)
		}
		affected = append(affected, id)
	}
	return affected, rows.Err()
}

func (s *Store) SetNodeStaged(ctx context.Context, nodeID uuid.UUID, bundleID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE nodes SET staged_bundle_id = $2 WHERE id = $1`, nodeID, bundleID)
	if err != nil {
		return fmt.Errorf("staging node bundle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "node not found")
	}
	return nil
}
