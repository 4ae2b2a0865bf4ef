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

func (s *Store) RecordHeartbeat(ctx context.Context, nodeID uuid.UUID, hb store.NodeHeartbeat, f store.HeartbeatNodeFields) (store.Node, store.NodeHeartbeat, error) {
	var node store.Node
	var recorded store.NodeHeartbeat

	err := s.tx(ctx, func(tx pgx.Tx) error {
		query := `UPDATE nodes SET status = 'online', last_seen_at = now(),
			version = COALESCE(NULLIF($2, ''), version),
			ip = COALESCE(NULLIF($3, ''), ip),
			hostname = COALESCE(NULLIF($4, ''), hostname),
			active_bundle_id = COALESCE($5, active_bundle_id),
			staged_bundle_id = COALESCE($6, staged_bundle_id)
		WHERE id = $1
		RETURNING ` + nodeColumns

		n, err := scanNode(tx.QueryRow(ctx, query, nodeID, f.Version, f.IP, f.Hostname, f.ActiveBundleID, f.StagedBundleID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.NotFound, "node not found")
			}
			return fmt.Errorf("updating node on heartbeat: %w", err)
		}
		node = n

		healthJSON, err := json.Marshal(hb.Health)
		if err != nil {
			return fmt.Errorf("encoding heartbeat health: %w", err)
		}
		metricsJSON, err := json.Marshal(hb.Metrics)
		if err != nil {
			return fmt.Errorf("encoding heartbeat metrics: %w", err)
		}

		insert := `INSERT INTO node_heartbeats (node_id, health, metrics, active_bundle_id, staged_bundle_id, version, inserted_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		RETURNING id, node_id, health, metrics, active_bundle_id, staged_bundle_id, version, inserted_at`

		row := tx.QueryRow(ctx, insert, nodeID, healthJSON, metricsJSON, node.ActiveBundleID, node.StagedBundleID, hb.Version)
		var healthOut, metricsOut []byte
		if err := row.Scan(&recorded.ID, &recorded.NodeID, &healthOut, &metricsOut,
			&recorded.ActiveBundleID, &recorded.StagedBundleID, &recorded.Version, &recorded.InsertedAt); err != nil {
			return fmt.Errorf("inserting heartbeat: %w", err)
		}
		_ = json.Unmarshal(healthOut, &recorded.Health)
		_ = json.Unmarshal(metricsOut, &recorded.Metrics)
		return nil
	})
	if err != nil {
		return store.Node{}, store.NodeHeartbeat{}, err
	}
	return node, recorded, nil
}

func (s *Store) GetLatestHeartbeat(ctx context.Context, nodeID uuid.UUID) (store.NodeHeartbeat, error) {
	query := `SELECT id, node_id, health, metrics, active_bundle_id, staged_bundle_id, version, inserted_at
	FROM node_heartbeats WHERE node_id = $1 ORDER BY inserted_at DESC LIMIT 1`
	var hb store.NodeHeartbeat
	var healthJSON, metricsJSON []byte
	err := s.pool.QueryRow(ctx, query, nodeID).Scan(&hb.ID, &hb.NodeID, &healthJSON, &metricsJSON,
		&hb.ActiveBundleID, &hb.StagedBundleID, &hb.Version, &hb.InsertedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.NodeHeartbeat{}, apperr.New(apperr.NotFound, "no heartbeats for node")
		}
		return store.NodeHeartbeat{}, fmt.Errorf("querying latest heartbeat: %w", err)
	}
	_ = json.Unmarshal(healthJSON, &hb.Health)
	_ = json.Unmarshal(metricsJSON, &hb.Metrics)
	return hb, nil
}

func (s *Store) TrimHeartbeats(ctx context.Context, nodeID uuid.UUID, cap int) error {
	if cap <= 0 {
		return nil
	}
	query := `DELETE FROM node_heartbeats WHERE node_id = $1 AND id NOT IN (
		SELECT id FROM node_heartbeats WHERE node_id = $1 ORDER BY inserted_at DESC LIMIT $2
	)`
	if _, err := s.pool.Exec(ctx, query, nodeID, cap); err != nil {
		return fmt.Errorf("trimming heartbeats: %w", err)
	}
	return nil
}

func (s *Store) SweepStaleNodes(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `UPDATE nodes SET status = 'offline'
	WHERE status = 'online' AND last_seen_at < $1
	RETURNING id`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweeping stale nodes: %w", err)
	}
	defer rows.Close()

	var affected []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning swept node id: %w", err)
		}
		affected = append(affected, id)
	}
	return affected, rows.Err()
}
