package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateNodeEvents(ctx context.Context, events []store.NodeEvent) ([]store.NodeEvent, error) {
	out := make([]store.NodeEvent, 0, len(events))
	err := s.tx(ctx, func(tx pgx.Tx) error {
		for _, e := range events {
			metadataJSON, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("encoding event metadata: %w", err)
			}
			row := tx.QueryRow(ctx, `INSERT INTO node_events (node_id, project_id, event_type, severity, message, metadata, inserted_at)
				VALUES ($1,$2,$3,$4,$5,$6, now())
				RETURNING id, node_id, project_id, event_type, severity, message, metadata, inserted_at`,
				e.NodeID, e.ProjectID, e.EventType, e.Severity, e.Message, metadataJSON)

			var out2 store.NodeEvent
			var metaOut []byte
			if err := row.Scan(&out2.ID, &out2.NodeID, &out2.ProjectID, &out2.EventType, &out2.Severity,
				&out2.Message, &metaOut, &out2.InsertedAt); err != nil {
				return fmt.Errorf("inserting node event: %w", err)
			}
			_ = json.Unmarshal(metaOut, &out2.Metadata)
			out = append(out, out2)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListNodeEventsByNode(ctx context.Context, nodeID uuid.UUID, limit int) ([]store.NodeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT id, node_id, project_id, event_type, severity, message, metadata, inserted_at
		FROM node_events WHERE node_id = $1 ORDER BY inserted_at DESC LIMIT $2`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing node events: %w", err)
	}
	defer rows.Close()

	var events []store.NodeEvent
	for rows.Next() {
		var e store.NodeEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.NodeID, &e.ProjectID, &e.EventType, &e.Severity, &e.Message, &metaJSON, &e.InsertedAt); err != nil {
			return nil, fmt.Errorf("scanning node event: %w", err)
		}
		_ = json.Unmarshal(metaJSON, &e.Metadata)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) TrimNodeEvents(ctx context.Context, nodeID uuid.UUID, cap int) error {
	if cap <= 0 {
		return nil
	}
	query := `DELETE FROM node_events WHERE node_id = $1 AND id NOT IN (
		SELECT id FROM node_events WHERE node_id = $1 ORDER BY inserted_at DESC LIMIT $2
	)`
	if _, err := s.pool.Exec(ctx, query, nodeID, cap); err != nil {
		return fmt.Errorf("trimming node events: %w", err)
	}
	return nil
}
