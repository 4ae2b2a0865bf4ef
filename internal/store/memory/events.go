package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateNodeEvents(_ context.Context, events []store.NodeEvent) ([]store.NodeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.NodeEvent, len(events))
	for i, e := range events {
		e.ID = uuid.New()
		e.InsertedAt = now()
		s.events[e.NodeID] = append(s.events[e.NodeID], e)
		out[i] = e
	}
	return out, nil
}

func (s *Store) ListNodeEventsByNode(_ context.Context, nodeID uuid.UUID, limit int) ([]store.NodeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[nodeID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]store.NodeEvent, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out, nil
}

func (s *Store) TrimNodeEvents(_ context.Context, nodeID uuid.UUID, cap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[nodeID]
	if cap > 0 && len(events) > cap {
		s.events[nodeID] = events[len(events)-cap:]
	}
	return nil
}
