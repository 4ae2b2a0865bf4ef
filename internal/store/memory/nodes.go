package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateNode(_ context.Context, n store.Node) (store.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.nodes {
		if existing.ProjectID == n.ProjectID && existing.Name == n.Name {
			return store.Node{}, apperr.New(apperr.InvalidState, "duplicate node name in project")
		}
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.RegisteredAt = now()
	n.LastSeenAt = n.RegisteredAt
	if n.Status == "" {
		n.Status = store.NodeOnline
	}
	s.nodes[n.ID] = n
	return n, nil
}

func (s *Store) GetNode(_ context.Context, id uuid.UUID) (store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return store.Node{}, apperr.New(apperr.NotFound, "node not found")
	}
	return n, nil
}

func (s *Store) GetNodeByProjectName(_ context.Context, projectID uuid.UUID, name string) (store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.ProjectID == projectID && n.Name == name {
			return n, nil
		}
	}
	return store.Node{}, apperr.New(apperr.NotFound, "node not found")
}

func (s *Store) ListNodesByProject(_ context.Context, projectID uuid.UUID) ([]store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Node
	for _, n := range s.nodes {
		if n.ProjectID == projectID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListNodesByIDs(_ context.Context, ids []uuid.UUID) ([]store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Node
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) ListNodesByLabels(_ context.Context, projectID uuid.UUID, want map[string]string) ([]store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Node
	for _, n := range s.nodes {
		if n.ProjectID == projectID && n.LabelsSuperset(want) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetNodeByKeyHash(_ context.Context, keyHash string) (store.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.nodes {
		if n.NodeKeyHash == keyHash {
			return n, nil
		}
	}
	return store.Node{}, apperr.New(apperr.NotFound, "node not found")
}

func (s *Store) ListAllNodeIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.nodes))
	for id := range s.nodes {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) UpdateNodeRuntimeConfig(_ context.Context, nodeID uuid.UUID, configHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return apperr.New(apperr.NotFound, "node not found")
	}
	_ = configHash // observability-only; no dedicated field kept in memory store
	s.nodes[nodeID] = n
	return nil
}

func (s *Store) RecordHeartbeat(_ context.Context, nodeID uuid.UUID, hb store.NodeHeartbeat, f store.HeartbeatNodeFields) (store.Node, store.NodeHeartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return store.Node{}, store.NodeHeartbeat{}, apperr.New(apperr.NotFound, "node not found")
	}

	n.Status = store.NodeOnline
	n.LastSeenAt = now()
	if f.Version != "" {
		n.Version = f.Version
	}
	if f.IP != "" {
		n.IP = f.IP
	}
	if f.Hostname != "" {
		n.Hostname = f.Hostname
	}
	if f.ActiveBundleID != nil {
		n.ActiveBundleID = f.ActiveBundleID
	}
	if f.StagedBundleID != nil {
		n.StagedBundleID = f.StagedBundleID
	}
	s.nodes[nodeID] = n

	if hb.ID == uuid.Nil {
		hb.ID = uuid.New()
	}
	hb.NodeID = nodeID
	hb.InsertedAt = n.LastSeenAt
	s.heartbeats[nodeID] = append(s.heartbeats[nodeID], hb)

	return n, hb, nil
}

func (s *Store) GetLatestHeartbeat(_ context.Context, nodeID uuid.UUID) (store.NodeHeartbeat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hbs := s.heartbeats[nodeID]
	if len(hbs) == 0 {
		return store.NodeHeartbeat{}, apperr.New(apperr.NotFound, "no heartbeats for node")
	}
	return hbs[len(hbs)-1], nil
}

func (s *Store) TrimHeartbeats(_ context.Context, nodeID uuid.UUID, cap int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hbs := s.heartbeats[nodeID]
	if cap > 0 && len(hbs) > cap {
		s.heartbeats[nodeID] = hbs[len(hbs)-cap:]
	}
	return nil
}

func (s *Store) SweepStaleNodes(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected []uuid.UUID
	for id, n := range s.nodes {
		if n.Status == store.NodeOnline && n.LastSeenAt.Before(cutoff) {
			n.Status = store.NodeOffline
			s.nodes[id] = n
			affected = append(affected, id)
		}
	}
	return affected, nil
}

func (s *Store) SetExpectedBundle(_ context.Context, nodeIDs []uuid.UUID, bundleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range nodeIDs {
		n, ok := s.nodes[id]
		if !ok {
			continue
		}
		bid := bundleID
		n.ExpectedBundleID = &bid
		s.nodes[id] = n
	}
	return nil
}

func (s *Store) ResetStagedForBundle(_ context.Context, bundleID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected []uuid.UUID
	for id, n := range s.nodes {
		if n.StagedBundleID != nil && *n.StagedBundleID == bundleID {
			n.StagedBundleID = nil
			s.nodes[id] = n
			affected = append(affected, id)
		}
	}
	return affected, nil
}

func (s *Store) SetNodeStaged(_ context.Context, nodeID uuid.UUID, bundleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return apperr.New(apperr.NotFound, "node not found")
	}
	bid := bundleID
	n.StagedBundleID = &bid
	s.nodes[nodeID] = n
	return nil
}

// --- Drift events ---

func (s *Store) GetActiveDriftEvent(_ context.Context, nodeID uuid.UUID) (store.DriftEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.drift {
		if e.NodeID == nodeID && e.Unresolved() {
			return e, nil
		}
	}
	return store.DriftEvent{}, apperr.New(apperr.NotFound, "no active drift event")
}

func (s *Store) ListActiveDriftEventsForNodes(_ context.Context, nodeIDs []uuid.UUID, expectedBundleID uuid.UUID) ([]store.DriftEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		want[id] = true
	}
	var out []store.DriftEvent
	for _, e := range s.drift {
		if want[e.NodeID] && e.Unresolved() && e.ExpectedBundleID == expectedBundleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) OpenDriftEvent(_ context.Context, e store.DriftEvent) (store.DriftEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.DetectedAt = now()
	s.drift[e.ID] = e
	return e, nil
}

func (s *Store) ResolveDriftEvent(_ context.Context, id uuid.UUID, resolution store.DriftResolution, resolvedAt time.Time) (store.DriftEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.drift[id]
	if !ok {
		return store.DriftEvent{}, apperr.New(apperr.NotFound, "drift event not found")
	}
	t := resolvedAt.UTC().Truncate(time.Second)
	e.ResolvedAt = &t
	e.Resolution = resolution
	s.drift[id] = e
	return e, nil
}
