package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

func (s *Store) CreateRollout(_ context.Context, r store.Rollout) (store.Rollout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = now()
	if r.State == "" {
		r.State = store.RolloutPending
	}
	s.rollouts[r.ID] = r
	return r, nil
}

func (s *Store) GetRollout(_ context.Context, id uuid.UUID) (store.Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rollouts[id]
	if !ok {
		return store.Rollout{}, apperr.New(apperr.NotFound, "rollout not found")
	}
	return r, nil
}

func (s *Store) ListRolloutsByProject(_ context.Context, projectID uuid.UUID) ([]store.Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Rollout
	for _, r := range s.rollouts {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListDueScheduledRollouts(_ context.Context, t time.Time) ([]store.Rollout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Rollout
	for _, r := range s.rollouts {
		if r.State == store.RolloutPending && r.ScheduledAt != nil && !t.Before(*r.ScheduledAt) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ListRunningRolloutIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for id, r := range s.rollouts {
		if r.State == store.RolloutRunning {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) UpdateRolloutState(_ context.Context, id uuid.UUID, from, to store.RolloutState, f store.RolloutStateFields) (store.Rollout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollouts[id]
	if !ok {
		return store.Rollout{}, apperr.New(apperr.NotFound, "rollout not found")
	}
	if r.State != from {
		return store.Rollout{}, apperr.New(apperr.InvalidState, "rollout state precondition failed")
	}
	r.State = to
	if f.StartedAt != nil {
		r.StartedAt = f.StartedAt
	}
	if f.CompletedAt != nil {
		r.CompletedAt = f.CompletedAt
	}
	if f.Error != nil {
		r.Error = f.Error
	}
	s.rollouts[id] = r
	return r, nil
}

func (s *Store) UpdateRolloutApproval(_ context.Context, id uuid.UUID, state store.ApprovalState) (store.Rollout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollouts[id]
	if !ok {
		return store.Rollout{}, apperr.New(apperr.NotFound, "rollout not found")
	}
	r.ApprovalState = state
	s.rollouts[id] = r
	return r, nil
}

func (s *Store) PlanRollout(_ context.Context, plan store.RolloutPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollouts[plan.Rollout.ID]
	if !ok {
		return apperr.New(apperr.NotFound, "rollout not found")
	}
	if r.State != store.RolloutPending {
		return apperr.New(apperr.InvalidState, "rollout is not pending")
	}
	s.rollouts[plan.Rollout.ID] = plan.Rollout
	for _, step := range plan.Steps {
		s.steps[step.ID] = step
	}
	for _, st := range plan.Statuses {
		s.statuses[statusKey(st.RolloutID, st.NodeID)] = st
	}
	return nil
}

func (s *Store) RollbackRollout(_ context.Context, rollback store.RolloutRollback, to store.RolloutState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollouts[rollback.RolloutID]
	if !ok {
		return apperr.New(apperr.NotFound, "rollout not found")
	}
	r.State = to
	s.rollouts[rollback.RolloutID] = r
	for _, nodeID := range rollback.ResetNodeIDs {
		n, ok := s.nodes[nodeID]
		if !ok {
			continue
		}
		n.StagedBundleID = nil
		s.nodes[nodeID] = n
	}
	return nil
}

// --- Rollout steps ---

func (s *Store) ListStepsByRollout(_ context.Context, rolloutID uuid.UUID) ([]store.RolloutStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.RolloutStep
	for _, st := range s.steps {
		if st.RolloutID == rolloutID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (s *Store) UpdateStepState(_ context.Context, id uuid.UUID, state store.RolloutStepState, f store.StepStateFields) (store.RolloutStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[id]
	if !ok {
		return store.RolloutStep{}, apperr.New(apperr.NotFound, "rollout step not found")
	}
	st.State = state
	if f.StartedAt != nil {
		st.StartedAt = f.StartedAt
	}
	if f.CompletedAt != nil {
		st.CompletedAt = f.CompletedAt
	}
	if f.Error != nil {
		st.Error = f.Error
	}
	s.steps[id] = st
	return st, nil
}

// --- Node bundle statuses ---

func (s *Store) ListStatusesByStep(_ context.Context, rolloutID uuid.UUID, nodeIDs []uuid.UUID) ([]store.NodeBundleStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.NodeBundleStatus
	for _, nodeID := range nodeIDs {
		if st, ok := s.statuses[statusKey(rolloutID, nodeID)]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) ListStatusesByRollout(_ context.Context, rolloutID uuid.UUID) ([]store.NodeBundleStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.NodeBundleStatus
	for _, st := range s.statuses {
		if st.RolloutID == rolloutID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) UpdateNodeBundleStatus(_ context.Context, rolloutID, nodeID uuid.UUID, state store.NodeBundleState, f store.NodeBundleStatusFields) (store.NodeBundleStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := statusKey(rolloutID, nodeID)
	st, ok := s.statuses[key]
	if !ok {
		return store.NodeBundleStatus{}, apperr.New(apperr.NotFound, "node bundle status not found")
	}
	st.State = state
	if f.StagedAt != nil {
		st.StagedAt = f.StagedAt
	}
	if f.ActivatedAt != nil {
		st.ActivatedAt = f.ActivatedAt
	}
	if f.VerifiedAt != nil {
		st.VerifiedAt = f.VerifiedAt
	}
	if f.LastReportAt != nil {
		st.LastReportAt = f.LastReportAt
	}
	s.statuses[key] = st
	return st, nil
}

// --- Rollout approvals ---

func (s *Store) CreateRolloutApproval(_ context.Context, a store.RolloutApproval) (store.RolloutApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = now()
	s.approvals[a.ID] = a
	return a, nil
}

func (s *Store) ListRolloutApprovals(_ context.Context, rolloutID uuid.UUID) ([]store.RolloutApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.RolloutApproval
	for _, a := range s.approvals {
		if a.RolloutID == rolloutID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Signing keys ---

func (s *Store) CreateSigningKey(_ context.Context, k store.SigningKey) (store.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	k.CreatedAt = now()
	s.signingKeys[k.ID] = k
	return k, nil
}

func (s *Store) GetSigningKey(_ context.Context, id uuid.UUID) (store.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.signingKeys[id]
	if !ok {
		return store.SigningKey{}, apperr.New(apperr.UnknownKey, "signing key not found")
	}
	return k, nil
}

func (s *Store) MostRecentActiveSigningKey(_ context.Context, orgID uuid.UUID) (store.SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *store.SigningKey
	for _, k := range s.signingKeys {
		k := k
		if k.OrgID != orgID || !k.Active {
			continue
		}
		if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now().UTC()) {
			continue
		}
		if latest == nil || k.CreatedAt.After(latest.CreatedAt) {
			latest = &k
		}
	}
	if latest == nil {
		return store.SigningKey{}, apperr.New(apperr.NoSigningKey, "no active signing key")
	}
	return *latest, nil
}

// --- Groups ---

func (s *Store) CreateGroup(_ context.Context, g store.Group) (store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.CreatedAt = now()
	s.groups[g.ID] = g
	return g, nil
}

func (s *Store) GetGroup(_ context.Context, id uuid.UUID) (store.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return store.Group{}, apperr.New(apperr.NotFound, "group not found")
	}
	return g, nil
}

func (s *Store) ListGroupsByProject(_ context.Context, projectID uuid.UUID) ([]store.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Group
	for _, g := range s.groups {
		if g.ProjectID == projectID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Store) ResolveGroupMembers(_ context.Context, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, gid := range groupIDs {
		g, ok := s.groups[gid]
		if !ok {
			continue
		}
		for _, nodeID := range g.NodeIDs {
			if !seen[nodeID] {
				seen[nodeID] = true
				out = append(out, nodeID)
			}
		}
	}
	return out, nil
}
