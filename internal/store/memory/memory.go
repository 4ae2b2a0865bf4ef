// Package memory is an in-process Store implementation over
// sync.RWMutex-guarded maps. It exists because spec.md §1 explicitly
// allows "a single-writer embedded store" as a backend, and it is the
// natural place to hang deterministic engine tests (rollout state
// machine, drift engine, planner) without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	orgs         map[uuid.UUID]store.Organization
	projects     map[uuid.UUID]store.Project
	environments map[uuid.UUID]store.Environment
	bundles      map[uuid.UUID]store.Bundle
	promotions   map[uuid.UUID]store.BundlePromotion
	nodes        map[uuid.UUID]store.Node
	heartbeats   map[uuid.UUID][]store.NodeHeartbeat // by node id, append order
	events       map[uuid.UUID][]store.NodeEvent     // by node id, append order
	drift        map[uuid.UUID]store.DriftEvent
	rollouts     map[uuid.UUID]store.Rollout
	steps        map[uuid.UUID]store.RolloutStep
	statuses     map[string]store.NodeBundleStatus // key: rolloutID|nodeID
	approvals    map[uuid.UUID]store.RolloutApproval
	signingKeys  map[uuid.UUID]store.SigningKey
	groups       map[uuid.UUID]store.Group
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		orgs:         map[uuid.UUID]store.Organization{},
		projects:     map[uuid.UUID]store.Project{},
		environments: map[uuid.UUID]store.Environment{},
		bundles:      map[uuid.UUID]store.Bundle{},
		promotions:   map[uuid.UUID]store.BundlePromotion{},
		nodes:        map[uuid.UUID]store.Node{},
		heartbeats:   map[uuid.UUID][]store.NodeHeartbeat{},
		events:       map[uuid.UUID][]store.NodeEvent{},
		drift:        map[uuid.UUID]store.DriftEvent{},
		rollouts:     map[uuid.UUID]store.Rollout{},
		steps:        map[uuid.UUID]store.RolloutStep{},
		statuses:     map[string]store.NodeBundleStatus{},
		approvals:    map[uuid.UUID]store.RolloutApproval{},
		signingKeys:  map[uuid.UUID]store.SigningKey{},
		groups:       map[uuid.UUID]store.Group{},
	}
}

func statusKey(rolloutID, nodeID uuid.UUID) string {
	return rolloutID.String() + "|" + nodeID.String()
}

func now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// --- Organizations ---

func (s *Store) CreateOrganization(_ context.Context, o store.Organization) (store.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = now()
	s.orgs[o.ID] = o
	return o, nil
}

func (s *Store) GetOrganization(_ context.Context, id uuid.UUID) (store.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return store.Organization{}, apperr.New(apperr.NotFound, "organization not found")
	}
	return o, nil
}

// --- Projects ---

func (s *Store) CreateProject(_ context.Context, p store.Project) (store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = now()
	s.projects[p.ID] = p
	return p, nil
}

func (s *Store) GetProject(_ context.Context, id uuid.UUID) (store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return store.Project{}, apperr.New(apperr.NotFound, "project not found")
	}
	return p, nil
}

func (s *Store) GetProjectBySlug(_ context.Context, slug string) (store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.projects {
		if p.Slug == slug {
			return p, nil
		}
	}
	return store.Project{}, apperr.New(apperr.NotFound, "project not found")
}

// --- Environments ---

func (s *Store) CreateEnvironment(_ context.Context, e store.Environment) (store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = now()
	s.environments[e.ID] = e
	return e, nil
}

func (s *Store) GetEnvironment(_ context.Context, id uuid.UUID) (store.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.environments[id]
	if !ok {
		return store.Environment{}, apperr.New(apperr.NotFound, "environment not found")
	}
	return e, nil
}

func (s *Store) ListEnvironmentsByProject(_ context.Context, projectID uuid.UUID) ([]store.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Environment
	for _, e := range s.environments {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

// --- Bundles ---

func (s *Store) CreateBundle(_ context.Context, b store.Bundle) (store.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = now()
	b.UpdatedAt = b.CreatedAt
	if b.Status == "" {
		b.Status = store.BundlePending
	}
	s.bundles[b.ID] = b
	return b, nil
}

func (s *Store) GetBundle(_ context.Context, id uuid.UUID) (store.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[id]
	if !ok {
		return store.Bundle{}, apperr.New(apperr.BundleNotFound, "bundle not found")
	}
	return b, nil
}

func (s *Store) GetBundleByProjectVersion(_ context.Context, projectID uuid.UUID, version string) (store.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bundles {
		if b.ProjectID == projectID && b.Version == version {
			return b, nil
		}
	}
	return store.Bundle{}, apperr.New(apperr.BundleNotFound, "bundle not found")
}

func (s *Store) ListBundlesByProject(_ context.Context, projectID uuid.UUID) ([]store.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Bundle
	for _, b := range s.bundles {
		if b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListPendingBundleIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for id, b := range s.bundles {
		if b.Status == store.BundlePending {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Store) DeleteBundle(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return apperr.New(apperr.BundleNotFound, "bundle not found")
	}
	if b.Status != store.BundlePending && b.Status != store.BundleFailed {
		return apperr.New(apperr.InvalidState, "only pending or failed bundles are deletable")
	}
	delete(s.bundles, id)
	return nil
}

func (s *Store) ClaimBundleForCompile(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return false, apperr.New(apperr.BundleNotFound, "bundle not found")
	}
	if b.Status != store.BundlePending {
		return false, nil
	}
	b.Status = store.BundleCompiling
	b.UpdatedAt = now()
	s.bundles[id] = b
	return true, nil
}

func (s *Store) UpdateBundleCompiled(_ context.Context, id uuid.UUID, f store.BundleCompiledFields) (store.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return store.Bundle{}, apperr.New(apperr.BundleNotFound, "bundle not found")
	}
	b.Status = store.BundleCompiled
	b.Checksum = f.Checksum
	b.SizeBytes = f.SizeBytes
	b.StorageKey = f.StorageKey
	b.Manifest = f.Manifest
	b.CompilerOutput = f.CompilerOutput
	b.RiskLevel = f.RiskLevel
	b.RiskReasons = f.RiskReasons
	b.Signature = f.Signature
	b.SigningKeyID = f.SigningKeyID
	b.SBOM = f.SBOM
	b.UpdatedAt = now()
	s.bundles[id] = b
	return b, nil
}

func (s *Store) UpdateBundleFailed(_ context.Context, id uuid.UUID, compilerOutput string) (store.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return store.Bundle{}, apperr.New(apperr.BundleNotFound, "bundle not found")
	}
	b.Status = store.BundleFailed
	b.CompilerOutput = compilerOutput
	b.UpdatedAt = now()
	s.bundles[id] = b
	return b, nil
}

func (s *Store) RevokeBundle(_ context.Context, id uuid.UUID) (store.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[id]
	if !ok {
		return store.Bundle{}, apperr.New(apperr.BundleNotFound, "bundle not found")
	}
	if b.Status != store.BundleCompiled {
		return store.Bundle{}, apperr.New(apperr.InvalidState, "only compiled bundles may be revoked")
	}
	b.Status = store.BundleRevoked
	b.UpdatedAt = now()
	s.bundles[id] = b
	return b, nil
}

func (s *Store) GetLatestCompiledBundle(_ context.Context, projectID uuid.UUID) (store.Bundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *store.Bundle
	for _, b := range s.bundles {
		b := b
		if b.ProjectID != projectID || b.Status != store.BundleCompiled {
			continue
		}
		if latest == nil || b.CreatedAt.After(latest.CreatedAt) {
			latest = &b
		}
	}
	if latest == nil {
		return store.Bundle{}, apperr.New(apperr.BundleNotFound, "no compiled bundle")
	}
	return *latest, nil
}

// --- Bundle promotions ---

func (s *Store) CreateBundlePromotion(_ context.Context, p store.BundlePromotion) (store.BundlePromotion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.PromotedAt = now()
	s.promotions[p.ID] = p
	return p, nil
}

func (s *Store) IsPromoted(_ context.Context, bundleID, environmentID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.promotions {
		if p.BundleID == bundleID && p.EnvironmentID == environmentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListPromotionsForBundle(_ context.Context, bundleID uuid.UUID) ([]store.BundlePromotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.BundlePromotion
	for _, p := range s.promotions {
		if p.BundleID == bundleID {
			out = append(out, p)
		}
	}
	return out, nil
}
