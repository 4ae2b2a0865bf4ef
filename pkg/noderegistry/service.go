// Package noderegistry implements node registration, heartbeat
// processing, liveness sweeps, and group membership (spec.md §4.4).
package noderegistry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/identity"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/pkg/drift"
)

// Service encapsulates node-registry business logic.
type Service struct {
	store         store.Store
	nodeKeys      *identity.NodeKeyService
	drift         *drift.Engine
	staleAfter    time.Duration
	heartbeatCap  int
	logger        *slog.Logger
}

// New creates a node-registry Service. staleAfter is the liveness-sweep
// threshold (default 120s per spec.md §4.4); heartbeatCap bounds how
// many heartbeat rows are retained per node.
func New(s store.Store, nodeKeys *identity.NodeKeyService, driftEngine *drift.Engine, staleAfter time.Duration, heartbeatCap int, logger *slog.Logger) *Service {
	return &Service{
		store:        s,
		nodeKeys:     nodeKeys,
		drift:        driftEngine,
		staleAfter:   staleAfter,
		heartbeatCap: heartbeatCap,
		logger:       logger,
	}
}

// RegisterResult carries the raw node key, returned exactly once.
type RegisterResult struct {
	Node   store.Node
	RawKey string
}

// Register creates a new node, issuing and hashing its registration key
// (spec.md §4.4 "Register"). The raw key is returned to the caller once
// and never persisted.
func (s *Service) Register(ctx context.Context, projectID uuid.UUID, environmentID *uuid.UUID, name string, labels map[string]string, capabilities []string) (RegisterResult, error) {
	raw, hash, err := s.nodeKeys.Generate()
	if err != nil {
		return RegisterResult{}, fmt.Errorf("generating node key: %w", err)
	}

	n, err := s.store.CreateNode(ctx, store.Node{
		ProjectID:     projectID,
		EnvironmentID: environmentID,
		Name:          name,
		Labels:        labels,
		Capabilities:  capabilities,
		NodeKeyHash:   hash,
	})
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{Node: n, RawKey: raw}, nil
}

// Heartbeat records a node's heartbeat in a single transaction and
// synchronously triggers drift reconciliation for that node
// (spec.md §4.4 "Heartbeat").
func (s *Service) Heartbeat(ctx context.Context, nodeID uuid.UUID, hb store.NodeHeartbeat, fields store.HeartbeatNodeFields) (store.Node, store.NodeHeartbeat, error) {
	node, recorded, err := s.store.RecordHeartbeat(ctx, nodeID, hb, fields)
	if err != nil {
		return store.Node{}, store.NodeHeartbeat{}, err
	}
	if err := s.store.TrimHeartbeats(ctx, nodeID, s.heartbeatCap); err != nil {
		s.logger.Warn("trimming heartbeats", "node_id", nodeID, "error", err)
	}
	if err := s.drift.Reconcile(ctx, node); err != nil {
		s.logger.Error("drift reconciliation after heartbeat", "node_id", nodeID, "error", err)
	}
	return node, recorded, nil
}

// LivenessSweep moves any node whose last heartbeat predates the stale
// threshold from online to offline (spec.md §4.4 "Liveness sweep").
// Idempotent: repeated calls with no newly-stale nodes are no-ops.
func (s *Service) LivenessSweep(ctx context.Context) ([]uuid.UUID, error) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	affected, err := s.store.SweepStaleNodes(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sweeping stale nodes: %w", err)
	}
	if len(affected) > 0 {
		s.logger.Info("liveness sweep marked nodes offline", "count", len(affected))
	}
	return affected, nil
}

// CreateGroup defines a named set of node ids within a project.
func (s *Service) CreateGroup(ctx context.Context, projectID uuid.UUID, name string, nodeIDs []uuid.UUID) (store.Group, error) {
	return s.store.CreateGroup(ctx, store.Group{ProjectID: projectID, Name: name, NodeIDs: nodeIDs})
}

// ResolveGroups flattens and dedups node ids across a set of groups.
func (s *Service) ResolveGroups(ctx context.Context, groupIDs []uuid.UUID) ([]uuid.UUID, error) {
	return s.store.ResolveGroupMembers(ctx, groupIDs)
}

// Authenticate resolves either a raw node key or a node bearer token to
// an Identity, matching heartbeat/poll's "accept either" contract
// (spec.md §4.2).
func (s *Service) Authenticate(ctx context.Context, verifier *identity.NodeTokenVerifier, rawKeyOrToken string) (identity.Identity, error) {
	if id, err := verifier.Verify(ctx, rawKeyOrToken); err == nil {
		return id, nil
	}
	id, err := s.nodeKeys.Authenticate(ctx, rawKeyOrToken)
	if err != nil {
		return identity.Identity{}, apperr.New(apperr.InvalidKey, "unrecognized node credential")
	}
	return id, nil
}
