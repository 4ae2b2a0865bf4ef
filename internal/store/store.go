package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RolloutPlan is the transactional write produced by the rollout planner:
// newly created steps, their initial NodeBundleStatus rows, and the
// rollout's own pending→running transition, applied atomically.
type RolloutPlan struct {
	Rollout  Rollout
	Steps    []RolloutStep
	Statuses []NodeBundleStatus
}

// RolloutRollback is the transactional write produced by the operator
// "rollback" transition: the rollout's terminal state plus every node
// whose staged_bundle_id pointed at the rollout's bundle reset to nil.
type RolloutRollback struct {
	RolloutID      uuid.UUID
	ResetNodeIDs   []uuid.UUID
}

// Store is the durable persistence interface every engine component is
// built against (spec §3, §4.1). internal/store/postgres and
// internal/store/memory both satisfy it.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, o Organization) (Organization, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error)

	// Projects
	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (Project, error)

	// Environments
	CreateEnvironment(ctx context.Context, e Environment) (Environment, error)
	GetEnvironment(ctx context.Context, id uuid.UUID) (Environment, error)
	ListEnvironmentsByProject(ctx context.Context, projectID uuid.UUID) ([]Environment, error)

	// Bundles
	CreateBundle(ctx context.Context, b Bundle) (Bundle, error)
	GetBundle(ctx context.Context, id uuid.UUID) (Bundle, error)
	GetBundleByProjectVersion(ctx context.Context, projectID uuid.UUID, version string) (Bundle, error)
	ListBundlesByProject(ctx context.Context, projectID uuid.UUID) ([]Bundle, error)
	// ListPendingBundleIDs returns every bundle id still awaiting
	// compilation, across all projects, for the compile dispatch job.
	ListPendingBundleIDs(ctx context.Context) ([]uuid.UUID, error)
	DeleteBundle(ctx context.Context, id uuid.UUID) error
	// ClaimBundleForCompile atomically transitions pending→compiling,
	// returning false if the bundle was not pending.
	ClaimBundleForCompile(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateBundleCompiled(ctx context.Context, id uuid.UUID, fields BundleCompiledFields) (Bundle, error)
	UpdateBundleFailed(ctx context.Context, id uuid.UUID, compilerOutput string) (Bundle, error)
	RevokeBundle(ctx context.Context, id uuid.UUID) (Bundle, error)
	GetLatestCompiledBundle(ctx context.Context, projectID uuid.UUID) (Bundle, error)

	// Bundle promotions
	CreateBundlePromotion(ctx context.Context, p BundlePromotion) (BundlePromotion, error)
	IsPromoted(ctx context.Context, bundleID, environmentID uuid.UUID) (bool, error)
	ListPromotionsForBundle(ctx context.Context, bundleID uuid.UUID) ([]BundlePromotion, error)

	// Nodes
	CreateNode(ctx context.Context, n Node) (Node, error)
	GetNode(ctx context.Context, id uuid.UUID) (Node, error)
	GetNodeByProjectName(ctx context.Context, projectID uuid.UUID, name string) (Node, error)
	ListNodesByProject(ctx context.Context, projectID uuid.UUID) ([]Node, error)
	ListNodesByIDs(ctx context.Context, ids []uuid.UUID) ([]Node, error)
	ListNodesByLabels(ctx context.Context, projectID uuid.UUID, want map[string]string) ([]Node, error)
	GetNodeByKeyHash(ctx context.Context, keyHash string) (Node, error)
	// ListAllNodeIDs returns every node id across all projects, for the
	// periodic drift scan job.
	ListAllNodeIDs(ctx context.Context) ([]uuid.UUID, error)
	UpdateNodeRuntimeConfig(ctx context.Context, nodeID uuid.UUID, configHash string) error
	// CreateNodeEvents batch-inserts one or more reported events.
	CreateNodeEvents(ctx context.Context, events []NodeEvent) ([]NodeEvent, error)
	ListNodeEventsByNode(ctx context.Context, nodeID uuid.UUID, limit int) ([]NodeEvent, error)
	TrimNodeEvents(ctx context.Context, nodeID uuid.UUID, cap int) error
	// RecordHeartbeat updates the node row and appends a heartbeat in one
	// transaction (spec §4.4 "Heartbeat").
	RecordHeartbeat(ctx context.Context, nodeID uuid.UUID, hb NodeHeartbeat, fields HeartbeatNodeFields) (Node, NodeHeartbeat, error)
	GetLatestHeartbeat(ctx context.Context, nodeID uuid.UUID) (NodeHeartbeat, error)
	TrimHeartbeats(ctx context.Context, nodeID uuid.UUID, cap int) error
	// SweepStaleNodes moves status=online nodes whose last_seen_at is
	// older than cutoff to offline, returning affected node ids.
	SweepStaleNodes(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	// SetExpectedBundle bulk-sets expected_bundle_id for the given nodes.
	SetExpectedBundle(ctx context.Context, nodeIDs []uuid.UUID, bundleID uuid.UUID) error
	// ResetStagedForBundle clears staged_bundle_id on any node still
	// pointing at bundleID, returning affected node ids.
	ResetStagedForBundle(ctx context.Context, bundleID uuid.UUID) ([]uuid.UUID, error)
	SetNodeStaged(ctx context.Context, nodeID uuid.UUID, bundleID uuid.UUID) error

	// Drift events
	GetActiveDriftEvent(ctx context.Context, nodeID uuid.UUID) (DriftEvent, error)
	ListActiveDriftEventsForNodes(ctx context.Context, nodeIDs []uuid.UUID, expectedBundleID uuid.UUID) ([]DriftEvent, error)
	OpenDriftEvent(ctx context.Context, e DriftEvent) (DriftEvent, error)
	ResolveDriftEvent(ctx context.Context, id uuid.UUID, resolution DriftResolution, resolvedAt time.Time) (DriftEvent, error)

	// Rollouts
	CreateRollout(ctx context.Context, r Rollout) (Rollout, error)
	GetRollout(ctx context.Context, id uuid.UUID) (Rollout, error)
	ListRolloutsByProject(ctx context.Context, projectID uuid.UUID) ([]Rollout, error)
	ListDueScheduledRollouts(ctx context.Context, now time.Time) ([]Rollout, error)
	// ListRunningRolloutIDs returns every rollout currently in the
	// running state, across all projects, for the ticker dispatch job.
	ListRunningRolloutIDs(ctx context.Context) ([]uuid.UUID, error)
	// UpdateRolloutState is a CAS: it only applies if the rollout's
	// current state equals from.
	UpdateRolloutState(ctx context.Context, id uuid.UUID, from, to RolloutState, fields RolloutStateFields) (Rollout, error)
	UpdateRolloutApproval(ctx context.Context, id uuid.UUID, state ApprovalState) (Rollout, error)

	// Plan / rollback transactions
	PlanRollout(ctx context.Context, plan RolloutPlan) error
	RollbackRollout(ctx context.Context, rollback RolloutRollback, to RolloutState) error

	// Rollout steps
	ListStepsByRollout(ctx context.Context, rolloutID uuid.UUID) ([]RolloutStep, error)
	UpdateStepState(ctx context.Context, id uuid.UUID, state RolloutStepState, fields StepStateFields) (RolloutStep, error)

	// Node bundle statuses
	ListStatusesByStep(ctx context.Context, rolloutID uuid.UUID, nodeIDs []uuid.UUID) ([]NodeBundleStatus, error)
	ListStatusesByRollout(ctx context.Context, rolloutID uuid.UUID) ([]NodeBundleStatus, error)
	UpdateNodeBundleStatus(ctx context.Context, rolloutID, nodeID uuid.UUID, state NodeBundleState, fields NodeBundleStatusFields) (NodeBundleStatus, error)

	// Rollout approvals
	CreateRolloutApproval(ctx context.Context, a RolloutApproval) (RolloutApproval, error)
	ListRolloutApprovals(ctx context.Context, rolloutID uuid.UUID) ([]RolloutApproval, error)

	// Signing keys
	CreateSigningKey(ctx context.Context, k SigningKey) (SigningKey, error)
	GetSigningKey(ctx context.Context, id uuid.UUID) (SigningKey, error)
	MostRecentActiveSigningKey(ctx context.Context, orgID uuid.UUID) (SigningKey, error)

	// Groups
	CreateGroup(ctx context.Context, g Group) (Group, error)
	GetGroup(ctx context.Context, id uuid.UUID) (Group, error)
	ListGroupsByProject(ctx context.Context, projectID uuid.UUID) ([]Group, error)
	ResolveGroupMembers(ctx context.Context, groupIDs []uuid.UUID) ([]uuid.UUID, error)
}

// BundleCompiledFields carries the derived fields written atomically when a
// bundle transitions to compiled.
type BundleCompiledFields struct {
	Checksum       string
	SizeBytes      int64
	StorageKey     string
	Manifest       *Manifest
	CompilerOutput string
	RiskLevel      RiskLevel
	RiskReasons    []string
	Signature      string
	SigningKeyID   *uuid.UUID
	SBOM           []byte
}

// HeartbeatNodeFields are the node-row fields a heartbeat may update.
type HeartbeatNodeFields struct {
	Version        string
	IP             string
	Hostname       string
	ActiveBundleID *uuid.UUID
	StagedBundleID *uuid.UUID
}

// RolloutStateFields are optional fields set alongside a rollout state
// transition.
type RolloutStateFields struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *RolloutError
}

// StepStateFields are optional fields set alongside a step state
// transition.
type StepStateFields struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *RolloutError
}

// NodeBundleStatusFields are optional fields set alongside a
// NodeBundleStatus transition.
type NodeBundleStatusFields struct {
	StagedAt     *time.Time
	ActivatedAt  *time.Time
	VerifiedAt   *time.Time
	LastReportAt *time.Time
}
