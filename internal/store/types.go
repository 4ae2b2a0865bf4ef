// Package store defines the durable entity model for Sentinel-CP (spec §3)
// and the Store interface every engine component is built against.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the root of the tenant tree.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Project belongs to one Organization.
type Project struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	Slug           string
	Name           string
	ApprovalsNeeded int  // 0 means approval is not required
	DriftAutoRemediation bool
	CreatedAt      time.Time
}

// RequiresApproval reports whether rollouts in this project need approval.
func (p Project) RequiresApproval() bool { return p.ApprovalsNeeded > 0 }

// Environment belongs to one Project and carries a total promotion order.
type Environment struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Ordinal   int
	CreatedAt time.Time
}

// BundleStatus is the lifecycle state of a Bundle.
type BundleStatus string

const (
	BundlePending    BundleStatus = "pending"
	BundleCompiling  BundleStatus = "compiling"
	BundleCompiled   BundleStatus = "compiled"
	BundleFailed     BundleStatus = "failed"
	BundleRevoked    BundleStatus = "revoked"
	BundleSuperseded BundleStatus = "superseded"
)

// RiskLevel classifies a bundle's config-change risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// BundleSourceType records how a bundle's config_source was authored.
type BundleSourceType string

const (
	BundleSourceAPI BundleSourceType = "api"
	BundleSourceGit BundleSourceType = "git"
)

// ManifestFile is one entry in a Bundle's manifest.
type ManifestFile struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// Manifest is the content of manifest.json embedded in a bundle archive.
type Manifest struct {
	BundleID    uuid.UUID      `json:"bundle_id"`
	AssembledAt time.Time      `json:"assembled_at"`
	Files       []ManifestFile `json:"files"`
}

// Bundle is an immutable, content-addressed configuration artifact.
type Bundle struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	Version       string
	Status        BundleStatus
	Checksum      string
	SizeBytes     int64
	StorageKey    string
	ConfigSource  string
	Manifest      *Manifest
	CompilerOutput string
	RiskLevel     RiskLevel
	RiskReasons   []string
	Signature     string
	SigningKeyID  *uuid.UUID
	SourceType    BundleSourceType
	SourceRef     string
	SBOM          []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsCompiled reports whether the bundle may be distributed to nodes.
func (b Bundle) IsCompiled() bool { return b.Status == BundleCompiled }

// BundlePromotion records that a bundle has been promoted to an environment.
type BundlePromotion struct {
	ID            uuid.UUID
	BundleID      uuid.UUID
	EnvironmentID uuid.UUID
	PromotedAt    time.Time
}

// NodeStatus is the liveness state of a Node.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
	NodeUnknown NodeStatus = "unknown"
)

// Node is a running proxy instance.
type Node struct {
	ID                uuid.UUID
	ProjectID         uuid.UUID
	EnvironmentID     *uuid.UUID
	Name              string
	Labels            map[string]string
	Capabilities      []string
	Version           string
	Status            NodeStatus
	LastSeenAt        time.Time
	RegisteredAt      time.Time
	IP                string
	Hostname          string
	NodeKeyHash       string
	ActiveBundleID    *uuid.UUID
	StagedBundleID    *uuid.UUID
	ExpectedBundleID  *uuid.UUID
	PinnedBundleID    *uuid.UUID
	MinBundleVersion  string
	MaxBundleVersion  string
}

// LabelsSuperset reports whether n.Labels contains every key/value in want.
func (n Node) LabelsSuperset(want map[string]string) bool {
	for k, v := range want {
		if n.Labels[k] != v {
			return false
		}
	}
	return true
}

// NodeHeartbeat is an append-only time-series row per heartbeat.
type NodeHeartbeat struct {
	ID             uuid.UUID
	NodeID         uuid.UUID
	Health         map[string]string
	Metrics        map[string]float64
	ActiveBundleID *uuid.UUID
	StagedBundleID *uuid.UUID
	Version        string
	InsertedAt     time.Time
}

// HealthStatus returns the recognized "status" key from Health.
func (h NodeHeartbeat) HealthStatus() string { return h.Health["status"] }

// DriftResolution explains why a DriftEvent was resolved.
type DriftResolution string

const (
	ResolutionManual          DriftResolution = "manual"
	ResolutionRolloutStarted  DriftResolution = "rollout_started"
	ResolutionRolloutComplete DriftResolution = "rollout_completed"
	ResolutionAutoCleared     DriftResolution = "auto_cleared"
)

// DriftEvent is opened when a node's active bundle diverges from expected.
type DriftEvent struct {
	ID               uuid.UUID
	NodeID           uuid.UUID
	ProjectID        uuid.UUID
	ExpectedBundleID uuid.UUID
	ActualBundleID   *uuid.UUID
	DetectedAt       time.Time
	ResolvedAt       *time.Time
	Resolution       DriftResolution
}

// Unresolved reports whether the drift event is still open.
func (d DriftEvent) Unresolved() bool { return d.ResolvedAt == nil }

// RolloutStrategy controls how a rollout's target set is chunked.
type RolloutStrategy string

const (
	StrategyRolling   RolloutStrategy = "rolling"
	StrategyAllAtOnce RolloutStrategy = "all_at_once"
)

// RolloutState is the lifecycle state of a Rollout.
type RolloutState string

const (
	RolloutPending   RolloutState = "pending"
	RolloutRunning   RolloutState = "running"
	RolloutPaused    RolloutState = "paused"
	RolloutCompleted RolloutState = "completed"
	RolloutFailed    RolloutState = "failed"
	RolloutCancelled RolloutState = "cancelled"
)

// IsTerminal reports whether s is a terminal rollout state.
func (s RolloutState) IsTerminal() bool {
	return s == RolloutCompleted || s == RolloutFailed || s == RolloutCancelled
}

// ApprovalState is the lifecycle state of a Rollout's approval gate.
type ApprovalState string

const (
	ApprovalNotRequired    ApprovalState = "not_required"
	ApprovalPending        ApprovalState = "pending_approval"
	ApprovalApproved       ApprovalState = "approved"
	ApprovalRejected       ApprovalState = "rejected"
)

// TargetSelectorKind discriminates the TargetSelector tagged union.
type TargetSelectorKind string

const (
	TargetAll      TargetSelectorKind = "all"
	TargetLabels   TargetSelectorKind = "labels"
	TargetNodeIDs  TargetSelectorKind = "node_ids"
	TargetGroupIDs TargetSelectorKind = "group_ids"
)

// TargetSelector is the tagged union described in spec §4.6.1.
type TargetSelector struct {
	Kind     TargetSelectorKind `json:"kind"`
	Labels   map[string]string  `json:"labels,omitempty"`
	NodeIDs  []uuid.UUID        `json:"node_ids,omitempty"`
	GroupIDs []uuid.UUID        `json:"group_ids,omitempty"`
}

// HealthGates are the recognized per-rollout health-gate thresholds
// (spec §4.6.1). A nil pointer field means the gate is not configured.
type HealthGates struct {
	HeartbeatHealthy  *bool    `json:"heartbeat_healthy,omitempty"`
	MaxErrorRate      *float64 `json:"max_error_rate,omitempty"`
	MaxLatencyMS      *float64 `json:"max_latency_ms,omitempty"`
	MaxCPUPercent     *float64 `json:"max_cpu_percent,omitempty"`
	MaxMemoryPercent  *float64 `json:"max_memory_percent,omitempty"`
}

// RolloutError is the structured error recorded on a failed rollout or step.
type RolloutError struct {
	Reason         string `json:"reason"`
	StepIndex      *int   `json:"step_index,omitempty"`
	ElapsedSeconds *int64 `json:"elapsed_seconds,omitempty"`
}

// Rollout is the orchestration unit (spec §3 "Rollout").
type Rollout struct {
	ID                  uuid.UUID
	ProjectID           uuid.UUID
	BundleID            uuid.UUID
	TargetSelector      TargetSelector
	Strategy            RolloutStrategy
	BatchSize           int
	BatchPercentage     int
	MaxUnavailable      int
	ProgressDeadlineSec int
	HealthGates         HealthGates
	CustomHealthChecks  []uuid.UUID
	AutoRollback        bool
	ScheduledAt         *time.Time
	State               RolloutState
	ApprovalState       ApprovalState
	StartedAt           *time.Time
	CompletedAt         *time.Time
	Error               *RolloutError
	CreatedByID         uuid.UUID
	CreatedAt           time.Time
}

// RolloutStepState is the lifecycle state of a RolloutStep.
type RolloutStepState string

const (
	StepPending   RolloutStepState = "pending"
	StepRunning   RolloutStepState = "running"
	StepVerifying RolloutStepState = "verifying"
	StepCompleted RolloutStepState = "completed"
	StepFailed    RolloutStepState = "failed"
)

// RolloutStep is one batch of a rollout, immutable except for
// state/timestamps/error.
type RolloutStep struct {
	ID          uuid.UUID
	RolloutID   uuid.UUID
	StepIndex   int
	NodeIDs     []uuid.UUID
	State       RolloutStepState
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       *RolloutError
}

// NodeBundleState is a node's progression within a rollout.
type NodeBundleState string

const (
	NBPending    NodeBundleState = "pending"
	NBStaging    NodeBundleState = "staging"
	NBActivating NodeBundleState = "activating"
	NBActive     NodeBundleState = "active"
	NBFailed     NodeBundleState = "failed"
)

// NodeBundleStatus tracks one node's progression within one rollout.
type NodeBundleStatus struct {
	ID           uuid.UUID
	RolloutID    uuid.UUID
	NodeID       uuid.UUID
	State        NodeBundleState
	StagedAt     *time.Time
	ActivatedAt  *time.Time
	VerifiedAt   *time.Time
	LastReportAt *time.Time
}

// RolloutApproval is one user's approval of a rollout.
type RolloutApproval struct {
	ID        uuid.UUID
	RolloutID uuid.UUID
	UserID    uuid.UUID
	Comment   string
	Approved  bool
	CreatedAt time.Time
}

// SigningKey is a per-org Ed25519 keypair.
type SigningKey struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	PublicKey  []byte
	PrivateKey []byte
	Active     bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
}

// Group is a named set of node ids within a project.
type Group struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	NodeIDs   []uuid.UUID
	CreatedAt time.Time
}

// EventSeverity classifies a NodeEvent reported by an agent.
type EventSeverity string

const (
	EventInfo    EventSeverity = "info"
	EventWarning EventSeverity = "warning"
	EventError   EventSeverity = "error"
)

// NodeEvent is an append-only observability record a node reports about
// itself (spec §4.7 "report_events").
type NodeEvent struct {
	ID         uuid.UUID
	NodeID     uuid.UUID
	ProjectID  uuid.UUID
	EventType  string
	Severity   EventSeverity
	Message    string
	Metadata   map[string]string
	InsertedAt time.Time
}
