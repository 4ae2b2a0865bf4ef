// Package rollout implements Sentinel-CP's rollout engine: a planner
// that resolves targets and chunks them into batches, and a
// single-writer ticker that drives each batch through staging,
// activation, and verification (spec.md §4.6).
package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// Engine owns rollout business logic: planning, ticking, operator
// transitions, and approvals.
type Engine struct {
	store  store.Store
	prober HealthEndpointProber
	logger *slog.Logger
}

// New creates a rollout Engine. prober may be nil if no project in this
// deployment uses custom_health_checks.
func New(s store.Store, prober HealthEndpointProber, logger *slog.Logger) *Engine {
	return &Engine{store: s, prober: prober, logger: logger}
}

// Create writes a new rollout row (spec.md §4.6.2): pending, with
// approval_state set according to whether the project requires
// approval.
func (e *Engine) Create(ctx context.Context, r store.Rollout, approvalRequired bool) (store.Rollout, error) {
	r.State = store.RolloutPending
	if approvalRequired {
		r.ApprovalState = store.ApprovalPending
	} else {
		r.ApprovalState = store.ApprovalNotRequired
	}
	return e.store.CreateRollout(ctx, r)
}

// Pause transitions running → paused; a no-op otherwise (spec.md §4.6.6).
func (e *Engine) Pause(ctx context.Context, rolloutID uuid.UUID) (store.Rollout, error) {
	out, err := e.store.UpdateRolloutState(ctx, rolloutID, store.RolloutRunning, store.RolloutPaused, store.RolloutStateFields{})
	if apperr.Is(err, apperr.InvalidState) {
		return e.store.GetRollout(ctx, rolloutID)
	}
	return out, err
}

// Resume transitions paused → running and signals the caller to
// enqueue a Tick.
func (e *Engine) Resume(ctx context.Context, rolloutID uuid.UUID) (store.Rollout, error) {
	return e.store.UpdateRolloutState(ctx, rolloutID, store.RolloutPaused, store.RolloutRunning, store.RolloutStateFields{})
}

// Cancel transitions running, paused, or pending(rejected) to cancelled
// (spec.md §4.6.6).
func (e *Engine) Cancel(ctx context.Context, rolloutID uuid.UUID) (store.Rollout, error) {
	r, err := e.store.GetRollout(ctx, rolloutID)
	if err != nil {
		return store.Rollout{}, err
	}
	now := time.Now().UTC()
	switch r.State {
	case store.RolloutRunning, store.RolloutPaused:
		return e.store.UpdateRolloutState(ctx, rolloutID, r.State, store.RolloutCancelled, store.RolloutStateFields{CompletedAt: &now})
	case store.RolloutPending:
		if r.ApprovalState != store.ApprovalRejected {
			return store.Rollout{}, apperr.New(apperr.InvalidState, "pending rollout is only cancellable once rejected")
		}
		return e.store.UpdateRolloutState(ctx, rolloutID, store.RolloutPending, store.RolloutCancelled, store.RolloutStateFields{CompletedAt: &now})
	default:
		return store.Rollout{}, apperr.New(apperr.InvalidState, "rollout is not in a cancellable state")
	}
}

// Rollback transitions running/paused → cancelled and clears
// staged_bundle_id on every node still staged to this rollout's bundle
// (spec.md §4.6.6), transactionally.
func (e *Engine) Rollback(ctx context.Context, rolloutID uuid.UUID) (store.Rollout, error) {
	r, err := e.store.GetRollout(ctx, rolloutID)
	if err != nil {
		return store.Rollout{}, err
	}
	if r.State != store.RolloutRunning && r.State != store.RolloutPaused {
		return store.Rollout{}, apperr.New(apperr.InvalidState, "rollout is not running or paused")
	}

	steps, err := e.store.ListStepsByRollout(ctx, rolloutID)
	if err != nil {
		return store.Rollout{}, fmt.Errorf("listing rollout steps: %w", err)
	}
	var allNodeIDs []uuid.UUID
	for _, st := range steps {
		allNodeIDs = append(allNodeIDs, st.NodeIDs...)
	}

	nodes, err := e.store.ListNodesByIDs(ctx, allNodeIDs)
	if err != nil {
		return store.Rollout{}, fmt.Errorf("loading rollout nodes: %w", err)
	}
	var resetNodeIDs []uuid.UUID
	for _, n := range nodes {
		if n.StagedBundleID != nil && *n.StagedBundleID == r.BundleID {
			resetNodeIDs = append(resetNodeIDs, n.ID)
		}
	}

	if err := e.store.RollbackRollout(ctx, store.RolloutRollback{RolloutID: rolloutID, ResetNodeIDs: resetNodeIDs}, store.RolloutCancelled); err != nil {
		return store.Rollout{}, fmt.Errorf("rolling back rollout: %w", err)
	}
	return e.store.GetRollout(ctx, rolloutID)
}

// TriggerAutoRemediation implements drift.RolloutTrigger: it creates and
// immediately plans an all-at-once rollout targeting a single drifted
// node (spec.md §4.5, §4.6 scenario 3).
func (e *Engine) TriggerAutoRemediation(ctx context.Context, projectID, nodeID, bundleID uuid.UUID) error {
	r, err := e.store.CreateRollout(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       bundleID,
		TargetSelector: store.TargetSelector{Kind: store.TargetNodeIDs, NodeIDs: []uuid.UUID{nodeID}},
		Strategy:       store.StrategyAllAtOnce,
		ApprovalState:  store.ApprovalNotRequired,
	})
	if err != nil {
		return fmt.Errorf("creating auto-remediation rollout: %w", err)
	}
	if _, err := e.Plan(ctx, r.ID); err != nil {
		return fmt.Errorf("planning auto-remediation rollout: %w", err)
	}
	return nil
}

// RunDueScheduled plans every scheduled rollout whose scheduled_at has
// arrived and whose approval gate has cleared (spec.md §4.6.7). Intended
// to be invoked by a Dispatcher cron job.
func (e *Engine) RunDueScheduled(ctx context.Context) error {
	due, err := e.store.ListDueScheduledRollouts(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("listing due scheduled rollouts: %w", err)
	}
	for _, r := range due {
		if r.ApprovalState != store.ApprovalApproved && r.ApprovalState != store.ApprovalNotRequired {
			continue
		}
		if _, err := e.Plan(ctx, r.ID); err != nil {
			e.logger.Error("planning scheduled rollout", "rollout_id", r.ID, "error", err)
		}
	}
	return nil
}
