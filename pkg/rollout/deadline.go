package rollout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

// deadlineExpired reports whether the active step has exceeded the
// rollout's progress deadline (spec.md §4.6.5).
func (e *Engine) deadlineExpired(r store.Rollout, step store.RolloutStep) (bool, int64) {
	if step.StartedAt == nil || r.ProgressDeadlineSec <= 0 {
		return false, 0
	}
	elapsed := time.Since(*step.StartedAt)
	if elapsed.Seconds() <= float64(r.ProgressDeadlineSec) {
		return false, 0
	}
	return true, int64(elapsed.Seconds())
}

// failOnDeadline fails the step and rollout, then optionally plans an
// all-at-once auto-rollback rollout (spec.md §4.6.5).
func (e *Engine) failOnDeadline(ctx context.Context, r store.Rollout, step store.RolloutStep, elapsed int64) error {
	stepIndex := step.StepIndex
	now := time.Now().UTC()

	if _, err := e.store.UpdateStepState(ctx, step.ID, store.StepFailed, store.StepStateFields{
		CompletedAt: &now,
		Error:       &store.RolloutError{Reason: "deadline_exceeded", ElapsedSeconds: &elapsed},
	}); err != nil {
		return fmt.Errorf("failing step on deadline: %w", err)
	}

	_, err := e.store.UpdateRolloutState(ctx, r.ID, store.RolloutRunning, store.RolloutFailed, store.RolloutStateFields{
		CompletedAt: &now,
		Error:       &store.RolloutError{Reason: "step_deadline_exceeded", StepIndex: &stepIndex, ElapsedSeconds: &elapsed},
	})
	if err != nil {
		return fmt.Errorf("failing rollout on deadline: %w", err)
	}

	if !r.AutoRollback {
		return nil
	}
	return e.planAutoRollback(ctx, r, step)
}

// planAutoRollback selects the previous active_bundle_id most common
// among the step's nodes (tie-break: highest count, then
// lexicographically smallest id), then creates and plans an
// all-at-once rollout back to it.
func (e *Engine) planAutoRollback(ctx context.Context, r store.Rollout, step store.RolloutStep) error {
	nodes, err := e.store.ListNodesByIDs(ctx, step.NodeIDs)
	if err != nil {
		return fmt.Errorf("loading step nodes: %w", err)
	}

	counts := make(map[uuid.UUID]int)
	for _, n := range nodes {
		if n.ActiveBundleID != nil {
			counts[*n.ActiveBundleID]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	var candidate uuid.UUID
	best := -1
	for id, count := range counts {
		if count > best || (count == best && id.String() < candidate.String()) {
			candidate, best = id, count
		}
	}

	rollback, err := e.store.CreateRollout(ctx, store.Rollout{
		ProjectID:           r.ProjectID,
		BundleID:            candidate,
		TargetSelector:      store.TargetSelector{Kind: store.TargetNodeIDs, NodeIDs: step.NodeIDs},
		Strategy:            store.StrategyAllAtOnce,
		ProgressDeadlineSec: r.ProgressDeadlineSec,
		HealthGates:         r.HealthGates,
		CreatedByID:         r.CreatedByID,
		ApprovalState:       store.ApprovalNotRequired,
	})
	if err != nil {
		return fmt.Errorf("creating auto-rollback rollout: %w", err)
	}

	if _, err := e.Plan(ctx, rollback.ID); err != nil {
		return fmt.Errorf("planning auto-rollback rollout: %w", err)
	}
	return nil
}
