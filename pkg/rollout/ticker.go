package rollout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// Tick is the single-writer state-machine driver (spec.md §4.6.4). It is
// safe to call concurrently for the same rollout id: every transition is
// a CAS against the rollout/step's current state, so a redelivered or
// racing tick that observes a stale precondition simply does nothing.
func (e *Engine) Tick(ctx context.Context, rolloutID uuid.UUID) error {
	r, err := e.store.GetRollout(ctx, rolloutID)
	if err != nil {
		return err
	}
	if r.State != store.RolloutRunning {
		return nil
	}

	steps, err := e.store.ListStepsByRollout(ctx, rolloutID)
	if err != nil {
		return fmt.Errorf("listing steps: %w", err)
	}

	active, hasActive := firstStepIn(steps, store.StepRunning, store.StepVerifying)
	if !hasActive {
		pending, hasPending := firstStepIn(steps, store.StepPending)
		if !hasPending {
			return e.completeRollout(ctx, r, steps)
		}
		return e.startStep(ctx, r, pending)
	}

	if expired, elapsed := e.deadlineExpired(r, active); expired {
		return e.failOnDeadline(ctx, r, active, elapsed)
	}

	switch active.State {
	case store.StepRunning:
		return e.tickRunning(ctx, r, active)
	case store.StepVerifying:
		return e.tickVerifying(ctx, r, active)
	default:
		return nil
	}
}

func firstStepIn(steps []store.RolloutStep, states ...store.RolloutStepState) (store.RolloutStep, bool) {
	for _, s := range steps {
		for _, want := range states {
			if s.State == want {
				return s, true
			}
		}
	}
	return store.RolloutStep{}, false
}

func (e *Engine) startStep(ctx context.Context, r store.Rollout, step store.RolloutStep) error {
	bundle, err := e.store.GetBundle(ctx, r.BundleID)
	if err != nil {
		return err
	}
	if bundle.Status != store.BundleCompiled {
		return e.failRollout(ctx, r, &step, "bundle_revoked", nil)
	}

	now := time.Now().UTC()
	if _, err := e.store.UpdateStepState(ctx, step.ID, store.StepRunning, store.StepStateFields{StartedAt: &now}); err != nil {
		return fmt.Errorf("starting step: %w", err)
	}
	for _, nodeID := range step.NodeIDs {
		if err := e.store.SetNodeStaged(ctx, nodeID, r.BundleID); err != nil {
			return fmt.Errorf("staging node %s: %w", nodeID, err)
		}
		if _, err := e.store.UpdateNodeBundleStatus(ctx, r.ID, nodeID, store.NBStaging, store.NodeBundleStatusFields{StagedAt: &now}); err != nil {
			return fmt.Errorf("updating node bundle status: %w", err)
		}
	}
	return nil
}

func (e *Engine) tickRunning(ctx context.Context, r store.Rollout, step store.RolloutStep) error {
	nodes, err := e.store.ListNodesByIDs(ctx, step.NodeIDs)
	if err != nil {
		return fmt.Errorf("loading step nodes: %w", err)
	}

	activated, unavailable := 0, 0
	for _, n := range nodes {
		if n.ActiveBundleID != nil && *n.ActiveBundleID == r.BundleID {
			activated++
		}
		if n.Status == store.NodeOffline || n.Status == store.NodeUnknown {
			unavailable++
		}
	}

	if r.MaxUnavailable > 0 && unavailable > r.MaxUnavailable {
		reason := "max_unavailable_exceeded"
		_, err := e.store.UpdateRolloutState(ctx, r.ID, store.RolloutRunning, store.RolloutPaused, store.RolloutStateFields{
			Error: &store.RolloutError{Reason: reason},
		})
		if err != nil && !apperr.Is(err, apperr.InvalidState) {
			return err
		}
		return nil
	}

	required := len(step.NodeIDs)
	if r.MaxUnavailable > 0 {
		required = maxInt(len(step.NodeIDs)-r.MaxUnavailable, 0)
	}

	if activated >= required && activated > 0 {
		if _, err := e.store.UpdateStepState(ctx, step.ID, store.StepVerifying, store.StepStateFields{}); err != nil {
			return fmt.Errorf("advancing step to verifying: %w", err)
		}
		for _, nodeID := range step.NodeIDs {
			if _, err := e.store.UpdateNodeBundleStatus(ctx, r.ID, nodeID, store.NBActivating, store.NodeBundleStatusFields{}); err != nil {
				return fmt.Errorf("updating node bundle status: %w", err)
			}
		}
	}
	return nil
}

func (e *Engine) tickVerifying(ctx context.Context, r store.Rollout, step store.RolloutStep) error {
	nodes, err := e.store.ListNodesByIDs(ctx, step.NodeIDs)
	if err != nil {
		return fmt.Errorf("loading step nodes: %w", err)
	}

	available := make([]store.Node, 0, len(nodes))
	for _, n := range nodes {
		unavailable := n.Status == store.NodeOffline || n.Status == store.NodeUnknown
		if r.MaxUnavailable == 0 || !unavailable {
			available = append(available, n)
		}
	}

	passed, err := evaluateGates(ctx, e.store, e.prober, r.HealthGates, r.CustomHealthChecks, available)
	if err != nil {
		return fmt.Errorf("evaluating health gates: %w", err)
	}
	if !passed {
		return nil
	}

	now := time.Now().UTC()
	if _, err := e.store.UpdateStepState(ctx, step.ID, store.StepCompleted, store.StepStateFields{CompletedAt: &now}); err != nil {
		return fmt.Errorf("completing step: %w", err)
	}
	for _, nodeID := range step.NodeIDs {
		if _, err := e.store.UpdateNodeBundleStatus(ctx, r.ID, nodeID, store.NBActive, store.NodeBundleStatusFields{
			ActivatedAt: &now, VerifiedAt: &now,
		}); err != nil {
			return fmt.Errorf("activating node bundle status: %w", err)
		}
	}
	if err := e.store.SetExpectedBundle(ctx, step.NodeIDs, r.BundleID); err != nil {
		return fmt.Errorf("setting expected bundle: %w", err)
	}
	return nil
}

func (e *Engine) completeRollout(ctx context.Context, r store.Rollout, steps []store.RolloutStep) error {
	now := time.Now().UTC()
	_, err := e.store.UpdateRolloutState(ctx, r.ID, store.RolloutRunning, store.RolloutCompleted, store.RolloutStateFields{CompletedAt: &now})
	if err != nil {
		if apperr.Is(err, apperr.InvalidState) {
			return nil
		}
		return fmt.Errorf("completing rollout: %w", err)
	}

	var allNodes []uuid.UUID
	for _, s := range steps {
		allNodes = append(allNodes, s.NodeIDs...)
	}
	events, err := e.store.ListActiveDriftEventsForNodes(ctx, allNodes, r.BundleID)
	if err != nil {
		return fmt.Errorf("listing active drift events: %w", err)
	}
	for _, ev := range events {
		if _, err := e.store.ResolveDriftEvent(ctx, ev.ID, store.ResolutionRolloutComplete, now); err != nil {
			return fmt.Errorf("resolving drift event %s: %w", ev.ID, err)
		}
	}
	return nil
}

func (e *Engine) failRollout(ctx context.Context, r store.Rollout, step *store.RolloutStep, reason string, stepIndex *int) error {
	now := time.Now().UTC()
	if step != nil {
		if _, err := e.store.UpdateStepState(ctx, step.ID, store.StepFailed, store.StepStateFields{
			CompletedAt: &now, Error: &store.RolloutError{Reason: reason},
		}); err != nil {
			return fmt.Errorf("failing step: %w", err)
		}
	}
	_, err := e.store.UpdateRolloutState(ctx, r.ID, store.RolloutRunning, store.RolloutFailed, store.RolloutStateFields{
		CompletedAt: &now, Error: &store.RolloutError{Reason: reason, StepIndex: stepIndex},
	})
	if err != nil && !apperr.Is(err, apperr.InvalidState) {
		return fmt.Errorf("failing rollout: %w", err)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
