package rollout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// Plan resolves targets, chunks them into batches, and writes the
// initial steps/statuses in one transaction, transitioning the rollout
// pending → running (spec.md §4.6.3). The caller is responsible for
// scheduling the first Tick afterward.
func (e *Engine) Plan(ctx context.Context, rolloutID uuid.UUID) (store.Rollout, error) {
	r, err := e.store.GetRollout(ctx, rolloutID)
	if err != nil {
		return store.Rollout{}, err
	}

	if r.ApprovalState != store.ApprovalApproved && r.ApprovalState != store.ApprovalNotRequired {
		return store.Rollout{}, apperr.New(apperr.ApprovalRequired, "rollout requires approval before planning")
	}

	bundle, err := e.store.GetBundle(ctx, r.BundleID)
	if err != nil {
		return store.Rollout{}, err
	}

	targets, err := resolveTargets(ctx, e.store, r.ProjectID, r.TargetSelector, bundle)
	if err != nil {
		return store.Rollout{}, err
	}
	if len(targets) == 0 {
		return store.Rollout{}, apperr.New(apperr.NoTargetNodes, "no nodes match target selector")
	}

	nodeIDs := make([]uuid.UUID, len(targets))
	for i, n := range targets {
		nodeIDs[i] = n.ID
	}

	batches := chunkBatches(r, nodeIDs)

	now := time.Now().UTC()
	steps := make([]store.RolloutStep, len(batches))
	var statuses []store.NodeBundleStatus
	for i, batch := range batches {
		steps[i] = store.RolloutStep{
			RolloutID: r.ID,
			StepIndex: i,
			NodeIDs:   batch,
			State:     store.StepPending,
		}
		for _, nodeID := range batch {
			statuses = append(statuses, store.NodeBundleStatus{
				RolloutID: r.ID,
				NodeID:    nodeID,
				State:     store.NBPending,
			})
		}
	}

	r.State = store.RolloutRunning
	r.StartedAt = &now

	if err := e.store.PlanRollout(ctx, store.RolloutPlan{Rollout: r, Steps: steps, Statuses: statuses}); err != nil {
		return store.Rollout{}, err
	}
	return e.store.GetRollout(ctx, r.ID)
}
