// Package drift implements Sentinel-CP's drift detection and
// auto-remediation (spec.md §4.5): comparing a node's active bundle
// against what the control plane expects, and opening, resolving, or
// escalating the divergence.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

// RolloutTrigger enqueues an auto-remediation rollout targeting a single
// node. Implemented by pkg/rollout.Engine; declared here to avoid a
// dependency cycle (the rollout engine also resolves drift events
// directly against the store on step/rollout completion).
type RolloutTrigger interface {
	TriggerAutoRemediation(ctx context.Context, projectID, nodeID, bundleID uuid.UUID) error
}

// Engine evaluates and acts on a single node's drift state.
type Engine struct {
	store       store.Store
	rateLimiter *RateLimiter
	rollouts    RolloutTrigger
	logger      *slog.Logger
}

// New creates a drift Engine.
func New(s store.Store, rateLimiter *RateLimiter, rollouts RolloutTrigger, logger *slog.Logger) *Engine {
	return &Engine{store: s, rateLimiter: rateLimiter, rollouts: rollouts, logger: logger}
}

// Reconcile implements spec.md §4.5's three-branch evaluation for one
// node, called synchronously after every heartbeat.
func (e *Engine) Reconcile(ctx context.Context, n store.Node) error {
	// Branch 1: nothing is expected of this node, so there can be no drift.
	if n.ExpectedBundleID == nil {
		return e.resolveIfOpen(ctx, n.ID, store.ResolutionAutoCleared)
	}

	// Branch 2: the node matches what's expected; close out any open event.
	// Always recorded as rollout_complete — Reconcile runs off the
	// heartbeat path alone and has no way to tell a rollout-driven match
	// from an operator's manual intervention.
	if n.ActiveBundleID != nil && *n.ActiveBundleID == *n.ExpectedBundleID {
		return e.resolveIfOpen(ctx, n.ID, store.ResolutionRolloutComplete)
	}

	// Branch 3: drift. Open an event if one isn't already active, and
	// consider auto-remediation.
	return e.openOrEscalate(ctx, n)
}

func (e *Engine) resolveIfOpen(ctx context.Context, nodeID uuid.UUID, resolution store.DriftResolution) error {
	existing, err := e.store.GetActiveDriftEvent(ctx, nodeID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("loading active drift event: %w", err)
	}
	if _, err := e.store.ResolveDriftEvent(ctx, existing.ID, resolution, time.Now().UTC()); err != nil {
		return fmt.Errorf("resolving drift event: %w", err)
	}
	return nil
}

func (e *Engine) openOrEscalate(ctx context.Context, n store.Node) error {
	_, err := e.store.GetActiveDriftEvent(ctx, n.ID)
	if err == nil {
		// Already open; nothing further to do until it resolves.
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("checking active drift event: %w", err)
	}

	event := store.DriftEvent{
		NodeID:           n.ID,
		ProjectID:        n.ProjectID,
		ExpectedBundleID: *n.ExpectedBundleID,
		ActualBundleID:   n.ActiveBundleID,
		DetectedAt:       time.Now().UTC(),
	}

	project, projErr := e.store.GetProject(ctx, n.ProjectID)
	if projErr != nil {
		return fmt.Errorf("loading project: %w", projErr)
	}

	// Remediation only fires for online nodes; offline ones are tracked
	// but left alone until they return (spec.md §4.5).
	if n.Status == store.NodeOnline && project.DriftAutoRemediation && e.rateLimiter.Allow(ctx, n.ID, *n.ExpectedBundleID) {
		if err := e.rollouts.TriggerAutoRemediation(ctx, n.ProjectID, n.ID, *n.ExpectedBundleID); err != nil {
			e.logger.Error("auto-remediation rollout trigger failed", "node_id", n.ID, "error", err)
		} else {
			event.Resolution = store.ResolutionRolloutStarted
		}
	}

	if _, err := e.store.OpenDriftEvent(ctx, event); err != nil {
		return fmt.Errorf("opening drift event: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return apperr.Is(err, apperr.NotFound)
}
