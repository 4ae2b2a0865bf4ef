// Package dispatcher runs Sentinel-CP's background jobs (spec.md §4.8):
// cron-scheduled full-fleet scans plus a bounded worker pool that turns
// each scan into individual unit-of-work invocations (each run once;
// dropped if the queue is full), replacing the untracked goroutine spawns spec.md §9
// flags as a redesign candidate.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/internal/telemetry"
	"github.com/sentinelcp/control-plane/pkg/bundle"
	"github.com/sentinelcp/control-plane/pkg/drift"
	"github.com/sentinelcp/control-plane/pkg/noderegistry"
	"github.com/sentinelcp/control-plane/pkg/rollout"
	"github.com/sentinelcp/control-plane/pkg/webhook"
)

// Periods configures how often each cron-shaped job runs.
type Periods struct {
	RolloutTick      time.Duration
	ScheduledRollout time.Duration
	CompileScan      time.Duration
	DriftScan        time.Duration
	LivenessSweep    time.Duration
	Cleanup          time.Duration
	TickDebounce     time.Duration
}

// Dispatcher owns the cron scheduler and worker pool behind every
// Sentinel-CP background job.
type Dispatcher struct {
	store    store.Store
	bundles  *bundle.Service
	rollouts *rollout.Engine
	drift    *drift.Engine
	nodes    *noderegistry.Service
	webhooks *webhook.Deliverer
	rdb      *redis.Client

	periods Periods
	workers int
	jobs    chan func(context.Context)

	heartbeatRowCap int
	eventRowCap     int

	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a Dispatcher. Call Run to start it; Run blocks until ctx
// is cancelled.
func New(
	s store.Store,
	bundles *bundle.Service,
	rollouts *rollout.Engine,
	driftEngine *drift.Engine,
	nodes *noderegistry.Service,
	webhooks *webhook.Deliverer,
	rdb *redis.Client,
	periods Periods,
	workers, heartbeatRowCap, eventRowCap int,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:           s,
		bundles:         bundles,
		rollouts:        rollouts,
		drift:           driftEngine,
		nodes:           nodes,
		webhooks:        webhooks,
		rdb:             rdb,
		periods:         periods,
		workers:         workers,
		jobs:            make(chan func(context.Context), workers*4),
		heartbeatRowCap: heartbeatRowCap,
		eventRowCap:     eventRowCap,
		logger:          logger,
	}
}

// enqueue submits fn to the worker pool, dropping it if the queue is
// saturated rather than blocking the scan that produced it.
func (d *Dispatcher) enqueue(fn func(context.Context)) {
	select {
	case d.jobs <- fn:
	default:
		d.logger.Warn("dispatcher job queue full, dropping job")
	}
}

// Run starts the worker pool and the cron schedule, blocking until ctx
// is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for i := 0; i < d.workers; i++ {
		go d.worker(ctx)
	}

	d.cron = cron.New()
	schedules := []struct {
		name   string
		period time.Duration
		fn     func(context.Context)
	}{
		{"rollout_tick", d.periods.RolloutTick, d.scanRolloutTick},
		{"scheduled_rollout", d.periods.ScheduledRollout, d.scanScheduledRollout},
		{"compile_bundle", d.periods.CompileScan, d.scanCompileBundle},
		{"drift_scan", d.periods.DriftScan, d.scanDrift},
		{"liveness_sweep", d.periods.LivenessSweep, d.runLivenessSweep},
		{"cleanup", d.periods.Cleanup, d.runCleanup},
	}

	for _, sched := range schedules {
		fn := sched.fn
		name := sched.name
		if _, err := d.cron.AddFunc(fmt.Sprintf("@every %s", sched.period), func() {
			d.enqueue(fn)
		}); err != nil {
			return fmt.Errorf("scheduling %s: %w", name, err)
		}
	}

	d.cron.Start()
	d.logger.Info("dispatcher started", "workers", d.workers)

	<-ctx.Done()
	d.logger.Info("dispatcher stopping")
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.jobs:
			fn(ctx)
		}
	}
}

// scanRolloutTick enqueues a Tick for every running rollout, guarding
// each with a short-lived Redis lock so a slow tick doesn't overlap
// with the next scan's enqueue of the same rollout.
func (d *Dispatcher) scanRolloutTick(ctx context.Context) {
	ids, err := d.store.ListRunningRolloutIDs(ctx)
	if err != nil {
		d.logger.Error("listing running rollouts", "error", err)
		return
	}
	for _, id := range ids {
		id := id
		d.enqueue(func(ctx context.Context) { d.tickRollout(ctx, id) })
	}
}

func (d *Dispatcher) tickRollout(ctx context.Context, rolloutID uuid.UUID) {
	lockKey := "sentinelcp:dispatch:tick:" + rolloutID.String()
	acquired, err := d.rdb.SetNX(ctx, lockKey, "1", d.periods.TickDebounce).Result()
	if err != nil {
		d.logger.Warn("acquiring tick lock", "rollout_id", rolloutID, "error", err)
	} else if !acquired {
		return
	}

	telemetry.RolloutTicksTotal.Inc()
	if err := d.rollouts.Tick(ctx, rolloutID); err != nil {
		d.logger.Error("ticking rollout", "rollout_id", rolloutID, "error", err)
	}
}

// scanScheduledRollout plans any scheduled rollout whose start time has
// arrived.
func (d *Dispatcher) scanScheduledRollout(ctx context.Context) {
	if err := d.rollouts.RunDueScheduled(ctx); err != nil {
		d.logger.Error("running due scheduled rollouts", "error", err)
	}
}

// scanCompileBundle enqueues a Compile for every bundle still pending.
func (d *Dispatcher) scanCompileBundle(ctx context.Context) {
	ids, err := d.store.ListPendingBundleIDs(ctx)
	if err != nil {
		d.logger.Error("listing pending bundles", "error", err)
		return
	}
	for _, id := range ids {
		id := id
		d.enqueue(func(ctx context.Context) { d.compileBundle(ctx, id) })
	}
}

func (d *Dispatcher) compileBundle(ctx context.Context, bundleID uuid.UUID) {
	b, err := d.store.GetBundle(ctx, bundleID)
	if err != nil {
		d.logger.Error("loading bundle for compile", "bundle_id", bundleID, "error", err)
		return
	}
	project, err := d.store.GetProject(ctx, b.ProjectID)
	if err != nil {
		d.logger.Error("loading project for compile", "bundle_id", bundleID, "error", err)
		return
	}

	if _, err := d.bundles.Compile(ctx, project.OrgID, bundleID); err != nil {
		d.logger.Error("compiling bundle", "bundle_id", bundleID, "error", err)
	}
}

// scanDrift enqueues a Reconcile for every node across every project.
func (d *Dispatcher) scanDrift(ctx context.Context) {
	ids, err := d.store.ListAllNodeIDs(ctx)
	if err != nil {
		d.logger.Error("listing nodes for drift scan", "error", err)
		return
	}
	for _, id := range ids {
		id := id
		d.enqueue(func(ctx context.Context) { d.reconcileNode(ctx, id) })
	}
}

func (d *Dispatcher) reconcileNode(ctx context.Context, nodeID uuid.UUID) {
	node, err := d.store.GetNode(ctx, nodeID)
	if err != nil {
		d.logger.Error("loading node for drift reconcile", "node_id", nodeID, "error", err)
		return
	}
	if err := d.drift.Reconcile(ctx, node); err != nil {
		d.logger.Error("reconciling node drift", "node_id", nodeID, "error", err)
	}
}

// runLivenessSweep marks nodes offline whose last heartbeat is stale.
func (d *Dispatcher) runLivenessSweep(ctx context.Context) {
	affected, err := d.nodes.LivenessSweep(ctx)
	if err != nil {
		d.logger.Error("liveness sweep", "error", err)
		return
	}
	if len(affected) > 0 {
		telemetry.NodesMarkedOfflineTotal.Add(float64(len(affected)))
		d.logger.Info("liveness sweep marked nodes offline", "count", len(affected))
	}
}

// runCleanup trims each node's heartbeat and event history to its
// configured row cap (spec.md §4.4, §4.7 "bounded history").
func (d *Dispatcher) runCleanup(ctx context.Context) {
	ids, err := d.store.ListAllNodeIDs(ctx)
	if err != nil {
		d.logger.Error("listing nodes for cleanup", "error", err)
		return
	}
	for _, id := range ids {
		if err := d.store.TrimHeartbeats(ctx, id, d.heartbeatRowCap); err != nil {
			d.logger.Warn("trimming heartbeats", "node_id", id, "error", err)
		}
		if err := d.store.TrimNodeEvents(ctx, id, d.eventRowCap); err != nil {
			d.logger.Warn("trimming node events", "node_id", id, "error", err)
		}
	}
}

// DeliverWebhook submits an outbound webhook delivery to the worker
// pool. Called by the operator service layer when a project has a
// webhook endpoint configured for the given event (spec.md §9 "Open
// questions" — endpoint storage is owned by the external operator
// surface, spec.md §1).
func (d *Dispatcher) DeliverWebhook(url, eventType string, payload any) {
	d.enqueue(func(ctx context.Context) {
		err := d.webhooks.Deliver(ctx, webhook.Delivery{URL: url, EventType: eventType, Payload: payload})
		outcome := "delivered"
		if err != nil {
			outcome = "dropped"
			d.logger.Error("delivering webhook", "url", url, "event", eventType, "error", err)
		}
		telemetry.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	})
}
