package rollout_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/internal/store/memory"
	"github.com/sentinelcp/control-plane/pkg/rollout"
)

func newEngine() (*rollout.Engine, *memory.Store) {
	s := memory.New()
	return rollout.New(s, nil, slog.Default()), s
}

func mustCompiledBundle(t *testing.T, s *memory.Store, projectID uuid.UUID) store.Bundle {
	t.Helper()
	ctx := context.Background()
	b, err := s.CreateBundle(ctx, store.Bundle{ProjectID: projectID, Version: "1.0.0"})
	if err != nil {
		t.Fatalf("creating bundle: %v", err)
	}
	if _, err := s.ClaimBundleForCompile(ctx, b.ID); err != nil {
		t.Fatalf("claiming bundle: %v", err)
	}
	b, err = s.UpdateBundleCompiled(ctx, b.ID, store.BundleCompiledFields{
		Checksum: "deadbeef", SizeBytes: 10, StorageKey: "k",
	})
	if err != nil {
		t.Fatalf("compiling bundle: %v", err)
	}
	return b
}

func mustNode(t *testing.T, s *memory.Store, projectID uuid.UUID, name string) store.Node {
	t.Helper()
	n, err := s.CreateNode(context.Background(), store.Node{ProjectID: projectID, Name: name, Status: store.NodeOnline})
	if err != nil {
		t.Fatalf("creating node %s: %v", name, err)
	}
	return n
}

func heartbeatHealthy(t *testing.T, s *memory.Store, nodeID, bundleID uuid.UUID) {
	t.Helper()
	status := "healthy"
	_, _, err := s.RecordHeartbeat(context.Background(), nodeID, store.NodeHeartbeat{
		Health: map[string]string{"status": status},
	}, store.HeartbeatNodeFields{ActiveBundleID: &bundleID})
	if err != nil {
		t.Fatalf("recording heartbeat: %v", err)
	}
}

// Scenario 1: happy rolling rollout (spec.md §8 scenario 1).
func TestHappyRollingRollout(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()

	b := mustCompiledBundle(t, s, projectID)
	n1 := mustNode(t, s, projectID, "n1")
	n2 := mustNode(t, s, projectID, "n2")
	n3 := mustNode(t, s, projectID, "n3")

	heartbeatHealthy(t, s, n1.ID, uuid.Nil)
	heartbeatHealthy(t, s, n2.ID, uuid.Nil)
	heartbeatHealthy(t, s, n3.ID, uuid.Nil)

	trueVal := true
	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyRolling,
		BatchSize:      2,
		HealthGates:    store.HealthGates{HeartbeatHealthy: &trueVal},
		MaxUnavailable: 0,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}

	r, err = engine.Plan(ctx, r.ID)
	if err != nil {
		t.Fatalf("planning rollout: %v", err)
	}

	steps, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("listing steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if len(steps[0].NodeIDs) != 2 || len(steps[1].NodeIDs) != 1 {
		t.Fatalf("expected batches of [2,1], got [%d,%d]", len(steps[0].NodeIDs), len(steps[1].NodeIDs))
	}

	// Drive the rollout to completion, having nodes "activate" between ticks.
	for i := 0; i < 8; i++ {
		if err := engine.Tick(ctx, r.ID); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		// Simulate nodes reporting active_bundle_id once staged.
		for _, n := range []store.Node{n1, n2, n3} {
			cur, err := s.GetNode(ctx, n.ID)
			if err != nil {
				t.Fatalf("getting node: %v", err)
			}
			if cur.StagedBundleID != nil && (cur.ActiveBundleID == nil || *cur.ActiveBundleID != *cur.StagedBundleID) {
				heartbeatHealthy(t, s, n.ID, *cur.StagedBundleID)
			}
		}
		final, err := s.GetRollout(ctx, r.ID)
		if err != nil {
			t.Fatalf("getting rollout: %v", err)
		}
		if final.State.IsTerminal() {
			break
		}
	}

	final, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("getting rollout: %v", err)
	}
	if final.State != store.RolloutCompleted {
		t.Fatalf("expected rollout completed, got %s", final.State)
	}

	for _, n := range []store.Node{n1, n2, n3} {
		cur, err := s.GetNode(ctx, n.ID)
		if err != nil {
			t.Fatalf("getting node: %v", err)
		}
		if cur.ExpectedBundleID == nil || *cur.ExpectedBundleID != b.ID {
			t.Fatalf("node %s expected bundle not set to %s", n.Name, b.ID)
		}
	}
}

// Boundary: zero target nodes leaves the rollout pending with no_target_nodes.
func TestPlanNoTargetNodes(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()
	b := mustCompiledBundle(t, s, projectID)

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyAllAtOnce,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}

	_, err = engine.Plan(ctx, r.ID)
	if !apperr.Is(err, apperr.NoTargetNodes) {
		t.Fatalf("expected no_target_nodes, got %v", err)
	}

	got, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("getting rollout: %v", err)
	}
	if got.State != store.RolloutPending {
		t.Fatalf("expected rollout to remain pending, got %s", got.State)
	}
}

// Boundary: batch_percentage=1 with 200 nodes yields 200 single-node batches.
func TestBatchPercentageOnePercentWith200Nodes(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()
	b := mustCompiledBundle(t, s, projectID)

	for i := 0; i < 200; i++ {
		mustNode(t, s, projectID, uuid.NewString())
	}

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:       projectID,
		BundleID:        b.ID,
		TargetSelector:  store.TargetSelector{Kind: store.TargetAll},
		Strategy:        store.StrategyRolling,
		BatchPercentage: 1,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	r, err = engine.Plan(ctx, r.ID)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}
	steps, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("listing steps: %v", err)
	}
	if len(steps) != 200 {
		t.Fatalf("expected 200 batches, got %d", len(steps))
	}
	for _, st := range steps {
		if len(st.NodeIDs) != 1 {
			t.Fatalf("expected batch of 1, got %d", len(st.NodeIDs))
		}
	}
}

// Boundary: batch_percentage=100 yields a single batch.
func TestBatchPercentageHundredYieldsSingleBatch(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()
	b := mustCompiledBundle(t, s, projectID)
	for i := 0; i < 5; i++ {
		mustNode(t, s, projectID, uuid.NewString())
	}
	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:       projectID,
		BundleID:        b.ID,
		TargetSelector:  store.TargetSelector{Kind: store.TargetAll},
		Strategy:        store.StrategyRolling,
		BatchPercentage: 100,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	r, err = engine.Plan(ctx, r.ID)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}
	steps, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("listing steps: %v", err)
	}
	if len(steps) != 1 || len(steps[0].NodeIDs) != 5 {
		t.Fatalf("expected single batch of 5, got %d steps", len(steps))
	}
}

// Scenario 2: deadline rollback (spec.md §8 scenario 2).
func TestDeadlineAutoRollback(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()

	oldBundle := mustCompiledBundle(t, s, projectID)
	n1 := mustNode(t, s, projectID, "n1")
	n2 := mustNode(t, s, projectID, "n2")

	// Nodes currently run oldBundle.
	heartbeatHealthy(t, s, n1.ID, oldBundle.ID)
	heartbeatHealthy(t, s, n2.ID, oldBundle.ID)

	newBundle, err := s.CreateBundle(ctx, store.Bundle{ProjectID: projectID, Version: "2.0.0"})
	if err != nil {
		t.Fatalf("creating bundle: %v", err)
	}
	if _, err := s.ClaimBundleForCompile(ctx, newBundle.ID); err != nil {
		t.Fatalf("claiming: %v", err)
	}
	newBundle, err = s.UpdateBundleCompiled(ctx, newBundle.ID, store.BundleCompiledFields{
		Checksum: "c2", SizeBytes: 5, StorageKey: "k2",
	})
	if err != nil {
		t.Fatalf("compiling: %v", err)
	}

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:           projectID,
		BundleID:            newBundle.ID,
		TargetSelector:      store.TargetSelector{Kind: store.TargetAll},
		Strategy:            store.StrategyAllAtOnce,
		ProgressDeadlineSec: 1,
		AutoRollback:        true,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	r, err = engine.Plan(ctx, r.ID)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}

	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("deadline tick: %v", err)
	}

	failed, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("getting rollout: %v", err)
	}
	if failed.State != store.RolloutFailed {
		t.Fatalf("expected failed, got %s", failed.State)
	}
	if failed.Error == nil || failed.Error.Reason != "step_deadline_exceeded" {
		t.Fatalf("expected step_deadline_exceeded, got %+v", failed.Error)
	}

	rollouts, err := s.ListRolloutsByProject(ctx, projectID)
	if err != nil {
		t.Fatalf("listing rollouts: %v", err)
	}
	var rollback *store.Rollout
	for i := range rollouts {
		if rollouts[i].ID != r.ID {
			rollback = &rollouts[i]
		}
	}
	if rollback == nil {
		t.Fatalf("expected an auto-rollback rollout to be created")
	}
	if rollback.BundleID != oldBundle.ID {
		t.Fatalf("expected rollback bundle %s, got %s", oldBundle.ID, rollback.BundleID)
	}
	if rollback.Strategy != store.StrategyAllAtOnce {
		t.Fatalf("expected all_at_once rollback strategy, got %s", rollback.Strategy)
	}
	if rollback.State != store.RolloutRunning {
		t.Fatalf("expected rollback rollout planned (running), got %s", rollback.State)
	}
}

// Scenario 5: revocation mid-rollout (spec.md §8 scenario 5).
func TestRevocationMidRolloutFailsStepAndRollout(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()

	b := mustCompiledBundle(t, s, projectID)
	n1 := mustNode(t, s, projectID, "n1")
	n2 := mustNode(t, s, projectID, "n2")
	n3 := mustNode(t, s, projectID, "n3")
	_ = n2
	_ = n3

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyRolling,
		BatchSize:      1,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	r, err = engine.Plan(ctx, r.ID)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}

	if _, err := s.RevokeBundle(ctx, b.ID); err != nil {
		t.Fatalf("revoking bundle: %v", err)
	}

	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	failed, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("getting rollout: %v", err)
	}
	if failed.State != store.RolloutFailed {
		t.Fatalf("expected failed, got %s", failed.State)
	}
	if failed.Error == nil || failed.Error.Reason != "bundle_revoked" {
		t.Fatalf("expected bundle_revoked, got %+v", failed.Error)
	}

	steps, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("listing steps: %v", err)
	}
	if steps[0].State != store.StepFailed {
		t.Fatalf("expected step 0 failed, got %s", steps[0].State)
	}
	_ = n1
}

// Scenario 6: max-unavailable tolerance (spec.md §8 scenario 6).
func TestMaxUnavailableToleranceAdvances(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()

	b := mustCompiledBundle(t, s, projectID)
	n1 := mustNode(t, s, projectID, "n1")
	n2 := mustNode(t, s, projectID, "n2")
	n3 := mustNode(t, s, projectID, "n3")

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyAllAtOnce,
		MaxUnavailable: 1,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	r, err = engine.Plan(ctx, r.ID)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}
	if err := engine.Tick(ctx, r.ID); err != nil { // pending -> running
		t.Fatalf("tick 1: %v", err)
	}

	// All three nodes were just registered, so a sweep with a future
	// cutoff marks all of them offline; heartbeating n1/n2 afterward
	// brings those two back online (RecordHeartbeat always sets
	// status=online), leaving only n3 offline.
	if _, err := s.SweepStaleNodes(ctx, time.Now().UTC().Add(1*time.Hour)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	heartbeatHealthy(t, s, n1.ID, b.ID)
	heartbeatHealthy(t, s, n2.ID, b.ID)
	_ = n3

	if err := engine.Tick(ctx, r.ID); err != nil { // running -> verifying
		t.Fatalf("tick 2: %v", err)
	}
	steps, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("listing steps: %v", err)
	}
	if steps[0].State != store.StepVerifying {
		t.Fatalf("expected step verifying, got %s", steps[0].State)
	}

	if err := engine.Tick(ctx, r.ID); err != nil { // verifying -> completed
		t.Fatalf("tick 3: %v", err)
	}
	steps, err = s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("listing steps: %v", err)
	}
	if steps[0].State != store.StepCompleted {
		t.Fatalf("expected step completed, got %s", steps[0].State)
	}
}

// Boundary: max_unavailable=0 requires all nodes including offline ones.
func TestMaxUnavailableZeroBlocksOnOfflineNode(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()

	b := mustCompiledBundle(t, s, projectID)
	n1 := mustNode(t, s, projectID, "n1")
	n2 := mustNode(t, s, projectID, "n2")

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyAllAtOnce,
		MaxUnavailable: 0,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	if _, err := engine.Plan(ctx, r.ID); err != nil {
		t.Fatalf("planning: %v", err)
	}
	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// Mark both nodes offline, then bring only n1 back by activating it;
	// n2 stays offline and never reports.
	if _, err := s.SweepStaleNodes(ctx, time.Now().UTC().Add(1*time.Hour)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	heartbeatHealthy(t, s, n1.ID, b.ID)

	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	steps, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("listing steps: %v", err)
	}
	if steps[0].State != store.StepRunning {
		t.Fatalf("expected step to remain running until all nodes activate, got %s", steps[0].State)
	}
	_ = n2
}

// Scenario 4: approval gate (spec.md §8 scenario 4).
func TestApprovalGate(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()
	b := mustCompiledBundle(t, s, projectID)
	mustNode(t, s, projectID, "n1")

	creator := uuid.New()
	approver1 := uuid.New()
	approver2 := uuid.New()

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyAllAtOnce,
		CreatedByID:    creator,
	}, true)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	if r.ApprovalState != store.ApprovalPending {
		t.Fatalf("expected pending_approval, got %s", r.ApprovalState)
	}

	if _, err := engine.Plan(ctx, r.ID); !apperr.Is(err, apperr.ApprovalRequired) {
		t.Fatalf("expected approval_required before approvals, got %v", err)
	}

	if _, err := engine.Approve(ctx, r.ID, creator, 2); !apperr.Is(err, apperr.SelfApproval) {
		t.Fatalf("expected self_approval, got %v", err)
	}

	if _, err := engine.Approve(ctx, r.ID, approver1, 2); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	r2, err := engine.Approve(ctx, r.ID, approver2, 2)
	if err != nil {
		t.Fatalf("second approval: %v", err)
	}
	if r2.ApprovalState != store.ApprovalApproved {
		t.Fatalf("expected approved, got %s", r2.ApprovalState)
	}

	if _, err := engine.Plan(ctx, r.ID); err != nil {
		t.Fatalf("plan should now succeed: %v", err)
	}
}

func TestRejectRequiresComment(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()
	b := mustCompiledBundle(t, s, projectID)

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyAllAtOnce,
		CreatedByID:    uuid.New(),
	}, true)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}

	if _, err := engine.Reject(ctx, r.ID, uuid.New(), ""); !apperr.Is(err, apperr.CommentRequired) {
		t.Fatalf("expected comment_required, got %v", err)
	}

	r2, err := engine.Reject(ctx, r.ID, uuid.New(), "too risky")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if r2.ApprovalState != store.ApprovalRejected {
		t.Fatalf("expected rejected, got %s", r2.ApprovalState)
	}
	if r2.State != store.RolloutPending {
		t.Fatalf("rejected rollout should remain pending, got %s", r2.State)
	}

	if _, err := engine.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("cancel after rejection should succeed: %v", err)
	}
}

func TestPauseResumeCancelRollback(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()
	b := mustCompiledBundle(t, s, projectID)
	mustNode(t, s, projectID, "n1")
	mustNode(t, s, projectID, "n2")

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyAllAtOnce,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	if _, err := engine.Plan(ctx, r.ID); err != nil {
		t.Fatalf("planning: %v", err)
	}
	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if _, err := engine.Pause(ctx, r.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if paused.State != store.RolloutPaused {
		t.Fatalf("expected paused, got %s", paused.State)
	}

	if _, err := engine.Rollback(ctx, r.ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	final, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.State != store.RolloutCancelled {
		t.Fatalf("expected cancelled after rollback, got %s", final.State)
	}

	nodes, err := s.ListNodesByProject(ctx, projectID)
	if err != nil {
		t.Fatalf("listing nodes: %v", err)
	}
	for _, n := range nodes {
		if n.StagedBundleID != nil {
			t.Fatalf("expected staged_bundle_id cleared on rollback, node %s still has %v", n.Name, *n.StagedBundleID)
		}
	}
}

// Idempotence: duplicate Tick delivery produces no additional side effects.
func TestDuplicateTickIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, s := newEngine()
	projectID := uuid.New()
	b := mustCompiledBundle(t, s, projectID)
	mustNode(t, s, projectID, "n1")

	r, err := engine.Create(ctx, store.Rollout{
		ProjectID:      projectID,
		BundleID:       b.ID,
		TargetSelector: store.TargetSelector{Kind: store.TargetAll},
		Strategy:       store.StrategyAllAtOnce,
	}, false)
	if err != nil {
		t.Fatalf("creating rollout: %v", err)
	}
	if _, err := engine.Plan(ctx, r.ID); err != nil {
		t.Fatalf("planning: %v", err)
	}

	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	afterFirst, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stepsAfterFirst, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}

	if err := engine.Tick(ctx, r.ID); err != nil {
		t.Fatalf("tick 2 (duplicate): %v", err)
	}
	afterSecond, err := s.GetRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stepsAfterSecond, err := s.ListStepsByRollout(ctx, r.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}

	if afterFirst.State != afterSecond.State {
		t.Fatalf("duplicate tick changed rollout state from %s to %s", afterFirst.State, afterSecond.State)
	}
	if stepsAfterFirst[0].State != stepsAfterSecond[0].State {
		t.Fatalf("duplicate tick changed step state from %s to %s", stepsAfterFirst[0].State, stepsAfterSecond[0].State)
	}
}
