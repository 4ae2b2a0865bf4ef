package dispatcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/identity"
	"github.com/sentinelcp/control-plane/internal/objectstore"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/internal/store/memory"
	"github.com/sentinelcp/control-plane/internal/validatorclient"
	"github.com/sentinelcp/control-plane/pkg/bundle"
	"github.com/sentinelcp/control-plane/pkg/drift"
	"github.com/sentinelcp/control-plane/pkg/noderegistry"
	"github.com/sentinelcp/control-plane/pkg/rollout"
	"github.com/sentinelcp/control-plane/pkg/webhook"
)

type noopTrigger struct{}

func (noopTrigger) TriggerAutoRemediation(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	return nil
}

func newTestDispatcher(t *testing.T, s *memory.Store) *Dispatcher {
	t.Helper()
	noRules := func(context.Context, uuid.UUID) ([]bundle.ValidationRule, error) { return nil, nil }
	bundles := bundle.NewService(s, objectstore.NewMemory(), &validatorclient.Static{}, nil, false, noRules, slog.Default())
	rollouts := rollout.New(s, nil, slog.Default())
	rateLimiter := drift.NewRateLimiter(nil, slog.Default())
	driftEngine := drift.New(s, rateLimiter, noopTrigger{}, slog.Default())
	nodeKeys := identity.NewNodeKeyService(s)
	nodes := noderegistry.New(s, nodeKeys, driftEngine, 2*time.Minute, 50, slog.Default())
	webhooks := webhook.New(2*time.Second, "", 1, slog.Default())

	return New(s, bundles, rollouts, driftEngine, nodes, webhooks, nil, Periods{}, 1, 50, 50, slog.Default())
}

func TestCompileBundleScanCompilesPendingBundles(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	d := newTestDispatcher(t, s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	b, err := s.CreateBundle(ctx, store.Bundle{ProjectID: p.ID, Version: "1.0.0", ConfigSource: "route \"/a\"\n"})
	if err != nil {
		t.Fatalf("creating bundle: %v", err)
	}

	d.compileBundle(ctx, b.ID)

	got, err := s.GetBundle(ctx, b.ID)
	if err != nil {
		t.Fatalf("getting bundle: %v", err)
	}
	if !got.IsCompiled() {
		t.Fatalf("expected bundle to be compiled, got status %q", got.Status)
	}
}

func TestReconcileNodeOpensDriftEvent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	d := newTestDispatcher(t, s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	n, err := s.CreateNode(ctx, store.Node{ProjectID: p.ID, Name: "n1", Status: store.NodeOnline})
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}
	expected := uuid.New()
	if err := s.SetExpectedBundle(ctx, []uuid.UUID{n.ID}, expected); err != nil {
		t.Fatalf("setting expected bundle: %v", err)
	}

	d.reconcileNode(ctx, n.ID)

	if _, err := s.GetActiveDriftEvent(ctx, n.ID); err != nil {
		t.Fatalf("expected an open drift event: %v", err)
	}
}

func TestRunLivenessSweepKeepsFreshNodesOnline(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	d := newTestDispatcher(t, s)

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	n, err := s.CreateNode(ctx, store.Node{ProjectID: p.ID, Name: "n1", Status: store.NodeOnline})
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}

	// This dispatcher's noderegistry.Service was built with a 2-minute
	// stale threshold, so a fresh node isn't swept yet.
	d.runLivenessSweep(ctx)
	got, err := s.GetNode(ctx, n.ID)
	if err != nil {
		t.Fatalf("getting node: %v", err)
	}
	if got.Status != store.NodeOnline {
		t.Fatalf("expected node to still be online, got %q", got.Status)
	}
}

func TestRunCleanupTrimsHeartbeatsAndEvents(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	d := newTestDispatcher(t, s)
	d.heartbeatRowCap = 2
	d.eventRowCap = 2

	org, _ := s.CreateOrganization(ctx, store.Organization{Name: "acme"})
	p, _ := s.CreateProject(ctx, store.Project{OrgID: org.ID, Slug: "edge", Name: "edge"})
	n, err := s.CreateNode(ctx, store.Node{ProjectID: p.ID, Name: "n1"})
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, _, err := s.RecordHeartbeat(ctx, n.ID, store.NodeHeartbeat{}, store.HeartbeatNodeFields{}); err != nil {
			t.Fatalf("recording heartbeat %d: %v", i, err)
		}
	}
	if _, err := s.CreateNodeEvents(ctx, []store.NodeEvent{{NodeID: n.ID}, {NodeID: n.ID}, {NodeID: n.ID}}); err != nil {
		t.Fatalf("creating node events: %v", err)
	}

	d.runCleanup(ctx)

	if _, err := s.GetLatestHeartbeat(ctx, n.ID); err != nil {
		t.Fatalf("expected the most recent heartbeat to survive trimming: %v", err)
	}

	events, err := s.ListNodeEventsByNode(ctx, n.ID, 100)
	if err != nil {
		t.Fatalf("listing events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected events trimmed to cap 2, got %d", len(events))
	}
}

func TestDeliverWebhookEnqueuesAndDelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s := memory.New()
	d := newTestDispatcher(t, s)

	delivered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		delivered <- struct{}{}
	}))
	defer srv.Close()

	go d.worker(ctx)
	d.DeliverWebhook(srv.URL, "rollout.state_changed", map[string]string{"k": "v"})

	select {
	case <-delivered:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for webhook delivery")
	}
}
