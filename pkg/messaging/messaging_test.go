package messaging_test

import (
	"context"
	"testing"

	"github.com/sentinelcp/control-plane/pkg/messaging"
)

type fakeProvider struct {
	name string
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) PostRolloutEvent(context.Context, messaging.RolloutMessage) (*messaging.MessageRef, error) {
	return nil, nil
}
func (f *fakeProvider) PostDriftEvent(context.Context, messaging.DriftMessage) error { return nil }
func (f *fakeProvider) PostApprovalRequest(context.Context, messaging.ApprovalRequestMessage) error {
	return nil
}

func TestRegistryRegisterGetAll(t *testing.T) {
	r := messaging.NewRegistry()
	slack := &fakeProvider{name: "slack"}
	r.Register(slack)

	got, err := r.Get("slack")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != slack {
		t.Fatalf("expected the registered provider back")
	}

	if len(r.All()) != 1 {
		t.Fatalf("expected exactly one registered provider, got %d", len(r.All()))
	}

	if _, err := r.Get("teams"); err == nil {
		t.Fatalf("expected an error for an unregistered provider")
	}
}

func TestRolloutSummary(t *testing.T) {
	msg := messaging.RolloutMessage{Event: "completed", ProjectName: "edge", Version: "1.2.3"}
	got := messaging.RolloutSummary(msg)
	want := "Rollout completed: edge (1.2.3)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDriftSummary(t *testing.T) {
	msg := messaging.DriftMessage{
		NodeName:         "edge-1",
		ProjectName:      "edge",
		ExpectedBundleID: "abc",
		ActualBundleID:   "def",
	}
	got := messaging.DriftSummary(msg)
	want := "Drift detected on edge-1 (edge): expected abc, got def"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	if got := messaging.Truncate("short", 10); got != "short" {
		t.Fatalf("expected short string to pass through unchanged, got %q", got)
	}

	long := "this sentence is definitely longer than the limit"
	got := messaging.Truncate(long, 10)
	if len(got) != 10 {
		t.Fatalf("expected truncated length 10, got %d (%q)", len(got), got)
	}
	if got[len(got)-3:] != "..." {
		t.Fatalf("expected truncation to end with an ellipsis, got %q", got)
	}
}
