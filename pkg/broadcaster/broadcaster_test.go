package broadcaster_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sentinelcp/control-plane/pkg/broadcaster"
)

func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	})
}

// Publish must never block the caller on a broadcaster outage: a failed
// publish is logged and swallowed, not surfaced as an error.
func TestPublishSwallowsTransportErrors(t *testing.T) {
	b := broadcaster.New(unreachableClient(), slog.Default())

	done := make(chan struct{})
	go func() {
		b.Publish(context.Background(), uuid.New(), "rollout.state_changed", map[string]string{"state": "running"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Publish to return promptly even when redis is unreachable")
	}
}

func TestSubscribeReturnsPerProjectChannel(t *testing.T) {
	b := broadcaster.New(unreachableClient(), slog.Default())
	sub := b.Subscribe(context.Background(), uuid.New())
	if sub == nil {
		t.Fatalf("expected a non-nil subscription handle")
	}
	_ = sub.Close()
}
