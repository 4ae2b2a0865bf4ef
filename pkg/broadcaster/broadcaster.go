// Package broadcaster fans out fleet events to the web UI over Redis
// pub/sub (spec.md §9 "Pub/sub topics"). Delivery is best-effort: a
// subscriber that's offline simply misses the event, same as nightowl's
// escalation ack channel.
package broadcaster

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const topicPrefix = "sentinelcp:"

// Broadcaster publishes fleet events to per-project Redis channels.
type Broadcaster struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Broadcaster over rdb.
func New(rdb *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{rdb: rdb, logger: logger}
}

// Event is the envelope published on every topic.
type Event struct {
	Type      string          `json:"type"` // rollout.state_changed, drift.opened, drift.resolved, node.status_changed
	ProjectID uuid.UUID       `json:"project_id"`
	Payload   json.RawMessage `json:"payload"`
}

// projectTopic returns the channel name for a project's event stream.
func projectTopic(projectID uuid.UUID) string {
	return topicPrefix + "project:" + projectID.String()
}

// Publish marshals payload and publishes it to projectID's topic. Errors
// are logged, not returned — a broadcaster outage must never block the
// engine operation that triggered the event.
func (b *Broadcaster) Publish(ctx context.Context, projectID uuid.UUID, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("marshaling broadcast payload", "event_type", eventType, "error", err)
		return
	}

	env, err := json.Marshal(Event{Type: eventType, ProjectID: projectID, Payload: raw})
	if err != nil {
		b.logger.Error("marshaling broadcast envelope", "event_type", eventType, "error", err)
		return
	}

	if err := b.rdb.Publish(ctx, projectTopic(projectID), env).Err(); err != nil {
		b.logger.Warn("publishing broadcast event", "event_type", eventType, "project_id", projectID, "error", err)
	}
}

// Subscribe opens a pub/sub subscription to projectID's topic. The
// caller must Close the returned subscription.
func (b *Broadcaster) Subscribe(ctx context.Context, projectID uuid.UUID) *redis.PubSub {
	return b.rdb.Subscribe(ctx, projectTopic(projectID))
}
