package drift

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// remediationCooldown bounds how often an auto-remediation rollout can
	// be triggered for the same (node, expected_bundle_id) pair, per
	// spec.md §9's loop-prevention note.
	remediationCooldown = 10 * time.Minute

	redisKeyPrefix = "drift:remediation:"
)

// RateLimiter gates auto-remediation triggers per (node, expected bundle)
// pair using a Redis TTL key, the same cooldown-key idiom nightowl's
// alert deduplicator uses for fingerprint caching.
type RateLimiter struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(rdb *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{rdb: rdb, logger: logger}
}

func remediationKey(nodeID, expectedBundleID uuid.UUID) string {
	return redisKeyPrefix + nodeID.String() + ":" + expectedBundleID.String()
}

// Allow reports whether an auto-remediation rollout may be triggered now
// for this (node, expected bundle) pair, and marks the cooldown if so.
// Fails open (allows) on Redis errors, logging a warning, so a cache
// outage never permanently blocks remediation.
func (r *RateLimiter) Allow(ctx context.Context, nodeID, expectedBundleID uuid.UUID) bool {
	key := remediationKey(nodeID, expectedBundleID)
	ok, err := r.rdb.SetNX(ctx, key, "1", remediationCooldown).Result()
	if err != nil {
		r.logger.Warn("remediation rate-limit check failed, allowing", "error", err, "key", key)
		return true
	}
	return ok
}
