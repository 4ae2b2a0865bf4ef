package rollout

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

// HealthEndpointProber probes one custom health-check endpoint,
// returning whether it passed. Endpoint definition/ownership (url,
// method, expected status) lives on the external operator surface
// (spec.md §1); the engine only needs pass/fail per id.
type HealthEndpointProber interface {
	Probe(ctx context.Context, endpointID uuid.UUID) (bool, error)
}

// evaluateGates checks every configured gate against nodes' latest
// heartbeats, conjuncting with custom health-check endpoints
// (spec.md §4.6.1, §4.6.4 step 5). A node with no heartbeat at all
// fails every gate that inspects heartbeat data.
func evaluateGates(ctx context.Context, s store.Store, prober HealthEndpointProber, gates store.HealthGates, customChecks []uuid.UUID, nodes []store.Node) (bool, error) {
	for _, n := range nodes {
		ok, err := nodePassesGates(ctx, s, gates, n)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if prober != nil {
		for _, id := range customChecks {
			passed, err := prober.Probe(ctx, id)
			if err != nil || !passed {
				return false, err
			}
		}
	}
	return true, nil
}

func nodePassesGates(ctx context.Context, s store.Store, gates store.HealthGates, n store.Node) (bool, error) {
	if gates.HeartbeatHealthy == nil && gates.MaxErrorRate == nil && gates.MaxLatencyMS == nil &&
		gates.MaxCPUPercent == nil && gates.MaxMemoryPercent == nil {
		return true, nil
	}

	hb, err := s.GetLatestHeartbeat(ctx, n.ID)
	if err != nil {
		return false, nil
	}

	if gates.HeartbeatHealthy != nil && *gates.HeartbeatHealthy && hb.HealthStatus() != "healthy" {
		return false, nil
	}
	if gates.MaxErrorRate != nil && hb.Metrics["error_rate"] > *gates.MaxErrorRate {
		return false, nil
	}
	if gates.MaxLatencyMS != nil && hb.Metrics["latency_p99_ms"] > *gates.MaxLatencyMS {
		return false, nil
	}
	if gates.MaxCPUPercent != nil && hb.Metrics["cpu_percent"] > *gates.MaxCPUPercent {
		return false, nil
	}
	if gates.MaxMemoryPercent != nil && hb.Metrics["memory_percent"] > *gates.MaxMemoryPercent {
		return false, nil
	}
	return true, nil
}
