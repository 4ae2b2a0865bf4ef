package rollout

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/store"
)

// resolveTargets dispatches on the TargetSelector's tagged-union kind
// (spec.md §4.6.1), then applies the pin and version-constraint filters
// common to every selector variant.
func resolveTargets(ctx context.Context, s store.Store, projectID uuid.UUID, selector store.TargetSelector, bundle store.Bundle) ([]store.Node, error) {
	var nodes []store.Node
	var err error

	switch selector.Kind {
	case store.TargetAll:
		nodes, err = s.ListNodesByProject(ctx, projectID)
	case store.TargetLabels:
		nodes, err = s.ListNodesByLabels(ctx, projectID, selector.Labels)
	case store.TargetNodeIDs:
		nodes, err = s.ListNodesByIDs(ctx, selector.NodeIDs)
	case store.TargetGroupIDs:
		memberIDs, grErr := s.ResolveGroupMembers(ctx, selector.GroupIDs)
		if grErr != nil {
			return nil, fmt.Errorf("resolving group members: %w", grErr)
		}
		nodes, err = s.ListNodesByIDs(ctx, memberIDs)
	default:
		return nil, fmt.Errorf("unknown target selector kind %q", selector.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving targets: %w", err)
	}

	filtered := make([]store.Node, 0, len(nodes))
	for _, n := range nodes {
		// node_ids/group_ids may reference nodes outside the project or
		// no longer extant; drop them silently per spec.md §4.6.1.
		if n.ProjectID != projectID {
			continue
		}
		if n.PinnedBundleID != nil && *n.PinnedBundleID != bundle.ID {
			continue
		}
		if !versionInRange(n, bundle) {
			continue
		}
		filtered = append(filtered, n)
	}
	return filtered, nil
}

// versionInRange applies the node's min/max bundle-version constraint
// against the candidate bundle's semver version. Unparseable versions
// on either side make the constraint a no-op for that node.
func versionInRange(n store.Node, bundle store.Bundle) bool {
	v, err := semver.NewVersion(bundle.Version)
	if err != nil {
		return true
	}
	if n.MinBundleVersion != "" {
		min, err := semver.NewVersion(n.MinBundleVersion)
		if err == nil && v.LessThan(min) {
			return false
		}
	}
	if n.MaxBundleVersion != "" {
		max, err := semver.NewVersion(n.MaxBundleVersion)
		if err == nil && v.GreaterThan(max) {
			return false
		}
	}
	return true
}

// chunkBatches splits node ids into ordered batches per the rollout's
// strategy (spec.md §4.6.3 step 5).
func chunkBatches(r store.Rollout, nodeIDs []uuid.UUID) [][]uuid.UUID {
	if r.Strategy == store.StrategyAllAtOnce {
		return [][]uuid.UUID{nodeIDs}
	}

	batch := r.BatchSize
	if r.BatchPercentage > 0 {
		batch = len(nodeIDs) * r.BatchPercentage / 100
		if batch < 1 {
			batch = 1
		}
	}
	if batch < 1 {
		batch = 1
	}

	var batches [][]uuid.UUID
	for i := 0; i < len(nodeIDs); i += batch {
		end := i + batch
		if end > len(nodeIDs) {
			end = len(nodeIDs)
		}
		batches = append(batches, nodeIDs[i:end])
	}
	return batches
}
