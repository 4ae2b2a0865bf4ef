// Package messaging defines the provider-agnostic interface for posting
// rollout and drift notifications to a chat platform.
package messaging

import "context"

// Provider is the interface a chat platform implements to receive
// fleet-control-plane notifications.
type Provider interface {
	// Name returns the provider identifier ("slack").
	Name() string

	// PostRolloutEvent notifies of a rollout state transition (started,
	// paused, completed, failed, rolled back).
	PostRolloutEvent(ctx context.Context, msg RolloutMessage) (*MessageRef, error)

	// PostDriftEvent notifies of a drift event being opened or
	// auto-remediation being triggered.
	PostDriftEvent(ctx context.Context, msg DriftMessage) error

	// PostApprovalRequest notifies that a rollout is awaiting approval.
	PostApprovalRequest(ctx context.Context, msg ApprovalRequestMessage) error
}
