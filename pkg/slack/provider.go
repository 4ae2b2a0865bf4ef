package slack

import (
	"context"
	"log/slog"

	"github.com/sentinelcp/control-plane/pkg/messaging"
)

// Provider implements messaging.Provider for Slack.
type Provider struct {
	notifier *Notifier
	logger   *slog.Logger
}

// NewProvider creates a Slack messaging provider wrapping the notifier.
func NewProvider(notifier *Notifier, logger *slog.Logger) *Provider {
	return &Provider{notifier: notifier, logger: logger}
}

func (p *Provider) Name() string { return "slack" }

func (p *Provider) PostRolloutEvent(ctx context.Context, msg messaging.RolloutMessage) (*messaging.MessageRef, error) {
	r := RolloutInfo{
		RolloutID:   msg.RolloutID,
		ProjectName: msg.ProjectName,
		Version:     msg.Version,
		Event:       msg.Event,
		State:       msg.State,
		Reason:      msg.Reason,
		NodeCount:   msg.NodeCount,
		CreatedBy:   msg.CreatedBy,
		RolloutURL:  msg.RolloutURL,
		OccurredAt:  msg.OccurredAt,
	}

	channelID, ts, err := p.notifier.PostBlocks(ctx, RolloutEventBlocks(r), messaging.RolloutSummary(msg))
	if err != nil {
		return nil, err
	}
	if channelID == "" {
		return nil, nil // notifier disabled
	}

	return &messaging.MessageRef{
		Provider:  "slack",
		ChannelID: channelID,
		MessageID: ts,
	}, nil
}

func (p *Provider) PostDriftEvent(ctx context.Context, msg messaging.DriftMessage) error {
	d := DriftInfo{
		NodeID:           msg.NodeID,
		NodeName:         msg.NodeName,
		ProjectName:      msg.ProjectName,
		ExpectedBundleID: msg.ExpectedBundleID,
		ActualBundleID:   msg.ActualBundleID,
		AutoRemediated:   msg.AutoRemediated,
		DetectedAt:       msg.DetectedAt,
	}

	_, _, err := p.notifier.PostBlocks(ctx, DriftEventBlocks(d), messaging.DriftSummary(msg))
	return err
}

func (p *Provider) PostApprovalRequest(ctx context.Context, msg messaging.ApprovalRequestMessage) error {
	a := ApprovalRequestInfo{
		RolloutID:       msg.RolloutID,
		ProjectName:     msg.ProjectName,
		Version:         msg.BundleVersion,
		RequestedBy:     msg.RequestedBy,
		ApproversNeeded: msg.ApproversNeeded,
		RolloutURL:      msg.RolloutURL,
	}

	fallback := "Rollout approval requested for " + msg.ProjectName
	_, _, err := p.notifier.PostBlocks(ctx, ApprovalRequestBlocks(a), fallback)
	return err
}
