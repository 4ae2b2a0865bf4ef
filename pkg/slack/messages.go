package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/sentinelcp/control-plane/pkg/messaging"
)

// RolloutEventBlocks builds Slack Block Kit blocks for a rollout state
// transition notification.
func RolloutEventBlocks(r RolloutInfo) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s Rollout %s: %s", rolloutEmoji(r.Event), r.Event, r.ProjectName), true, false),
	)

	var fields []*goslack.TextBlockObject
	fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Version:* %s", r.Version), false, false))
	fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*State:* %s", r.State), false, false))
	if r.NodeCount > 0 {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Nodes:* %d", r.NodeCount), false, false))
	}
	if r.CreatedBy != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Created by:* %s", r.CreatedBy), false, false))
	}

	blocks := []goslack.Block{header, goslack.NewSectionBlock(nil, fields, nil)}

	if r.Reason != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, messaging.Truncate(fmt.Sprintf("*Reason:* %s", r.Reason), 500), false, false),
			nil, nil,
		))
	}

	if r.RolloutURL != "" {
		viewBtn := goslack.NewButtonBlockElement("view_rollout", r.RolloutID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Rollout", true, false))
		viewBtn.URL = r.RolloutURL
		blocks = append(blocks, goslack.NewActionBlock("rollout_actions", viewBtn))
	}

	return blocks
}

// DriftEventBlocks builds blocks for a drift notification.
func DriftEventBlocks(d DriftInfo) []goslack.Block {
	title := fmt.Sprintf("⚠️ Drift detected: %s", d.NodeName)
	text := fmt.Sprintf("*Project:* %s\n*Expected bundle:* %s\n*Active bundle:* %s",
		d.ProjectName, d.ExpectedBundleID, d.ActualBundleID)
	if d.AutoRemediated {
		text += "\n\n↻ Auto-remediation rollout triggered."
	}

	return []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, title, true, false)),
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}
}

// ApprovalRequestBlocks builds blocks for an approval-request notification.
func ApprovalRequestBlocks(a ApprovalRequestInfo) []goslack.Block {
	text := fmt.Sprintf("*%s* requested a rollout of *%s* (v%s) and it needs %d approval(s).",
		a.RequestedBy, a.ProjectName, a.Version, a.ApproversNeeded)

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, "Rollout approval requested", true, false)),
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}

	if a.RolloutURL != "" {
		viewBtn := goslack.NewButtonBlockElement("view_rollout", a.RolloutID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "Review", true, false))
		viewBtn.URL = a.RolloutURL
		blocks = append(blocks, goslack.NewActionBlock("approval_actions", viewBtn))
	}

	return blocks
}

func rolloutEmoji(event string) string {
	switch event {
	case "completed":
		return "✅"
	case "failed":
		return "❌"
	case "rolled_back":
		return "↩️"
	case "paused":
		return "⏸️"
	default:
		return "\U0001F680"
	}
}
