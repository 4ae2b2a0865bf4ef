package messaging

import "fmt"

// RolloutSummary builds a one-line text summary for a rollout event,
// used as the fallback text for clients that don't render Block Kit.
func RolloutSummary(msg RolloutMessage) string {
	return fmt.Sprintf("Rollout %s: %s (%s)", msg.Event, msg.ProjectName, msg.Version)
}

// DriftSummary builds a one-line text summary for a drift event.
func DriftSummary(msg DriftMessage) string {
	return fmt.Sprintf("Drift detected on %s (%s): expected %s, got %s",
		msg.NodeName, msg.ProjectName, msg.ExpectedBundleID, msg.ActualBundleID)
}

// Truncate returns s truncated to max characters with "..." appended.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
