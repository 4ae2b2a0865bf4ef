package slack

import "time"

// RolloutInfo holds the data needed to build a rollout notification.
type RolloutInfo struct {
	RolloutID   string
	ProjectName string
	Version     string
	Event       string
	State       string
	Reason      string
	NodeCount   int
	CreatedBy   string
	RolloutURL  string
	OccurredAt  time.Time
}

// DriftInfo holds the data needed to build a drift notification.
type DriftInfo struct {
	NodeID           string
	NodeName         string
	ProjectName      string
	ExpectedBundleID string
	ActualBundleID   string
	AutoRemediated   bool
	DetectedAt       time.Time
}

// ApprovalRequestInfo holds the data needed to build an approval-request
// notification.
type ApprovalRequestInfo struct {
	RolloutID       string
	ProjectName     string
	Version         string
	RequestedBy     string
	ApproversNeeded int
	RolloutURL      string
}
