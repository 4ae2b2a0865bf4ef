package messaging

import "time"

// MessageRef identifies a sent message for future updates.
type MessageRef struct {
	Provider  string `json:"provider"`   // "slack"
	ChannelID string `json:"channel_id"` // platform channel identifier
	MessageID string `json:"message_id"` // platform message identifier (Slack: ts)
}

// RolloutMessage is the platform-agnostic notification for a rollout
// state transition.
type RolloutMessage struct {
	RolloutID   string
	ProjectName string
	BundleID    string
	Version     string
	Event       string // started, paused, resumed, completed, failed, rolled_back
	State       string
	Reason      string // populated on failed/rolled_back
	NodeCount   int
	CreatedBy   string
	RolloutURL  string
	OccurredAt  time.Time
}

// DriftMessage notifies about a node drifting from its expected bundle,
// or an auto-remediation rollout being triggered in response.
type DriftMessage struct {
	NodeID           string
	NodeName         string
	ProjectName      string
	ExpectedBundleID string
	ActualBundleID   string
	AutoRemediated   bool
	DetectedAt       time.Time
}

// ApprovalRequestMessage notifies that a rollout needs operator approval
// before it can run.
type ApprovalRequestMessage struct {
	RolloutID      string
	ProjectName    string
	BundleVersion  string
	RequestedBy    string
	ApproversNeeded int
	RolloutURL     string
}
