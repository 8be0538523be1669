package domain

import "time"

// RunState enumerates orchestrator milestones.
type RunState string

const (
	RunIdle        RunState = "idle"
	RunSearching   RunState = "searching"
	RunDispatching RunState = "dispatching"
	RunDone        RunState = "done"
	RunError       RunState = "error"
)

// Settled reports whether a new run may start from this state.
func (s RunState) Settled() bool {
	return s == RunIdle || s == RunDone || s == RunError
}

// Outcome is what the host environment did with a hand-off request.
type Outcome string

const (
	OutcomeOpened  Outcome = "opened"
	OutcomeBlocked Outcome = "blocked"
)

// Delivery is everything a dispatcher needs for one hand-off attempt.
type Delivery struct {
	Report    Report
	Draft     *EmailDraft
	Recipient string
}

// PendingAction is a channel whose hand-off still needs an explicit user
// retry. URI is the last composed target, when one was built.
type PendingAction struct {
	Channel Channel `json:"channel"`
	URI     string  `json:"uri,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// RunSnapshot is a read-only view of the current run.
type RunSnapshot struct {
	ID         string             `json:"id,omitempty"`
	State      RunState           `json:"state"`
	Automated  bool               `json:"automated"`
	Topic      string             `json:"topic,omitempty"`
	Report     *Report            `json:"report,omitempty"`
	HasDraft   bool               `json:"hasDraft"`
	Pending    []PendingAction    `json:"pending"`
	Failures   map[Channel]string `json:"failures,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
}

// PendingChannels lists the channels awaiting a retry in dispatch order.
func (s RunSnapshot) PendingChannels() []Channel {
	channels := make([]Channel, 0, len(s.Pending))
	for _, p := range s.Pending {
		channels = append(channels, p.Channel)
	}
	return channels
}

// DeliveryResult reports one hand-off attempt.
type DeliveryResult struct {
	Channel Channel `json:"channel"`
	Outcome Outcome `json:"outcome,omitempty"`
	URI     string  `json:"uri,omitempty"`
	Error   string  `json:"error,omitempty"`
}
