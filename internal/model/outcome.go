// internal/model/outcome.go
package model

import "time"

// OutcomeStatus is the terminal per-recipient result of a campaign.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomeSkipped OutcomeStatus = "skipped"
)

// SendOutcome records how one recipient finished.
type SendOutcome struct {
	Recipient string        `json:"recipient"`
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Lifecycle entry kinds for the activity log. Outcome entries reuse the
// OutcomeStatus values as their kind.
const (
	LogStart    = "start"
	LogPause    = "pause"
	LogResume   = "resume"
	LogCancel   = "cancel"
	LogComplete = "complete"
)

// LogEntry is one append-only activity log record.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Recipient string    `json:"recipient,omitempty"`
	Message   string    `json:"message,omitempty"`
}

const (
	EventOutcome   = "outcome"
	EventLifecycle = "lifecycle"
)

// Event is pushed synchronously to subscribers as a campaign progresses.
type Event struct {
	Kind     string       `json:"kind"`
	Outcome  *SendOutcome `json:"outcome,omitempty"`
	Phase    Phase        `json:"phase"`
	Snapshot Snapshot     `json:"snapshot"`
}
