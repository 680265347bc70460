// internal/model/campaign.go
package model

import "time"

// Phase is the lifecycle phase of a campaign run.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// Template is the subject/body pair dispatched per recipient. Both parts may
// contain {{attribute}} placeholders resolved against each recipient.
type Template struct {
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
}

// Snapshot is a point-in-time view of aggregate campaign state.
// Sent + Failed + Skipped + Pending == Total holds at all times.
type Snapshot struct {
	Total   int   `json:"total"`
	Sent    int   `json:"sent"`
	Failed  int   `json:"failed"`
	Skipped int   `json:"skipped"`
	Pending int   `json:"pending"`
	Phase   Phase `json:"phase"`
}

// Campaign is a stored, schedulable campaign definition.
type Campaign struct {
	ID           int        `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Subject      string     `db:"subject" json:"subject"`
	BodyTemplate string     `db:"body_template" json:"body_template"`
	CSVPath      string     `db:"csv_path" json:"csv_path"`
	EmailField   string     `db:"email_field" json:"email_field"`
	Status       string     `db:"status" json:"status"` // scheduled, enqueued
	ScheduledAt  *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CampaignRun is the persisted record of one campaign execution.
type CampaignRun struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Status     string     `db:"status" json:"status"`
	Total      int        `db:"total" json:"total"`
	Sent       int        `db:"sent" json:"sent"`
	Failed     int        `db:"failed" json:"failed"`
	Skipped    int        `db:"skipped" json:"skipped"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// RunRequest is the queued job payload asking a worker process to execute a
// campaign. Body and TemplatePath are alternatives; Body wins when both are
// set. Zero option values fall back to the engine defaults.
type RunRequest struct {
	Name          string   `json:"name"`
	CSVPath       string   `json:"csv_path"`
	TemplatePath  string   `json:"template_path,omitempty"`
	Body          string   `json:"body,omitempty"`
	Subject       string   `json:"subject"`
	EmailField    string   `json:"email_field"`
	Attachments   []string `json:"attachments,omitempty"`
	Concurrency   int      `json:"concurrency,omitempty"`
	MaxAttempts   int      `json:"max_attempts,omitempty"`
	SendTimeoutMs int      `json:"send_timeout_ms,omitempty"`
	BackoffBaseMs int      `json:"backoff_base_ms,omitempty"`
	BackoffCapMs  int      `json:"backoff_cap_ms,omitempty"`
	RatePerSecond float64  `json:"rate_per_second,omitempty"`
}
