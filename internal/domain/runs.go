package domain

import "time"

// TriggerKind tells how a job sequence was started
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

// RunStatus is the lifecycle state of a recorded run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusPartial means every job ran but some records were rejected
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// JobResult summarises one job inside a run
type JobResult struct {
	Job        JobName       `json:"job"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	Succeeded  bool          `json:"succeeded"`
	HadFailure bool          `json:"had_failure"`
	Ingested   int           `json:"ingested"`
	Rejected   int           `json:"rejected"`
	Absent     int           `json:"absent"`
}

// RunRecord is the log entry for one job-sequence execution.
// It is a history of runs and is never used to resume work.
type RunRecord struct {
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	ID         string      `json:"id"`
	Trigger    TriggerKind `json:"trigger"`
	Selector   string      `json:"selector,omitempty"`
	Status     RunStatus   `json:"status"`
	Error      string      `json:"error,omitempty"`
	Jobs       []JobName   `json:"jobs"`
	Results    []JobResult `json:"results"`
	DayOfMonth int         `json:"day_of_month"`
}
