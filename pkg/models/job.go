package models

import (
	"fmt"
	"time"
)

// TaskType is the kind of ingestion unit a job runs.
type TaskType string

const (
	TaskSEC13F         TaskType = "sec_13f"
	TaskCongressTrades TaskType = "congress_trades"
	TaskNetWorth       TaskType = "net_worth"
)

// SourceKind returns the document family the task ingests.
func (t TaskType) SourceKind() (SourceKind, error) {
	switch t {
	case TaskSEC13F:
		return SourceInstitutionalReport, nil
	case TaskCongressTrades:
		return SourceLegislatorDisclosure, nil
	case TaskNetWorth:
		return SourceNetWorthReport, nil
	}
	return "", fmt.Errorf("unknown task type %q", t)
}

// TaskForSource is the inverse of TaskType.SourceKind.
func TaskForSource(kind SourceKind) TaskType {
	switch kind {
	case SourceLegislatorDisclosure:
		return TaskCongressTrades
	case SourceNetWorthReport:
		return TaskNetWorth
	}
	return TaskSEC13F
}

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// Terminal reports whether s ends a run.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobSkipped
}

// JobRecord is the single logical record for a (task type, scope) unit.
type JobRecord struct {
	ID         int64      `json:"id"`
	TaskType   TaskType   `json:"task_type"`
	Scope      string     `json:"scope"`
	Status     JobStatus  `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"last_error,omitempty"`
	Resumable  bool       `json:"resumable"`
	Checksum   string     `json:"checksum,omitempty"`
	RunID      string     `json:"run_id,omitempty"`
	QueuedAt   time.Time  `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// JobEvent is one append-only history entry for a job.
type JobEvent struct {
	ID      int64     `json:"id"`
	JobID   int64     `json:"job_id"`
	RunID   string    `json:"run_id,omitempty"`
	Status  JobStatus `json:"status"`
	Attempt int       `json:"attempt"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
