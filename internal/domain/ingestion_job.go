package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobInitiated     JobStatus = "INITIATED"
	JobProcessing    JobStatus = "PROCESSING"
	JobSynchronizing JobStatus = "SYNCHRONIZING"
	JobCompleted     JobStatus = "COMPLETED"
	JobFailed        JobStatus = "FAILED"
)

// NonTerminalStatuses lists the states in which a job is still active.
var NonTerminalStatuses = []JobStatus{JobInitiated, JobProcessing, JobSynchronizing}

// validTransitions is the transition matrix. FAILED is reachable from every
// non-terminal state; terminal states have no exits.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobInitiated:     {JobProcessing: true, JobFailed: true},
	JobProcessing:    {JobSynchronizing: true, JobFailed: true},
	JobSynchronizing: {JobCompleted: true, JobFailed: true},
	JobCompleted:     {},
	JobFailed:        {},
}

// IsTerminal reports whether s is COMPLETED or FAILED.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransitionTo reports whether s → target is allowed.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	return validTransitions[s][target]
}

// ParseJobStatus converts a stored status string.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}

// IngestionJob is one attempt to ingest one file.
type IngestionJob struct {
	ID             uuid.UUID  `json:"id"`
	SourceFile     string     `json:"sourceFile"`
	Status         JobStatus  `json:"status"`
	Details        string     `json:"details"`
	MinPostingDate *time.Time `json:"minPostingDate,omitempty"`
	MaxPostingDate *time.Time `json:"maxPostingDate,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// NewIngestionJob creates a job in the INITIATED state.
func NewIngestionJob(sourceFile string, now time.Time) IngestionJob {
	return IngestionJob{
		ID:         uuid.New(),
		SourceFile: sourceFile,
		Status:     JobInitiated,
		CreatedAt:  now,
	}
}

// Transition returns a copy of the job moved to target. Entering a terminal
// state stamps CompletedAt. Terminal jobs cannot change.
func (j IngestionJob) Transition(target JobStatus, details string, now time.Time) (IngestionJob, error) {
	if j.Status.IsTerminal() {
		return j, &TransitionError{Code: CodeJobTerminal, From: j.Status, To: target}
	}
	if !j.Status.CanTransitionTo(target) {
		return j, &TransitionError{Code: CodeInvalidTransition, From: j.Status, To: target}
	}

	next := j
	next.Status = target
	if details != "" {
		next.Details = details
	}
	if target.IsTerminal() {
		completed := now
		next.CompletedAt = &completed
	}
	return next, nil
}

// Complete moves a SYNCHRONIZING job to COMPLETED and records the posting
// date range of the accepted records. The range stays nil when no records
// were accepted.
func (j IngestionJob) Complete(dates *DateRange, details string, now time.Time) (IngestionJob, error) {
	next, err := j.Transition(JobCompleted, details, now)
	if err != nil {
		return j, err
	}
	if dates != nil {
		lo, hi := dates.Min, dates.Max
		next.MinPostingDate = &lo
		next.MaxPostingDate = &hi
	}
	return next, nil
}

// Fail moves a non-terminal job to FAILED with a diagnostic. The date range
// is left untouched.
func (j IngestionJob) Fail(details string, now time.Time) (IngestionJob, error) {
	return j.Transition(JobFailed, details, now)
}

// StuckSince reports whether the job is non-terminal and was created before
// cutoff.
func (j IngestionJob) StuckSince(cutoff time.Time) bool {
	return !j.Status.IsTerminal() && j.CompletedAt == nil && j.CreatedAt.Before(cutoff)
}
