package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobConflict is returned when a source already has a non-terminal job.
	ErrJobConflict = errors.New("an ingestion job for this source is already in progress")
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("ingestion job not found")
	// ErrStaleTransition is returned when a job changed status underneath a
	// transition attempt.
	ErrStaleTransition = errors.New("ingestion job status changed concurrently")
)

// Transition error codes.
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeJobTerminal       = "JOB_TERMINAL"
)

// TransitionError reports a rejected job status change.
type TransitionError struct {
	Code string
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", e.Code, e.From, e.To)
}
