package analysis

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the run no longer exists in the repository.
	ErrNotFound = errors.New("analysis run not found")
	// ErrInvalidInput covers malformed commands and invariant violations.
	ErrInvalidInput = errors.New("invalid analysis input")
	// ErrAlreadyCompleted is returned when a completed run is asked to run again.
	ErrAlreadyCompleted = errors.New("analysis run already completed")
)

// ExecutionError is returned by the orchestrator after the run has been persisted as failed.
type ExecutionError struct {
	RunID RunID
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("analysis %s failed at %s stage: %v", e.RunID, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
