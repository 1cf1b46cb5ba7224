package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrAcquire           = errors.New("failed to acquire database connection")
	ErrInvalidAssignment = errors.New("invalid assignment id")
	ErrClosed            = errors.New("sandbox pool closed")
)

// ExecutionError wraps errors with the sandbox step that produced them.
type ExecutionError struct {
	AssignmentID string
	Op           string // The operation that failed
	Err          error
}

func (e *ExecutionError) Error() string {
	if e.AssignmentID != "" {
		return fmt.Sprintf("assignment %s: %s: %s", e.AssignmentID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsAcquireFailure returns true if no connection could be leased.
func IsAcquireFailure(err error) bool {
	return errors.Is(err, ErrAcquire)
}
