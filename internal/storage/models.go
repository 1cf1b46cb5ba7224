package storage

import "time"

// Attempt is one successful query run by an identified user.
type Attempt struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"userId" db:"user_id"`
	AssignmentID    string    `json:"assignmentId" db:"assignment_id"`
	Query           string    `json:"query" db:"query"`
	ExecutionTimeMs int64     `json:"executionTimeMs" db:"execution_time_ms"`
	RowCount        int       `json:"rowCount" db:"row_count"`
	Correctness     string    `json:"correctness" db:"correctness"` // correct, incorrect, unknown
	HintsUsed       int       `json:"hintsUsed" db:"hints_used"`
	AttemptedAt     time.Time `json:"attemptedAt" db:"attempted_at"`
}

// AttemptFilter provides criteria for querying attempts.
type AttemptFilter struct {
	UserID       string
	AssignmentID string
	Limit        int
	Offset       int
}
