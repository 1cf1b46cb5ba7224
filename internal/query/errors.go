package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"safe-sql-sandbox/internal/sandbox"
)

// Kind classifies why an execution failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTimeout
	KindExecution
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTimeout:
		return "timeout"
	case KindExecution:
		return "execution"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// ValidationMessage is the user-facing message for rejected queries.
const ValidationMessage = "Query validation failed"

// Error is the failure returned by Service.Execute.
type Error struct {
	Kind    Kind
	Message string   // User-facing message
	Reasons []string // Sanitizer reasons, KindValidation only
	Err     error    // Underlying cause, if any
}

func (e *Error) Error() string {
	if e.Kind == KindValidation && len(e.Reasons) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Reasons, ", "))
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown if err did not come from
// Service.Execute.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindUnknown
}

// classify maps a sandbox failure onto the error taxonomy.
func classify(err error, timeout time.Duration) *Error {
	switch {
	case sandbox.IsAcquireFailure(err):
		return &Error{Kind: KindConnection, Message: "Database connection unavailable", Err: err}
	case errors.Is(err, sandbox.ErrInvalidAssignment):
		return &Error{
			Kind:    KindValidation,
			Message: ValidationMessage,
			Reasons: []string{"Invalid assignment id"},
			Err:     err,
		}
	case isTimeout(err):
		return &Error{Kind: KindTimeout, Message: TimeoutMessage(timeout), Err: err}
	default:
		return &Error{Kind: KindExecution, Message: driverMessage(err), Err: err}
	}
}

func isTimeout(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.QueryCanceled {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(causeMessage(err)), "timeout")
}

// causeMessage returns the driver's text without the sandbox step decoration,
// which carries the assignment id and op name.
func causeMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Message != "" {
		return pgErr.Message
	}
	var execErr *sandbox.ExecutionError
	if errors.As(err, &execErr) && execErr.Err != nil {
		return execErr.Err.Error()
	}
	return err.Error()
}

// driverMessage prefers the engine's own message over the wrapped chain.
func driverMessage(err error) string {
	if msg := causeMessage(err); msg != "" {
		return msg
	}
	return "Query execution failed"
}

// TimeoutMessage renders the limit the way users see it, e.g.
// "Query exceeded 5 second limit".
func TimeoutMessage(timeout time.Duration) string {
	if timeout%time.Second == 0 {
		return fmt.Sprintf("Query exceeded %d second limit", int64(timeout/time.Second))
	}
	return fmt.Sprintf("Query exceeded %d millisecond limit", timeout.Milliseconds())
}
