// Package query orchestrates one sandboxed query: sanitize, execute in the
// assignment schema, and classify failures into a small set of kinds.
package query

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"safe-sql-sandbox/internal/monitor"
	"safe-sql-sandbox/internal/sandbox"
	"safe-sql-sandbox/internal/sanitizer"
)

// DefaultTimeout is the statement timeout applied to every query.
const DefaultTimeout = 5 * time.Second

// Sandbox runs an already-sanitized query scoped to an assignment schema.
type Sandbox interface {
	ExecuteInSandbox(ctx context.Context, assignmentID, query string, timeout time.Duration) (*sandbox.QueryResult, error)
}

// Service is stateless beyond its dependencies and safe for concurrent use.
type Service struct {
	sandbox   Sandbox
	solutions SolutionSource
	timeout   time.Duration
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer
}

// NewService creates a Service. solutions may be nil, in which case every
// attempt grades as unknown.
func NewService(sb Sandbox, solutions SolutionSource, timeout time.Duration, metrics *monitor.Metrics) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		sandbox:   sb,
		solutions: solutions,
		timeout:   timeout,
		metrics:   metrics,
		tracer:    monitor.NewTracer(),
	}
}

// Timeout returns the statement timeout applied to queries.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// Execute validates rawQuery and runs it against the assignment's schema.
// Failures are *Error values; use KindOf to branch on them. userID is used for
// log attribution only.
func (s *Service) Execute(ctx context.Context, assignmentID, rawQuery, userID string) (*sandbox.QueryResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, "execute",
		monitor.AttrAssignmentID.String(assignmentID),
		monitor.AttrUserID.String(userID),
	)
	defer span.End()

	logger := log.With().
		Str("assignment_id", assignmentID).
		Str("user_id", userID).
		Logger()

	start := time.Now()
	s.metrics.QuerySizeBytes.Observe(float64(len(rawQuery)))

	verdict := sanitizer.Sanitize(rawQuery)
	if !verdict.IsAllowed {
		s.metrics.RecordBlocked(verdict.BlockedReasons)
		s.finish(span, KindValidation.String(), start)
		logger.Info().Strs("reasons", verdict.BlockedReasons).Msg("query blocked by sanitizer")
		return nil, &Error{
			Kind:    KindValidation,
			Message: ValidationMessage,
			Reasons: verdict.BlockedReasons,
		}
	}

	s.metrics.ActiveQueries.Inc()
	result, err := s.sandbox.ExecuteInSandbox(ctx, assignmentID, verdict.SanitizedQuery, s.timeout)
	s.metrics.ActiveQueries.Dec()

	if err != nil {
		qe := classify(err, s.timeout)
		if qe.Kind == KindValidation {
			s.metrics.RecordBlocked(qe.Reasons)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, qe.Kind.String())
		s.finish(span, qe.Kind.String(), start)

		event := logger.Warn()
		if qe.Kind == KindConnection {
			event = logger.Error()
		}
		event.Err(err).Str("kind", qe.Kind.String()).Msg("query failed")
		return nil, qe
	}

	s.metrics.ResultRows.Observe(float64(result.RowCount))
	span.SetAttributes(monitor.AttrRowCount.Int(result.RowCount))
	s.finish(span, "success", start)

	logger.Info().
		Int("rows", result.RowCount).
		Int64("duration_ms", result.ExecutionTimeMs).
		Msg("query executed")

	return result, nil
}

func (s *Service) finish(span trace.Span, outcome string, start time.Time) {
	elapsed := time.Since(start)
	s.metrics.RecordQuery(outcome, elapsed.Seconds())
	span.SetAttributes(
		monitor.AttrOutcome.String(outcome),
		monitor.AttrDurationMS.Int64(elapsed.Milliseconds()),
	)
}
