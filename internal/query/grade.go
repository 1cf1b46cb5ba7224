package query

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"safe-sql-sandbox/internal/monitor"
	"safe-sql-sandbox/internal/sandbox"
	"safe-sql-sandbox/internal/sanitizer"
)

// Correctness is the grade of an attempt against the stored solution.
type Correctness string

const (
	CorrectnessUnknown   Correctness = "unknown"
	CorrectnessCorrect   Correctness = "correct"
	CorrectnessIncorrect Correctness = "incorrect"
)

// SolutionSource looks up the hidden reference query of an assignment.
type SolutionSource interface {
	SolutionQuery(ctx context.Context, assignmentID string) (string, error)
}

var orderByPattern = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)

// Grade runs the assignment's solution in the same sandbox and compares its
// result with got. Column names are ignored; row order only matters when the
// solution orders its output. Any failure along the way grades as unknown.
func (s *Service) Grade(ctx context.Context, assignmentID string, got *sandbox.QueryResult) Correctness {
	if s.solutions == nil || got == nil {
		return CorrectnessUnknown
	}

	ctx, span := s.tracer.StartSpan(ctx, "grade", monitor.AttrAssignmentID.String(assignmentID))
	defer span.End()

	grade := s.grade(ctx, assignmentID, got)
	span.SetAttributes(monitor.AttrCorrectness.String(string(grade)))
	s.metrics.RecordGrade(string(grade))
	return grade
}

func (s *Service) grade(ctx context.Context, assignmentID string, got *sandbox.QueryResult) Correctness {
	logger := log.With().Str("assignment_id", assignmentID).Logger()

	solution, err := s.solutions.SolutionQuery(ctx, assignmentID)
	if err != nil {
		logger.Debug().Err(err).Msg("no solution available for grading")
		return CorrectnessUnknown
	}

	verdict := sanitizer.Sanitize(solution)
	if !verdict.IsAllowed {
		logger.Warn().Strs("reasons", verdict.BlockedReasons).Msg("stored solution rejected by sanitizer")
		return CorrectnessUnknown
	}

	want, err := s.sandbox.ExecuteInSandbox(ctx, assignmentID, verdict.SanitizedQuery, s.timeout)
	if err != nil {
		logger.Warn().Err(err).Msg("solution query failed")
		return CorrectnessUnknown
	}

	if sameRows(want, got, orderByPattern.MatchString(verdict.SanitizedQuery)) {
		return CorrectnessCorrect
	}
	return CorrectnessIncorrect
}

func sameRows(want, got *sandbox.QueryResult, ordered bool) bool {
	if len(want.Columns) != len(got.Columns) || len(want.Rows) != len(got.Rows) {
		return false
	}

	a := canonicalRows(want.Rows)
	b := canonicalRows(got.Rows)
	if !ordered {
		slices.Sort(a)
		slices.Sort(b)
	}
	return slices.Equal(a, b)
}

func canonicalRows(rows [][]any) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = canonicalValue(v)
		}
		out[i] = strings.Join(cells, "\x1f")
	}
	return out
}

// canonicalValue makes equal values from differently-typed columns compare
// equal, e.g. int4 2 and numeric 2.0.
func canonicalValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return canonicalFloat(float64(val))
	case float64:
		return canonicalFloat(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case string:
		return "s:" + val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 12, 64)
}
