// Package hint produces progressive hints for an assignment, either from an
// LLM or from the hints stored with the assignment.
package hint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"safe-sql-sandbox/internal/assignment"
	"safe-sql-sandbox/internal/monitor"
)

const (
	NoMoreHints       = "No more hints available"
	unavailableHint   = "Unable to generate hint"
	SystemInstruction = "You are a SQL tutor. Provide hints without revealing the complete solution."
)

// ErrMissingAssignment is returned when a request names no assignment.
var ErrMissingAssignment = errors.New("missing required field: assignmentId")

// Request asks for the next hint.
type Request struct {
	AssignmentID  string   `json:"assignmentId"`
	CurrentQuery  string   `json:"currentQuery"`
	PreviousHints []string `json:"previousHints"`
}

// Hint is the response to a Request.
type Hint struct {
	Hint      string `json:"hint"`
	HintsUsed int    `json:"hintsUsed"`
}

// Generator turns a prompt into hint text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Catalog looks up assignments.
type Catalog interface {
	Get(ctx context.Context, id string) (*assignment.Detail, error)
}

// Options tune LLM retries and the hint cache.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration // Doubles after every failed attempt
	CacheSize   int
	CacheTTL    time.Duration
}

// DefaultOptions returns 3 attempts with 2s/4s backoff and a one-hour cache
// of 1024 entries.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseBackoff: 2 * time.Second,
		CacheSize:   1024,
		CacheTTL:    time.Hour,
	}
}

// Service serves hints. It is safe for concurrent use.
type Service struct {
	catalog Catalog
	gen     Generator
	cache   *expirable.LRU[string, string]
	opts    Options
	metrics *monitor.Metrics
}

// NewService creates a Service. A nil gen serves the assignment's stored
// hints in order. metrics may be nil.
func NewService(catalog Catalog, gen Generator, opts Options, metrics *monitor.Metrics) *Service {
	def := DefaultOptions()
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = def.BaseBackoff
	}
	if opts.CacheSize < 1 {
		opts.CacheSize = def.CacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}

	return &Service{
		catalog: catalog,
		gen:     gen,
		cache:   expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		opts:    opts,
		metrics: metrics,
	}
}

// LLMEnabled reports whether hints come from a Generator.
func (s *Service) LLMEnabled() bool {
	return s.gen != nil
}

// Generate returns the next hint for req. Unknown assignments yield
// assignment.ErrNotFound.
func (s *Service) Generate(ctx context.Context, req Request) (*Hint, error) {
	if strings.TrimSpace(req.AssignmentID) == "" {
		return nil, ErrMissingAssignment
	}
	used := len(req.PreviousHints) + 1

	key := cacheKey(req.AssignmentID, req.CurrentQuery)
	if text, ok := s.cache.Get(key); ok {
		s.record("cache")
		return &Hint{Hint: text, HintsUsed: used}, nil
	}

	detail, err := s.catalog.Get(ctx, req.AssignmentID)
	if err != nil {
		return nil, fmt.Errorf("loading assignment %s: %w", req.AssignmentID, err)
	}

	if s.gen == nil {
		s.record("static")
		return &Hint{Hint: staticHint(detail, len(req.PreviousHints)), HintsUsed: used}, nil
	}

	text, err := s.generateWithRetry(ctx, BuildPrompt(detail, req.CurrentQuery, req.PreviousHints))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("assignment_id", req.AssignmentID).Msg("LLM hint failed, serving stored hint")
		s.record("static")
		return &Hint{Hint: staticHint(detail, len(req.PreviousHints)), HintsUsed: used}, nil
	}

	s.cache.Add(key, text)
	s.record("llm")
	return &Hint{Hint: text, HintsUsed: used}, nil
}

func (s *Service) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
		text, err := s.gen.Generate(ctx, prompt)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return unavailableHint, nil
			}
			return strings.TrimSpace(text), nil
		}
		lastErr = err

		if attempt == s.opts.MaxAttempts-1 {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * s.opts.BaseBackoff
		log.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("hint generation failed, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", fmt.Errorf("generating hint after %d attempts: %w", s.opts.MaxAttempts, lastErr)
}

func (s *Service) record(source string) {
	if s.metrics != nil {
		s.metrics.RecordHint(source)
	}
}

func cacheKey(assignmentID, currentQuery string) string {
	return assignmentID + "\x00" + strings.TrimSpace(currentQuery)
}

func staticHint(d *assignment.Detail, index int) string {
	if index < len(d.Hints) {
		return d.Hints[index]
	}
	return NoMoreHints
}

// BuildPrompt describes the assignment, the user's query and the hints
// already given.
func BuildPrompt(d *assignment.Detail, currentQuery string, previous []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Assignment: %s\n\n", d.Title)
	fmt.Fprintf(&b, "Question: %s\n\n", d.Question)

	b.WriteString("Requirements:\n")
	for _, r := range d.Requirements {
		fmt.Fprintf(&b, "- %s\n", r)
	}

	b.WriteString("\nTable Schemas:\n")
	for _, t := range d.Tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = fmt.Sprintf("%s (%s)", c.Name, c.Type)
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Name, strings.Join(cols, ", "))
	}

	if q := strings.TrimSpace(currentQuery); q != "" {
		fmt.Fprintf(&b, "\nUser's current query:\n%s\n", q)
	} else {
		b.WriteString("\nUser hasn't written any query yet.\n")
	}

	if len(previous) > 0 {
		b.WriteString("\nPrevious hints given:\n")
		for i, h := range previous {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h)
		}
	}

	b.WriteString("\nProvide a helpful hint that guides the user toward the solution without revealing the complete SQL query. ")
	b.WriteString("Focus on SQL concepts, table relationships, or query structure. ")
	b.WriteString("Do NOT write the complete SELECT statement.")

	return b.String()
}
