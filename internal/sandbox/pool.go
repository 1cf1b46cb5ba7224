package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// SchemaPrefix is prepended to an assignment id to name its sandbox schema.
const SchemaPrefix = "assignment_"

var assignmentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,48}$`)

// Options bounds the pool.
type Options struct {
	MaxConns        int           // Maximum simultaneously leased connections
	AcquireTimeout  time.Duration // Upper bound on waiting for a lease
	IdleTimeout     time.Duration // Idle connections are closed after this
	MaxConnLifetime time.Duration // Connections are recycled after this
}

// DefaultOptions mirrors the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxConns:        20,
		AcquireTimeout:  3 * time.Second,
		IdleTimeout:     30 * time.Second,
		MaxConnLifetime: 30 * time.Minute,
	}
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Capacity        int
	InUse           int64
	Leases          uint64
	Releases        uint64
	AcquireFailures uint64
}

// Pool runs single queries on leased connections scoped to one assignment
// schema with an engine-enforced statement timeout.
type Pool struct {
	leaser         Leaser
	sem            chan struct{} // Bounds concurrent leases
	acquireTimeout time.Duration

	inUse           atomic.Int64
	leases          atomic.Uint64
	releases        atomic.Uint64
	acquireFailures atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

// New connects a pgx pool to dsn. The DSN should use a role that can only read
// the assignment schemas.
func New(ctx context.Context, dsn string, opts Options) (*Pool, error) {
	opts = withDefaults(opts)

	leaser, err := newPgxLeaser(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("max_conns", opts.MaxConns).
		Dur("acquire_timeout", opts.AcquireTimeout).
		Dur("idle_timeout", opts.IdleTimeout).
		Msg("sandbox pool created")

	return NewWithLeaser(leaser, opts), nil
}

// NewWithLeaser builds a Pool over an existing Leaser.
func NewWithLeaser(leaser Leaser, opts Options) *Pool {
	opts = withDefaults(opts)
	return &Pool{
		leaser:         leaser,
		sem:            make(chan struct{}, opts.MaxConns),
		acquireTimeout: opts.AcquireTimeout,
	}
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxConns < 1 {
		opts.MaxConns = def.MaxConns
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = def.AcquireTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.MaxConnLifetime <= 0 {
		opts.MaxConnLifetime = def.MaxConnLifetime
	}
	return opts
}

// SchemaName returns the sandbox schema for an assignment id. Unquoted
// identifiers fold to lower case in PostgreSQL, so the name is lowered to match
// schemas provisioned without quotes.
func SchemaName(assignmentID string) (string, error) {
	if !assignmentIDPattern.MatchString(assignmentID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAssignment, assignmentID)
	}
	return SchemaPrefix + strings.ToLower(assignmentID), nil
}

// ExecuteInSandbox leases a connection, scopes it to the assignment schema,
// applies timeout as statement_timeout, runs query and releases the
// connection on every path. query must already be sanitized.
func (p *Pool) ExecuteInSandbox(ctx context.Context, assignmentID, query string, timeout time.Duration) (*QueryResult, error) {
	schema, err := SchemaName(assignmentID)
	if err != nil {
		return nil, &ExecutionError{AssignmentID: assignmentID, Op: "resolve_schema", Err: err}
	}

	lease, err := p.acquire(ctx)
	if err != nil {
		return nil, &ExecutionError{AssignmentID: assignmentID, Op: "acquire", Err: err}
	}
	defer p.release(lease)

	if _, err := lease.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return nil, &ExecutionError{AssignmentID: assignmentID, Op: "set_search_path", Err: err}
	}

	if _, err := lease.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, &ExecutionError{AssignmentID: assignmentID, Op: "set_statement_timeout", Err: err}
	}

	start := time.Now()
	result, err := collect(ctx, lease, query)
	if err != nil {
		return nil, &ExecutionError{AssignmentID: assignmentID, Op: "query", Err: err}
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	log.Debug().
		Str("assignment_id", assignmentID).
		Int("rows", result.RowCount).
		Int64("duration_ms", result.ExecutionTimeMs).
		Msg("sandbox query completed")

	return result, nil
}

func collect(ctx context.Context, lease Lease, query string) (*QueryResult, error) {
	rows, err := lease.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
	}

	result := &QueryResult{
		Columns: uniqueColumns(names),
		Rows:    [][]any{},
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			row[i] = normalizeValue(v)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// acquire waits for a semaphore slot and a connection, together bounded by
// the acquisition timeout.
func (p *Pool) acquire(ctx context.Context) (Lease, error) {
	if p.closed.Load() {
		p.acquireFailures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrAcquire, ErrClosed)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	select {
	case p.sem <- struct{}{}:
	case <-acquireCtx.Done():
		p.acquireFailures.Add(1)
		return nil, fmt.Errorf("%w: waiting for a free connection: %w", ErrAcquire, acquireCtx.Err())
	}

	lease, err := p.leaser.Acquire(acquireCtx)
	if err != nil {
		<-p.sem
		p.acquireFailures.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrAcquire, err)
	}

	p.inUse.Add(1)
	p.leases.Add(1)
	return lease, nil
}

func (p *Pool) release(lease Lease) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("sandbox connection release panicked")
		}
		p.inUse.Add(-1)
		p.releases.Add(1)
		<-p.sem
	}()
	lease.Release()
}

// Stats reports current usage.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:        cap(p.sem),
		InUse:           p.inUse.Load(),
		Leases:          p.leases.Load(),
		Releases:        p.releases.Load(),
		AcquireFailures: p.acquireFailures.Load(),
	}
}

// Ping checks that the database behind the pool is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	return p.leaser.Ping(ctx)
}

// Close drains and closes all connections. It is meant for process shutdown.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.leaser.Close()
		log.Info().Msg("sandbox pool closed")
	})
}
