// Package storage persists the assignment catalog and attempt history in
// PostgreSQL.
package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxQueryLen      = 65535
)

// DB wraps a PostgreSQL connection pool for the catalog and attempt history.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string, maxConns int) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Pool exposes the underlying pool for repositories sharing it.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// Migrate creates the catalog schema and tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	log.Info().Msg("database schema up to date")
	return nil
}

// LogAttempt inserts an attempt record.
func (db *DB) LogAttempt(ctx context.Context, a *Attempt) error {
	prepareAttempt(a)

	query := `
		INSERT INTO catalog.attempts (id, user_id, assignment_id, query,
			execution_time_ms, row_count, correctness, hints_used, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.pool.Exec(ctx, query,
		a.ID, a.UserID, a.AssignmentID,
		truncateForDB(a.Query, maxQueryLen),
		a.ExecutionTimeMs, a.RowCount, a.Correctness, a.HintsUsed,
		a.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts newest first, plus the total matching the
// filter.
func (db *DB) ListAttempts(ctx context.Context, filter AttemptFilter) ([]Attempt, int, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var total int
	err := db.pool.QueryRow(ctx, `
		SELECT count(*) FROM catalog.attempts
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR assignment_id = $2)`,
		filter.UserID, filter.AssignmentID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting attempts: %w", err)
	}

	rows, err := db.pool.Query(ctx, `
		SELECT id, user_id, assignment_id, query, execution_time_ms,
			row_count, correctness, hints_used, attempted_at
		FROM catalog.attempts
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR assignment_id = $2)
		ORDER BY attempted_at DESC
		LIMIT $3 OFFSET $4`,
		filter.UserID, filter.AssignmentID, filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	results := make([]Attempt, 0, filter.Limit)
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.AssignmentID, &a.Query, &a.ExecutionTimeMs,
			&a.RowCount, &a.Correctness, &a.HintsUsed, &a.AttemptedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning attempt row: %w", err)
		}
		results = append(results, a)
	}

	return results, total, rows.Err()
}

// prepareAttempt fills the generated fields of a.
func prepareAttempt(a *Attempt) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	if strings.TrimSpace(a.Correctness) == "" {
		a.Correctness = "unknown"
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return defaultListLimit
	}
	return limit
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
