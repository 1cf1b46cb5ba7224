package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads the catalog from catalog.assignments.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// List returns one page of assignments, newest first, and the total number
// of assignments matching the filter.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Assignment, int, error) {
	filter = filter.Normalize()

	var total int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM catalog.assignments
		WHERE ($1 = '' OR difficulty = $1)
		  AND ($2 = '' OR category = $2)`,
		string(filter.Difficulty), filter.Category,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting assignments: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, title, description, difficulty, category, estimated_time
		FROM catalog.assignments
		WHERE ($1 = '' OR difficulty = $1)
		  AND ($2 = '' OR category = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		string(filter.Difficulty), filter.Category, filter.Limit, filter.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	results := make([]Assignment, 0, filter.Limit)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Difficulty, &a.Category, &a.EstimatedTime); err != nil {
			return nil, 0, fmt.Errorf("scanning assignment row: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating assignments: %w", err)
	}

	return results, total, nil
}

// Get retrieves a single assignment with its schema and sample data.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Detail, error) {
	var d Detail
	err := s.db.QueryRow(ctx, `
		SELECT id, title, description, difficulty, category, estimated_time,
			question, requirements, tables, sample_data, hints
		FROM catalog.assignments WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.Title, &d.Description, &d.Difficulty, &d.Category, &d.EstimatedTime,
		&d.Question, &d.Requirements, &d.Tables, &d.SampleData, &d.Hints,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying assignment %s: %w", id, err)
	}
	return &d, nil
}

// SolutionQuery returns the reference query of an assignment.
func (s *PostgresStore) SolutionQuery(ctx context.Context, id string) (string, error) {
	var q string
	err := s.db.QueryRow(ctx,
		`SELECT solution_query FROM catalog.assignments WHERE id = $1`, id,
	).Scan(&q)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying solution for %s: %w", id, err)
	}
	return q, nil
}

// Upsert inserts or replaces an assignment, keyed by id.
func (s *PostgresStore) Upsert(ctx context.Context, d *Detail) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO catalog.assignments (id, title, description, difficulty, category,
			estimated_time, question, requirements, tables, sample_data, hints, solution_query)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			difficulty = EXCLUDED.difficulty,
			category = EXCLUDED.category,
			estimated_time = EXCLUDED.estimated_time,
			question = EXCLUDED.question,
			requirements = EXCLUDED.requirements,
			tables = EXCLUDED.tables,
			sample_data = EXCLUDED.sample_data,
			hints = EXCLUDED.hints,
			solution_query = EXCLUDED.solution_query`,
		d.ID, d.Title, d.Description, string(d.Difficulty), d.Category,
		d.EstimatedTime, d.Question, nonNil(d.Requirements), d.Tables, d.SampleData,
		nonNil(d.Hints), d.SolutionQuery,
	)
	if err != nil {
		return fmt.Errorf("upserting assignment %s: %w", d.ID, err)
	}
	return nil
}

// Seed upserts every assignment of src into the database.
func (s *PostgresStore) Seed(ctx context.Context, src *FileStore) (int, error) {
	for i, d := range src.details {
		if err := s.Upsert(ctx, d); err != nil {
			return i, err
		}
	}
	return len(src.details), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
