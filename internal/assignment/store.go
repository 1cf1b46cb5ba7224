// Package assignment provides the catalog of SQL exercises: listing,
// lookup and the hidden solution query used for grading.
package assignment

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no assignment has the requested id.
var ErrNotFound = errors.New("assignment not found")

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Store reads the assignment catalog.
type Store interface {
	List(ctx context.Context, filter Filter) ([]Assignment, int, error)
	Get(ctx context.Context, id string) (*Detail, error)
	SolutionQuery(ctx context.Context, id string) (string, error)
}

// Filter selects a page of assignments. Empty fields match everything.
type Filter struct {
	Page       int
	Limit      int
	Difficulty Difficulty
	Category   string
}

// Normalize clamps paging to sane values: page starts at 1 and limit falls
// back to DefaultLimit when outside (0, MaxLimit].
func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > MaxLimit {
		f.Limit = DefaultLimit
	}
	return f
}

// Offset is the number of rows skipped before the page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

func (f Filter) matches(a Assignment) bool {
	if f.Difficulty != "" && a.Difficulty != f.Difficulty {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	return true
}
