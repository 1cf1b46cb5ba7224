package assignment

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"safe-sql-sandbox/internal/sandbox"
)

// FileStore is an in-memory catalog loaded from YAML. Listing keeps file
// order. It is read-only after construction and safe for concurrent use.
type FileStore struct {
	details []*Detail
	byID    map[string]*Detail
}

type catalogFile struct {
	Assignments []Detail `yaml:"assignments"`
}

// LoadFile reads a YAML catalog of the form:
//
//	assignments:
//	  - id: select_basics
//	    title: Basic SELECT
//	    ...
func LoadFile(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	return NewFileStore(cf.Assignments)
}

// NewFileStore validates details and builds a store over them.
func NewFileStore(details []Detail) (*FileStore, error) {
	s := &FileStore{byID: make(map[string]*Detail, len(details))}
	for i := range details {
		d := details[i]
		if _, err := sandbox.SchemaName(d.ID); err != nil {
			return nil, fmt.Errorf("assignment %d: %w", i, err)
		}
		if _, dup := s.byID[d.ID]; dup {
			return nil, fmt.Errorf("assignment %d: duplicate id %q", i, d.ID)
		}
		if d.Difficulty != "" && !d.Difficulty.Valid() {
			return nil, fmt.Errorf("assignment %s: unknown difficulty %q", d.ID, d.Difficulty)
		}
		s.details = append(s.details, &d)
		s.byID[d.ID] = &d
	}
	return s, nil
}

// Len returns the number of assignments.
func (s *FileStore) Len() int {
	return len(s.details)
}

func (s *FileStore) List(_ context.Context, filter Filter) ([]Assignment, int, error) {
	filter = filter.Normalize()

	var matched []Assignment
	for _, d := range s.details {
		if filter.matches(d.Assignment) {
			matched = append(matched, d.Assignment)
		}
	}

	total := len(matched)
	start := min(filter.Offset(), total)
	end := min(start+filter.Limit, total)

	page := make([]Assignment, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

func (s *FileStore) Get(_ context.Context, id string) (*Detail, error) {
	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *FileStore) SolutionQuery(_ context.Context, id string) (string, error) {
	d, ok := s.byID[id]
	if !ok {
		return "", ErrNotFound
	}
	return d.SolutionQuery, nil
}
