package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testDetails() []Detail {
	mk := func(id string, diff Difficulty, cat string) Detail {
		return Detail{
			Assignment:    Assignment{ID: id, Title: "T " + id, Difficulty: diff, Category: cat},
			Question:      "Q " + id,
			Hints:         []string{"h1 " + id, "h2 " + id},
			SolutionQuery: "SELECT 1",
		}
	}
	return []Detail{
		mk("a1", DifficultyEasy, "basics"),
		mk("a2", DifficultyEasy, "joins"),
		mk("a3", DifficultyMedium, "basics"),
		mk("a4", DifficultyHard, "basics"),
		mk("a5", DifficultyEasy, "basics"),
	}
}

func ids(as []Assignment) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

func TestFileStore_List(t *testing.T) {
	s, err := NewFileStore(testDetails())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	tests := []struct {
		name      string
		filter    Filter
		wantIDs   []string
		wantTotal int
	}{
		{"defaults", Filter{}, []string{"a1", "a2", "a3", "a4", "a5"}, 5},
		{"page size", Filter{Page: 1, Limit: 2}, []string{"a1", "a2"}, 5},
		{"second page", Filter{Page: 2, Limit: 2}, []string{"a3", "a4"}, 5},
		{"past end", Filter{Page: 9, Limit: 2}, []string{}, 5},
		{"difficulty", Filter{Difficulty: DifficultyEasy}, []string{"a1", "a2", "a5"}, 3},
		{"category", Filter{Category: "basics", Limit: 2}, []string{"a1", "a3"}, 4},
		{"both", Filter{Difficulty: DifficultyEasy, Category: "basics"}, []string{"a1", "a5"}, 2},
		{"no match", Filter{Category: "window"}, []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if diff := cmp.Diff(tt.wantIDs, ids(got)); diff != "" {
				t.Errorf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilter_Normalize(t *testing.T) {
	tests := []struct {
		in   Filter
		want Filter
	}{
		{Filter{}, Filter{Page: 1, Limit: DefaultLimit}},
		{Filter{Page: -3, Limit: 500}, Filter{Page: 1, Limit: DefaultLimit}},
		{Filter{Page: 3, Limit: 100}, Filter{Page: 3, Limit: 100}},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(); got != tt.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
	if off := (Filter{Page: 3, Limit: 10}).Offset(); off != 20 {
		t.Errorf("Offset = %d, want 20", off)
	}
}

func TestFileStore_GetAndSolution(t *testing.T) {
	s, err := NewFileStore(testDetails())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	d, err := s.Get(ctx, "a3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Question != "Q a3" || d.Difficulty != DifficultyMedium {
		t.Errorf("unexpected detail: %+v", d)
	}

	// Mutating the returned copy must not leak into the store.
	d.Title = "changed"
	again, _ := s.Get(ctx, "a3")
	if again.Title != "T a3" {
		t.Errorf("store was mutated through Get: %q", again.Title)
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrNotFound", err)
	}

	q, err := s.SolutionQuery(ctx, "a1")
	if err != nil || q != "SELECT 1" {
		t.Errorf("SolutionQuery = %q, %v", q, err)
	}
	if _, err := s.SolutionQuery(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SolutionQuery(nope) error = %v, want ErrNotFound", err)
	}
}

func TestNewFileStore_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		details []Detail
	}{
		{"bad id", []Detail{{Assignment: Assignment{ID: "a-b"}}}},
		{"empty id", []Detail{{}}},
		{"duplicate", []Detail{{Assignment: Assignment{ID: "x"}}, {Assignment: Assignment{ID: "x"}}}},
		{"difficulty", []Detail{{Assignment: Assignment{ID: "x", Difficulty: "insane"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFileStore(tt.details); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDetail_JSONHidesSecrets(t *testing.T) {
	d := testDetails()[0]
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, secret := range []string{"SELECT 1", "h1 a1", "solution", "hints"} {
		if strings.Contains(s, secret) {
			t.Errorf("JSON leaks %q: %s", secret, s)
		}
	}
	for _, field := range []string{`"id":"a1"`, `"question":"Q a1"`, `"estimatedTime":0`} {
		if !strings.Contains(s, field) {
			t.Errorf("JSON missing %s: %s", field, s)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
assignments:
  - id: joins_basic
    title: Joins
    difficulty: medium
    category: joins
    estimated_time: 12
    requirements: [Use JOIN]
    tables:
      - name: orders
        columns:
          - { name: id, type: INTEGER, primary_key: true }
          - name: customer_id
            type: INTEGER
            nullable: true
            foreign_key: { table: customers, column: id }
    sample_data:
      orders:
        - { id: 1, customer_id: 7 }
    solution_query: SELECT * FROM orders JOIN customers ON customers.id = orders.customer_id
    hints: [Think about the join key]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	d, err := s.Get(context.Background(), "joins_basic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := []TableSchema{{
		Name: "orders",
		Columns: []ColumnDefinition{
			{Name: "id", Type: "INTEGER", PrimaryKey: true},
			{Name: "customer_id", Type: "INTEGER", Nullable: true, ForeignKey: &ForeignKey{Table: "customers", Column: "id"}},
		},
	}}
	if diff := cmp.Diff(want, d.Tables); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
	if d.EstimatedTime != 12 || d.Hints[0] != "Think about the join key" {
		t.Errorf("unexpected detail: %+v", d)
	}
	if got := d.SampleData["orders"][0]["customer_id"]; got != 7 {
		t.Errorf("sample customer_id = %#v", got)
	}
}

func TestLoadFile_ShippedCatalog(t *testing.T) {
	s, err := LoadFile(filepath.Join("..", "..", "configs", "assignments.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Len() == 0 {
		t.Fatal("shipped catalog is empty")
	}
	for _, id := range []string{"select_basics", "where_filtering", "department_totals"} {
		q, err := s.SolutionQuery(context.Background(), id)
		if err != nil || q == "" {
			t.Errorf("SolutionQuery(%s) = %q, %v", id, q, err)
		}
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("assignments: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}
