package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRows implements pgx.Rows over in-memory values.
type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	idx    int
	err    error
}

func newFakeRows(columns []string, data ...[]any) *fakeRows {
	fields := make([]pgconn.FieldDescription, len(columns))
	for i, c := range columns {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return &fakeRows{fields: fields, data: data}
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.data)))
}
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(...any) error      { return errors.New("scan not supported by fakeRows") }
func (r *fakeRows) Values() ([]any, error) { return r.data[r.idx-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type queryFunc func(ctx context.Context, sql string) (pgx.Rows, error)

// fakeLeaser counts acquire/release calls and the peak number of leases held
// at once.
type fakeLeaser struct {
	mu         sync.Mutex
	acquired   int
	released   int
	active     int
	peakActive int
	execs      []string
	closed     bool

	acquireErr error
	execErr    map[string]error
	query      queryFunc
}

func (l *fakeLeaser) Acquire(ctx context.Context) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.acquireErr != nil {
		return nil, l.acquireErr
	}
	l.acquired++
	l.active++
	if l.active > l.peakActive {
		l.peakActive = l.active
	}
	return &fakeLease{leaser: l}, nil
}

func (l *fakeLeaser) Ping(context.Context) error { return nil }

func (l *fakeLeaser) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *fakeLeaser) counts() (acquired, released, peak int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released, l.peakActive
}

type fakeLease struct {
	leaser   *fakeLeaser
	released bool
}

func (c *fakeLease) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.leaser.mu.Lock()
	defer c.leaser.mu.Unlock()
	c.leaser.execs = append(c.leaser.execs, sql)
	if err, ok := c.leaser.execErr[sql]; ok {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("SET"), nil
}

func (c *fakeLease) Query(ctx context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if c.leaser.query == nil {
		return newFakeRows(nil), nil
	}
	return c.leaser.query(ctx, sql)
}

func (c *fakeLease) Release() {
	c.leaser.mu.Lock()
	defer c.leaser.mu.Unlock()
	if c.released {
		panic("lease released twice")
	}
	c.released = true
	c.leaser.released++
	c.leaser.active--
}
