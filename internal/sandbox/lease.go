package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Lease is a connection exclusively held by one query until Release.
type Lease interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Release()
}

// Leaser hands out leases from an underlying connection pool.
type Leaser interface {
	Acquire(ctx context.Context) (Lease, error)
	Ping(ctx context.Context) error
	Close()
}

const resetTimeout = time.Second

// pgxLeaser adapts *pgxpool.Pool to Leaser.
type pgxLeaser struct {
	pool *pgxpool.Pool
}

func newPgxLeaser(ctx context.Context, dsn string, opts Options) (*pgxLeaser, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing sandbox DSN: %w", err)
	}

	config.MaxConns = int32(opts.MaxConns) // #nosec G115 -- validated by config
	config.MinConns = 0
	config.MaxConnIdleTime = opts.IdleTimeout
	config.MaxConnLifetime = opts.MaxConnLifetime
	config.ConnConfig.ConnectTimeout = opts.AcquireTimeout
	// Unnamed statements only: user queries are never cached on a connection
	// that a different assignment will lease next.
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox pool: %w", err)
	}

	return &pgxLeaser{pool: pool}, nil
}

func (l *pgxLeaser) Acquire(ctx context.Context) (Lease, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxLease{conn: conn}, nil
}

func (l *pgxLeaser) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func (l *pgxLeaser) Close() {
	l.pool.Close()
}

type pgxLease struct {
	conn *pgxpool.Conn
}

func (c *pgxLease) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c *pgxLease) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

// Release scrubs the tenant settings before handing the connection back. A
// failed scrub is logged; a broken connection is discarded by pgxpool.
func (c *pgxLease) Release() {
	if !c.conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		for _, stmt := range []string{"RESET search_path", "RESET statement_timeout"} {
			if _, err := c.conn.Exec(ctx, stmt); err != nil {
				log.Warn().Err(err).Str("stmt", stmt).Msg("failed to reset sandbox session before release")
				break
			}
		}
		cancel()
	}
	c.conn.Release()
}
