// Package postgres implements a Postgres repository using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"multab/internal/report"
	"multab/internal/storage"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN   string // connection string for pgxpool
	Table string // target table, e.g. "public.multab_runs"
}

// execer is the part of *pgxpool.Pool the repository uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool execer
	cfg  Config
}

var now = time.Now

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	pcfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repository{pool: pool, cfg: cfg}, pool.Close, nil
}

func pgFQN(table string) string {
	return pgx.Identifier(storage.SplitTable(table)).Sanitize()
}

func createSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	job TEXT NOT NULL,
	n BIGINT NOT NULL,
	workers INTEGER NOT NULL,
	distinct_products BIGINT NOT NULL,
	cells BIGINT NOT NULL,
	percent DOUBLE PRECISION NOT NULL,
	elapsed_seconds DOUBLE PRECISION NOT NULL,
	max_rss_bytes BIGINT NOT NULL,
	verified BOOLEAN NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`, pgFQN(table))
}

func insertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgFQN(table),
		strings.Join(storage.Columns, ", "),
		storage.Placeholders(len(storage.Columns), func(i int) string { return "$" + strconv.Itoa(i) }))
}

// EnsureSchema creates the results table if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createSQL(r.cfg.Table)); err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// SaveRun inserts one row.
func (r *Repository) SaveRun(ctx context.Context, job string, run report.Run) error {
	tag, err := r.pool.Exec(ctx, insertSQL(r.cfg.Table), storage.Row(job, run, now())...)
	if err != nil {
		return fmt.Errorf("postgres: insert: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("postgres: insert affected %d rows", tag.RowsAffected())
	}
	return nil
}
