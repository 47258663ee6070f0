// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"multab/internal/report"
	"multab/internal/storage"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:multab.db?cache=shared"
	//   "multab.db"
	DSN string

	// Table is the results table, e.g. "multab_runs" or "main.multab_runs".
	Table string
}

// execer is the part of *sql.DB the repository uses.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	db  execer
	cfg Config
}

var now = time.Now

// NewRepository opens a SQLite connection using the provided DSN and returns
// a Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	closeFn := func() { db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

func quoteIdent(table string) string {
	parts := storage.SplitTable(table)
	for i, p := range parts {
		parts[i] = `"` + p + `"`
	}
	return strings.Join(parts, ".")
}

func createSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job TEXT NOT NULL,
	n INTEGER NOT NULL,
	workers INTEGER NOT NULL,
	distinct_products INTEGER NOT NULL,
	cells INTEGER NOT NULL,
	percent REAL NOT NULL,
	elapsed_seconds REAL NOT NULL,
	max_rss_bytes INTEGER NOT NULL,
	verified INTEGER NOT NULL,
	recorded_at TIMESTAMP NOT NULL
)`, quoteIdent(table))
}

func insertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table),
		strings.Join(storage.Columns, ", "),
		storage.Placeholders(len(storage.Columns), func(int) string { return "?" }))
}

// EnsureSchema creates the results table if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSQL(r.cfg.Table)); err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

// SaveRun inserts one row.
func (r *Repository) SaveRun(ctx context.Context, job string, run report.Run) error {
	if _, err := r.db.ExecContext(ctx, insertSQL(r.cfg.Table), storage.Row(job, run, now())...); err != nil {
		return fmt.Errorf("sqlite: insert: %w", err)
	}
	return nil
}
