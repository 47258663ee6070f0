// Package mysql implements a MySQL repository on database/sql with
// go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"multab/internal/report"
	"multab/internal/storage"
)

// Config holds MySQL repository configuration.
type Config struct {
	DSN   string // e.g. "user:pw@tcp(localhost:3306)/stats"
	Table string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	db  execer
	cfg Config
}

var now = time.Now

// NewRepository parses the DSN, opens a pool and pings it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	mc.ParseTime = true
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(conn)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

func myFQN(table string) string {
	parts := storage.SplitTable(table)
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, ".")
}

func createSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	job VARCHAR(256) NOT NULL,
	n BIGINT NOT NULL,
	workers INT NOT NULL,
	distinct_products BIGINT NOT NULL,
	cells BIGINT NOT NULL,
	percent DOUBLE NOT NULL,
	elapsed_seconds DOUBLE NOT NULL,
	max_rss_bytes BIGINT NOT NULL,
	verified BOOLEAN NOT NULL,
	recorded_at DATETIME(6) NOT NULL
)`, myFQN(table))
}

func insertSQL(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		myFQN(table),
		strings.Join(storage.Columns, ", "),
		storage.Placeholders(len(storage.Columns), func(int) string { return "?" }))
}

// EnsureSchema creates the results table if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSQL(r.cfg.Table)); err != nil {
		return fmt.Errorf("mysql: create table: %w", err)
	}
	return nil
}

// SaveRun inserts one row.
func (r *Repository) SaveRun(ctx context.Context, job string, run report.Run) error {
	if _, err := r.db.ExecContext(ctx, insertSQL(r.cfg.Table), storage.Row(job, run, now())...); err != nil {
		return fmt.Errorf("mysql: insert: %w", err)
	}
	return nil
}
