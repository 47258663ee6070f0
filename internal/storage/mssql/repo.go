// Package mssql implements a Microsoft SQL Server repository using
// go-mssqldb through database/sql.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"multab/internal/report"
	"multab/internal/storage"
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN   string
	Table string // e.g. "dbo.multab_runs"
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	db  execer
	cfg Config
}

var now = time.Now

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, closeFn, nil
}

func msFQN(table string) string {
	parts := storage.SplitTable(table)
	for i, p := range parts {
		parts[i] = "[" + p + "]"
	}
	return strings.Join(parts, ".")
}

func createSQL(table string) string {
	// OBJECT_ID takes the name as a string literal; ValidTable rules out quotes.
	return fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
	id BIGINT IDENTITY(1,1) PRIMARY KEY,
	job NVARCHAR(256) NOT NULL,
	n BIGINT NOT NULL,
	workers INT NOT NULL,
	distinct_products BIGINT NOT NULL,
	cells BIGINT NOT NULL,
	[percent] FLOAT NOT NULL,
	elapsed_seconds FLOAT NOT NULL,
	max_rss_bytes BIGINT NOT NULL,
	verified BIT NOT NULL,
	recorded_at DATETIME2 NOT NULL
)`, table, msFQN(table))
}

func insertSQL(table string) string {
	cols := make([]string, len(storage.Columns))
	for i, c := range storage.Columns {
		cols[i] = "[" + c + "]"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		msFQN(table),
		strings.Join(cols, ", "),
		storage.Placeholders(len(cols), func(i int) string { return "@p" + strconv.Itoa(i) }))
}

// EnsureSchema creates the results table if needed.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSQL(r.cfg.Table)); err != nil {
		return fmt.Errorf("mssql: create table: %w", err)
	}
	return nil
}

// SaveRun inserts one row.
func (r *Repository) SaveRun(ctx context.Context, job string, run report.Run) error {
	if _, err := r.db.ExecContext(ctx, insertSQL(r.cfg.Table), storage.Row(job, run, now())...); err != nil {
		return fmt.Errorf("mssql: insert: %w", err)
	}
	return nil
}
