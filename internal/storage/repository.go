// Package storage records run reports in a database. Backends live in
// subpackages and register a Factory under their kind in init; import
// multab/internal/storage/all to enable every built-in backend.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"multab/internal/report"
)

// Repository stores the outcome of finished runs. Nothing is ever read back
// by multab itself.
type Repository interface {
	// EnsureSchema creates the results table when it does not exist.
	EnsureSchema(ctx context.Context) error
	// SaveRun appends one run.
	SaveRun(ctx context.Context, job string, run report.Run) error
	// Close releases the connection pool.
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind  string
	DSN   string
	Table string
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Registering a kind twice
// replaces the earlier factory.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New opens the backend selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	if err := ValidTable(cfg.Table); err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

var tableRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTable accepts "table" or "schema.table" made of plain identifiers.
// Backends interpolate the name into DDL, so nothing else is allowed.
func ValidTable(name string) error {
	if !tableRE.MatchString(name) {
		return fmt.Errorf("storage: invalid table name %q", name)
	}
	return nil
}

// Columns is the results table layout shared by every backend, in insert
// order.
var Columns = []string{
	"job", "n", "workers", "distinct_products", "cells",
	"percent", "elapsed_seconds", "max_rss_bytes", "verified", "recorded_at",
}

// Row returns the values of Columns for one run.
func Row(job string, run report.Run, at time.Time) []any {
	return []any{
		job, run.N, run.Workers, run.Distinct, run.Cells,
		run.Percent, run.Elapsed.Seconds(), int64(run.MaxRSS), run.Verified, at.UTC(),
	}
}

// Record opens the configured backend, creates the table when autoCreate is
// set and saves run.
func Record(ctx context.Context, cfg Config, autoCreate bool, job string, run report.Run, log logrus.FieldLogger) error {
	repo, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if autoCreate {
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("storage: ensure %s: %w", cfg.Table, err)
		}
	}
	if err := repo.SaveRun(ctx, job, run); err != nil {
		return fmt.Errorf("storage: save run: %w", err)
	}
	if log != nil {
		log.WithFields(logrus.Fields{"kind": cfg.Kind, "table": cfg.Table}).Info("run recorded")
	}
	return nil
}

// SplitTable returns the identifier parts of a name accepted by ValidTable.
func SplitTable(name string) []string {
	return strings.Split(name, ".")
}

// Placeholders returns n bind markers produced by mark(i), i starting at 1,
// joined with commas.
func Placeholders(n int, mark func(i int) string) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = mark(i + 1)
	}
	return strings.Join(ps, ", ")
}
