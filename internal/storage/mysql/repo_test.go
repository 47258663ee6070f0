package mysql

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multab/internal/report"
	"multab/internal/storage"
)

type fakeExec struct {
	queries []string
	args    [][]any
}

func (f *fakeExec) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, q)
	f.args = append(f.args, args)
	return nil, nil
}

func TestSaveRun(t *testing.T) {
	t.Parallel()

	fx := &fakeExec{}
	r := &Repository{db: fx, cfg: Config{Table: "stats.runs"}}
	require.NoError(t, r.EnsureSchema(context.Background()))
	require.NoError(t, r.SaveRun(context.Background(), "j", report.New(5, 3, 14, time.Second)))

	require.Len(t, fx.queries, 2)
	assert.Contains(t, fx.queries[0], "CREATE TABLE IF NOT EXISTS `stats`.`runs`")
	assert.Equal(t,
		"INSERT INTO `stats`.`runs` (job, n, workers, distinct_products, cells, percent, elapsed_seconds, max_rss_bytes, verified, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		fx.queries[1])
	assert.Equal(t, int64(14), fx.args[1][3])
}

func TestNewRepositoryRejectsBadDSN(t *testing.T) {
	t.Parallel()

	_, _, err := NewRepository(context.Background(), Config{DSN: "no-slash-here"})
	assert.ErrorContains(t, err, "mysql dsn")
}

func TestAdapterRegistration(t *testing.T) {
	orig := newRepository
	defer func() { newRepository = orig }()

	closed := false
	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		return &Repository{cfg: cfg}, func() { closed = true }, nil
	}

	repo, err := storage.New(context.Background(), storage.Config{Kind: "mysql", DSN: "u@/db", Table: "runs"})
	require.NoError(t, err)
	repo.Close()
	assert.True(t, closed)
}
