package storage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multab/internal/report"
)

// fakeRepo is a minimal Repository implementation for tests.
type fakeRepo struct {
	ensured bool
	saved   []report.Run
	jobs    []string
	closed  bool
	saveErr error
}

func (f *fakeRepo) EnsureSchema(context.Context) error { f.ensured = true; return nil }
func (f *fakeRepo) SaveRun(_ context.Context, job string, run report.Run) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.jobs = append(f.jobs, job)
	f.saved = append(f.saved, run)
	return nil
}
func (f *fakeRepo) Close() { f.closed = true }

func TestRegisterAndNew(t *testing.T) {
	t.Parallel()

	Register("fake-new", func(ctx context.Context, cfg Config) (Repository, error) {
		return &fakeRepo{}, nil
	})

	repo, err := New(context.Background(), Config{Kind: "fake-new", Table: "runs"})
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Contains(t, ListKinds(), "fake-new")
}

func TestNewUnsupported(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Kind: "does-not-exist", Table: "runs"})
	require.Error(t, err)
	assert.Equal(t, "unsupported storage.kind=does-not-exist", err.Error())
}

func TestRegisterOverride(t *testing.T) {
	t.Parallel()

	calls := 0
	Register("override", func(ctx context.Context, cfg Config) (Repository, error) {
		calls++
		return &fakeRepo{}, nil
	})
	Register("override", func(ctx context.Context, cfg Config) (Repository, error) {
		calls += 10
		return &fakeRepo{}, nil
	})

	_, err := New(context.Background(), Config{Kind: "override", Table: "runs"})
	require.NoError(t, err)
	assert.Equal(t, 10, calls, "only the second factory is used")
}

func TestValidTable(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"runs", "public.multab_runs", "_x1"} {
		assert.NoError(t, ValidTable(ok), ok)
	}
	for _, bad := range []string{"", "1runs", "a.b.c", "runs; DROP TABLE x", `"runs"`, "runs "} {
		assert.Error(t, ValidTable(bad), bad)
	}
}

func TestRecord(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	Register("fake-record", func(ctx context.Context, cfg Config) (Repository, error) {
		return repo, nil
	})

	run := report.New(10, 4, 42, time.Second)
	err := Record(context.Background(), Config{Kind: "fake-record", Table: "runs"}, true, "nightly", run, nil)
	require.NoError(t, err)

	assert.True(t, repo.ensured)
	assert.True(t, repo.closed)
	assert.Equal(t, []string{"nightly"}, repo.jobs)
	assert.Equal(t, []report.Run{run}, repo.saved)
}

func TestRecordSaveError(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{saveErr: errors.New("disk full")}
	Register("fake-fail", func(ctx context.Context, cfg Config) (Repository, error) {
		return repo, nil
	})

	err := Record(context.Background(), Config{Kind: "fake-fail", Table: "runs"}, false, "j", report.Run{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, repo.ensured)
	assert.True(t, repo.closed, "repository is closed on failure")
}

func TestRowMatchesColumns(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	row := Row("j", report.New(3, 2, 6, 2*time.Second), at)
	require.Len(t, row, len(Columns))
	assert.Equal(t, "j", row[0])
	assert.Equal(t, int64(9), row[4])
	assert.Equal(t, 2.0, row[6])
	assert.Equal(t, at.UTC(), row[9])
}

func TestSplitTableAndPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"public", "runs"}, SplitTable("public.runs"))
	assert.Equal(t, []string{"runs"}, SplitTable("runs"))
	assert.Equal(t, "$1, $2, $3", Placeholders(3, func(i int) string { return "$" + strconv.Itoa(i) }))
	assert.Equal(t, "", Placeholders(0, func(int) string { return "?" }))
}
