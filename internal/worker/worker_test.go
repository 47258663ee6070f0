package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"multab/internal/bitmap"
	"multab/internal/collective"
	"multab/internal/comm"
	"multab/internal/uniqset"
)

// runGroup runs the loop on every member of a local group of the given size
// and returns each rank's result and error.
func runGroup(t *testing.T, n int64, workers int, opts Options) ([]Result, []error) {
	t.Helper()

	members, err := comm.NewLocal(workers)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make([]Result, workers)
	errs := make([]error, workers)
	var eg errgroup.Group
	for r, g := range members {
		r, g := r, g
		eg.Go(func() error {
			// Only the coordinator's N matters.
			in := int64(-1)
			if r == 0 {
				in = n
			}
			results[r], errs[r] = Run(ctx, g, in, opts)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	return results, errs
}

func TestKnownValues(t *testing.T) {
	t.Parallel()

	known := []struct {
		n    int64
		want int64
	}{
		{1, 1},
		{2, 3},
		{3, 6},
		{10, 42},
	}
	for _, w := range []int{1, 4} {
		for _, k := range known {
			results, errs := runGroup(t, k.n, w, Options{})
			for r, err := range errs {
				require.NoError(t, err, "rank %d", r)
			}
			assert.Equal(t, k.want, results[0].Distinct, "M(%d) with %d workers", k.n, w)
			assert.True(t, results[0].Coordinator)
		}
	}
}

// TestWorkerCountInvariance checks that the count does not depend on W, on
// the hash, or on the merge strategy.
func TestWorkerCountInvariance(t *testing.T) {
	t.Parallel()

	for _, n := range []int64{7, 31, 100} {
		want, err := bitmap.DistinctProducts(n)
		require.NoError(t, err)

		for _, w := range []int{1, 2, 3, 5, 8} {
			for _, opts := range []Options{
				{},
				{Hasher: uniqset.XXH3, Strategy: collective.Resort, MinCapacity: 1, LoadFactor: 0.5},
			} {
				results, errs := runGroup(t, n, w, opts)
				require.NoError(t, errors.Join(errs...))
				assert.Equal(t, want, results[0].Distinct, "n=%d w=%d", n, w)

				var pairs int64
				for _, res := range results {
					pairs += res.Pairs
					assert.Equal(t, n, res.N, "every rank learns N")
					assert.LessOrEqual(t, res.LocalUnique, res.Pairs)
				}
				assert.Equal(t, n*(n+1)/2, pairs)
			}
		}
	}
}

func TestMoreWorkersThanPairs(t *testing.T) {
	t.Parallel()

	// N=2 has three pairs; ranks 3..5 get empty slices.
	results, errs := runGroup(t, 2, 6, Options{})
	require.NoError(t, errors.Join(errs...))
	assert.Equal(t, int64(3), results[0].Distinct)
	assert.Equal(t, int64(3), results[0].Gathered)
	for r := 3; r < 6; r++ {
		assert.True(t, results[r].Slice.Empty(), "rank %d", r)
		assert.Zero(t, results[r].Pairs)
	}
}

func TestThousandsOfWorkersOnSmallTable(t *testing.T) {
	t.Parallel()

	// N=10 has 55 pairs, so almost every rank is idle.
	const workers = 3000
	results, errs := runGroup(t, 10, workers, Options{MinCapacity: 16})
	require.NoError(t, errors.Join(errs...))
	assert.Equal(t, int64(42), results[0].Distinct)

	var pairs int64
	for _, res := range results {
		pairs += res.Pairs
	}
	assert.Equal(t, int64(55), pairs)
	assert.True(t, results[workers-1].Slice.Empty())
}

func TestInvalidNFailsEveryRank(t *testing.T) {
	t.Parallel()

	for _, n := range []int64{0, -3, 3037000500} {
		_, errs := runGroup(t, n, 3, Options{})
		for r, err := range errs {
			assert.ErrorIs(t, err, ErrInvalidN, "n=%d rank %d", n, r)
			assert.NotErrorIs(t, err, comm.ErrAborted)
		}
	}
}

func TestPhasesAreRecorded(t *testing.T) {
	t.Parallel()

	results, errs := runGroup(t, 20, 2, Options{})
	require.NoError(t, errors.Join(errs...))

	assert.Contains(t, results[0].Phases, Merging)
	assert.NotContains(t, results[1].Phases, Merging, "only the coordinator merges")
	for _, res := range results {
		for _, s := range []State{Partitioning, Generating, LocalSorting, Transferring} {
			assert.Contains(t, res.Phases, s, "rank %d", res.Rank)
		}
	}
}

// TestAbortedGroupFails checks that a member that never shows up at a
// collective, because it aborted, releases the others with ErrAborted.
func TestAbortedGroupFails(t *testing.T) {
	t.Parallel()

	members, err := comm.NewLocal(3)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make([]error, 2)
	var eg errgroup.Group
	for r := 0; r < 2; r++ {
		r := r
		eg.Go(func() error {
			_, errs[r] = Run(ctx, members[r], 50, Options{})
			return nil
		})
	}
	members[2].Abort(errors.New("disk on fire"))
	require.NoError(t, eg.Wait())

	for r, err := range errs {
		assert.ErrorIs(t, err, comm.ErrAborted, "rank %d", r)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "local_sorting", LocalSorting.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "state(42)", State(42).String())
}
