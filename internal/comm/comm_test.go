package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// exercise drives one member through a broadcast, a gather, a barrier and
// a variable gather, returning what the member observed.
type observed struct {
	bcast    int64
	gathered []int64
	merged   []int64
}

func exercise(ctx context.Context, g Group) (observed, error) {
	var o observed
	v, err := g.Bcast(ctx, 0, 1000)
	if err != nil {
		return o, fmt.Errorf("bcast: %w", err)
	}
	o.bcast = v

	// Rank r contributes r+1 copies of r*10.
	send := make([]int64, g.Rank()+1)
	for i := range send {
		send[i] = int64(g.Rank() * 10)
	}
	counts, err := g.Gather(ctx, 0, int64(len(send)))
	if err != nil {
		return o, fmt.Errorf("gather: %w", err)
	}
	o.gathered = counts

	if err := g.Barrier(ctx); err != nil {
		return o, fmt.Errorf("barrier: %w", err)
	}

	merged, err := g.Gatherv(ctx, 0, send, counts)
	if err != nil {
		return o, fmt.Errorf("gatherv: %w", err)
	}
	o.merged = merged
	return o, nil
}

func assertObserved(t *testing.T, size int, results []observed) {
	t.Helper()

	var wantMerged []int64
	wantCounts := make([]int64, size)
	for r := 0; r < size; r++ {
		wantCounts[r] = int64(r + 1)
		for i := 0; i <= r; i++ {
			wantMerged = append(wantMerged, int64(r*10))
		}
	}

	for r, o := range results {
		assert.Equal(t, int64(1000), o.bcast, "rank %d", r)
		if r == 0 {
			assert.Equal(t, wantCounts, o.gathered)
			assert.Equal(t, wantMerged, o.merged)
			continue
		}
		assert.Nil(t, o.gathered, "rank %d", r)
		assert.Nil(t, o.merged, "rank %d", r)
	}
}

func TestLocalCollectives(t *testing.T) {
	t.Parallel()

	for _, size := range []int{1, 2, 5} {
		size := size
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			t.Parallel()

			members, err := NewLocal(size)
			require.NoError(t, err)

			results := make([]observed, size)
			eg, ctx := errgroup.WithContext(context.Background())
			for r, g := range members {
				r, g := r, g
				eg.Go(func() error {
					defer g.Close()
					o, err := exercise(ctx, g)
					results[r] = o
					return err
				})
			}
			require.NoError(t, eg.Wait())
			assertObserved(t, size, results)
		})
	}
}

// TestLocalLargeGroup runs a group far larger than any useful table split.
// Back-to-back gathers let fast ranks reach the next round while the root
// is still collecting the previous one.
func TestLocalLargeGroup(t *testing.T) {
	t.Parallel()

	const size = 4000
	members, err := NewLocal(size)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		first, second, third []int64
		merged               []int64
	)
	eg, ctx := errgroup.WithContext(ctx)
	for r, g := range members {
		r, g := r, g
		eg.Go(func() error {
			defer g.Close()
			n, err := g.Bcast(ctx, 0, 10)
			if err != nil {
				return err
			}
			a, err := g.Gather(ctx, 0, int64(r))
			if err != nil {
				return err
			}
			b, err := g.Gather(ctx, 0, n*int64(r))
			if err != nil {
				return err
			}
			c, err := g.Gather(ctx, 1, -int64(r))
			if err != nil {
				return err
			}
			if err := g.Barrier(ctx); err != nil {
				return err
			}
			counts := make([]int64, size)
			counts[size-1] = 1
			var send []int64
			if r == size-1 {
				send = []int64{42}
			}
			m, err := g.Gatherv(ctx, 0, send, counts)
			if err != nil {
				return err
			}
			switch r {
			case 0:
				first, second, merged = a, b, m
			case 1:
				third = c
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	require.Len(t, first, size)
	require.Len(t, second, size)
	require.Len(t, third, size)
	for r := 0; r < size; r++ {
		assert.Equal(t, int64(r), first[r])
		assert.Equal(t, int64(10*r), second[r])
		assert.Equal(t, -int64(r), third[r])
	}
	assert.Equal(t, []int64{42}, merged)
}

func TestNewLocalRejectsEmptyGroup(t *testing.T) {
	t.Parallel()

	_, err := NewLocal(0)
	assert.Error(t, err)
}

// TestLocalAbortUnblocksEveryone has one member fail before the first
// collective; every other member must return an abort error instead of
// waiting forever.
func TestLocalAbortUnblocksEveryone(t *testing.T) {
	t.Parallel()

	const size = 4
	members, err := NewLocal(size)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make([]error, size)
	var wg sync.WaitGroup
	for r, g := range members {
		r, g := r, g
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r == 2 {
				g.Abort(errors.New("out of memory"))
				return
			}
			_, errs[r] = exercise(ctx, g)
		}()
	}
	wg.Wait()

	for r, err := range errs {
		if r == 2 {
			continue
		}
		require.Error(t, err, "rank %d", r)
		assert.ErrorIs(t, err, ErrAborted, "rank %d", r)

		var ae *AbortError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, 2, ae.Rank)
		assert.Equal(t, "out of memory", ae.Cause)
	}
}

func TestLocalGathervRejectsWrongCounts(t *testing.T) {
	t.Parallel()

	members, err := NewLocal(2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for r, g := range members {
		r, g := r, g
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Rank 1 sends three values but root was told two.
			_, errs[r] = g.Gatherv(ctx, 0, make([]int64, 1+2*r), []int64{1, 2})
			if r == 1 && errs[r] == nil {
				// The send itself was accepted; the failure surfaces at the
				// next collective.
				errs[r] = g.Barrier(ctx)
			}
		}()
	}
	wg.Wait()

	assert.Error(t, errs[0])
	assert.NotErrorIs(t, errs[0], context.DeadlineExceeded)
	assert.ErrorIs(t, errs[1], ErrAborted)
}

func TestClosedMemberRefusesCollectives(t *testing.T) {
	t.Parallel()

	members, err := NewLocal(1)
	require.NoError(t, err)
	require.NoError(t, members[0].Close())

	_, err = members[0].Bcast(context.Background(), 0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDisplacements(t *testing.T) {
	t.Parallel()

	displs, total := Displacements([]int64{3, 0, 2, 5})
	assert.Equal(t, []int64{0, 3, 3, 5}, displs)
	assert.Equal(t, int64(10), total)

	displs, total = Displacements(nil)
	assert.Empty(t, displs)
	assert.Zero(t, total)
}

// startTCP brings up a loopback TCP group with one goroutine per peer.
func startTCP(t *testing.T, ctx context.Context, size int) []Group {
	t.Helper()

	hub, err := Listen("127.0.0.1:0", size, TCPOptions{})
	require.NoError(t, err)

	members := make([]Group, size)
	members[0] = hub

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error { return hub.Accept(ectx) })
	for r := 1; r < size; r++ {
		r := r
		eg.Go(func() error {
			p, err := Dial(ectx, hub.Addr(), r, size, TCPOptions{DialTimeout: 5 * time.Second})
			members[r] = p
			return err
		})
	}
	require.NoError(t, eg.Wait())
	return members
}

func TestTCPCollectives(t *testing.T) {
	t.Parallel()

	const size = 4
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	members := startTCP(t, ctx, size)

	results := make([]observed, size)
	eg, ectx := errgroup.WithContext(ctx)
	for r, g := range members {
		r, g := r, g
		eg.Go(func() error {
			o, err := exercise(ectx, g)
			results[r] = o
			return err
		})
	}
	require.NoError(t, eg.Wait())
	assertObserved(t, size, results)

	for r := size - 1; r >= 0; r-- {
		assert.NoError(t, members[r].Close())
	}
}

func TestTCPPeerAbortReachesOtherPeers(t *testing.T) {
	t.Parallel()

	const size = 3
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	members := startTCP(t, ctx, size)
	defer func() {
		for _, g := range members {
			_ = g.Close()
		}
	}()

	errs := make([]error, size)
	var wg sync.WaitGroup
	for r, g := range members {
		r, g := r, g
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r == 1 {
				g.Abort(errors.New("allocation failed"))
				return
			}
			_, errs[r] = exercise(ctx, g)
		}()
	}
	wg.Wait()

	for _, r := range []int{0, 2} {
		require.Error(t, errs[r], "rank %d", r)
		assert.ErrorIs(t, errs[r], ErrAborted, "rank %d", r)
		var ae *AbortError
		require.True(t, errors.As(errs[r], &ae))
		assert.Equal(t, 1, ae.Rank)
	}
}

func TestTCPRejectsForeignRoot(t *testing.T) {
	t.Parallel()

	hub, err := Listen("127.0.0.1:0", 1, TCPOptions{})
	require.NoError(t, err)
	defer hub.Close()
	require.NoError(t, hub.Accept(context.Background()))

	_, err = hub.Bcast(context.Background(), 1, 5)
	assert.Error(t, err)

	v, err := hub.Bcast(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestDialRejectsBadRank(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "127.0.0.1:1", 0, 3, TCPOptions{})
	assert.Error(t, err)
	_, err = Dial(context.Background(), "127.0.0.1:1", 3, 3, TCPOptions{})
	assert.Error(t, err)
}
