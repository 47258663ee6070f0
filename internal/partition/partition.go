// Package partition splits the triangular index space of an N×N
// multiplication table across a fixed group of workers.
//
// The index space is the row-major enumeration of pairs (i, j) with
// 1 <= i <= j <= N:
//
//	idx 0      -> (1, 1)
//	idx 1      -> (1, 2)
//	...
//	idx N-1    -> (1, N)
//	idx N      -> (2, 2)
//	...
//	idx T-1    -> (N, N)     where T = N(N+1)/2
//
// Every worker derives its own slice from (N, workers, rank) alone, so no
// coordination is needed to agree on ownership.
package partition

import (
	"errors"
	"fmt"
)

// MaxN is the largest table side whose square fits in an int64. Products
// i*j and the pair count N(N+1)/2 are both bounded by N*N.
//
// MaxN bounds arithmetic, not memory: a worker holds up to one 8-byte slot
// per distinct product in its slice over the set's load factor, and the
// coordinator gathers every worker's values. The set's first allocation is
// capped by uniqset.MaxInitialCapacity.
const MaxN int64 = 3037000499

// ErrOverflow is returned when N is outside [1, MaxN].
var ErrOverflow = errors.New("partition: n out of supported range")

// Slice is the inclusive range [Start, End] of linear indices owned by one
// worker. A slice with Start > End is empty; that is a valid assignment when
// there are more workers than pairs.
type Slice struct {
	Rank  int
	Start int64
	End   int64
}

// Len returns the number of indices in the slice.
func (s Slice) Len() int64 {
	if s.Start > s.End {
		return 0
	}
	return s.End - s.Start + 1
}

// Empty reports whether the slice covers no indices.
func (s Slice) Empty() bool { return s.Start > s.End }

func (s Slice) String() string {
	if s.Empty() {
		return fmt.Sprintf("rank %d: empty", s.Rank)
	}
	return fmt.Sprintf("rank %d: [%d, %d] (%d pairs)", s.Rank, s.Start, s.End, s.Len())
}

// TotalPairs returns N(N+1)/2, the size of the triangular index space.
func TotalPairs(n int64) (int64, error) {
	if n < 1 || n > MaxN {
		return 0, fmt.Errorf("%w: n=%d (want 1..%d)", ErrOverflow, n, MaxN)
	}
	// One of n, n+1 is even; halve it first so the product cannot overflow.
	if n%2 == 0 {
		return (n / 2) * (n + 1), nil
	}
	return n * ((n + 1) / 2), nil
}

// Of returns the slice owned by rank in a group of the given size.
//
// The first total%workers ranks receive one extra index, so slice lengths
// differ by at most one.
func Of(n int64, workers, rank int) (Slice, error) {
	if workers < 1 {
		return Slice{}, fmt.Errorf("partition: workers must be >= 1, got %d", workers)
	}
	if rank < 0 || rank >= workers {
		return Slice{}, fmt.Errorf("partition: rank %d out of range [0, %d)", rank, workers)
	}
	total, err := TotalPairs(n)
	if err != nil {
		return Slice{}, err
	}

	w := int64(workers)
	r := int64(rank)
	base := total / w
	rem := total % w

	start := r*base + min(r, rem)
	end := start + base - 1
	if r < rem {
		end++
	}
	return Slice{Rank: rank, Start: start, End: end}, nil
}

// All returns the slices of every rank, in rank order.
func All(n int64, workers int) ([]Slice, error) {
	out := make([]Slice, 0, max(workers, 0))
	for r := 0; r < workers; r++ {
		s, err := Of(n, workers, r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Each calls fn for every pair in s, in row-major order.
func (s Slice) Each(n int64, fn func(i, j int64)) error {
	if s.Empty() {
		return nil
	}
	c, err := Seek(n, s.Start)
	if err != nil {
		return err
	}
	for k := s.Start; k <= s.End; k++ {
		fn(c.I, c.J)
		c.Next()
	}
	return nil
}
