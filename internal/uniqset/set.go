// Package uniqset provides an open-addressing set of positive 64-bit
// integers used by a worker to de-duplicate the products it generates.
//
// Slots hold the value itself; 0 marks an empty slot, which is why only
// positive values are accepted. Collisions are resolved by linear probing.
// The table size is always prime, and the table grows to the next prime at
// least twice its size once the load factor is exceeded.
package uniqset

import (
	"errors"
	"fmt"

	"modernc.org/mathutil"

	"multab/internal/mergesort"
)

// DefaultLoadFactor is the occupancy above which the table grows.
const DefaultLoadFactor = 0.7

// empty marks an unoccupied slot.
const empty int64 = 0

// ErrNonPositive is returned by AddChecked for values <= 0.
var ErrNonPositive = errors.New("uniqset: value must be positive")

// Set is a set of positive int64 values. It is not safe for concurrent use.
type Set struct {
	slots      []int64
	count      int
	hash       Hasher
	loadFactor float64
	grows      int
}

// Option configures a Set.
type Option func(*Set)

// WithHasher replaces the default Mix64 hash.
func WithHasher(h Hasher) Option {
	return func(s *Set) {
		if h != nil {
			s.hash = h
		}
	}
}

// WithLoadFactor sets the resize threshold. Values outside (0, 1) are ignored.
func WithLoadFactor(f float64) Option {
	return func(s *Set) {
		if f > 0 && f < 1 {
			s.loadFactor = f
		}
	}
}

// New returns an empty set with room for at least capacity slots.
// Any capacity works; values below 1 are raised to 1.
func New(capacity int, opts ...Option) *Set {
	s := &Set{
		hash:       Mix64,
		loadFactor: DefaultLoadFactor,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = make([]int64, primeAtLeast(max(capacity, 1)))
	return s
}

// MaxInitialCapacity caps the first allocation at 128 MiB of slots. Larger
// slices start there and grow as values arrive, so a huge slice costs
// memory in proportion to the distinct products it actually holds (at most
// about 8/loadFactor bytes each, twice that while growing) instead of
// failing on one up-front allocation.
const MaxInitialCapacity = 1 << 24

// InitialCapacity sizes a set for a slice of sliceLen pairs: a quarter of
// the slice, never below floor and never above MaxInitialCapacity.
func InitialCapacity(sliceLen int64, floor int) int {
	c := min(sliceLen/4, MaxInitialCapacity)
	if c < int64(floor) {
		return floor
	}
	return int(c)
}

// Add inserts v and reports whether it was not already present.
// Values <= 0 are never stored and always return false.
func (s *Set) Add(v int64) bool {
	if v <= 0 {
		return false
	}
	if float64(s.count+1) > s.loadFactor*float64(len(s.slots)) {
		s.grow()
	}
	return s.insert(v)
}

// AddChecked is Add with an error for values outside the set's domain.
func (s *Set) AddChecked(v int64) (bool, error) {
	if v <= 0 {
		return false, fmt.Errorf("%w: %d", ErrNonPositive, v)
	}
	return s.Add(v), nil
}

func (s *Set) insert(v int64) bool {
	size := uint64(len(s.slots))
	pos := s.hash(v) % size
	for {
		switch s.slots[pos] {
		case empty:
			s.slots[pos] = v
			s.count++
			return true
		case v:
			return false
		}
		pos++
		if pos == size {
			pos = 0
		}
	}
}

// grow rehashes every value into a table of the next prime >= 2*size.
func (s *Set) grow() {
	old := s.slots
	s.slots = make([]int64, primeAtLeast(2*len(old)))
	s.count = 0
	s.grows++
	for _, v := range old {
		if v != empty {
			s.insert(v)
		}
	}
}

// Contains reports whether v is in the set.
func (s *Set) Contains(v int64) bool {
	if v <= 0 {
		return false
	}
	size := uint64(len(s.slots))
	pos := s.hash(v) % size
	for {
		switch s.slots[pos] {
		case empty:
			return false
		case v:
			return true
		}
		pos++
		if pos == size {
			pos = 0
		}
	}
}

// Len returns the number of values in the set.
func (s *Set) Len() int { return s.count }

// Cap returns the current table size.
func (s *Set) Cap() int { return len(s.slots) }

// Grows returns how many times the table has been resized.
func (s *Set) Grows() int { return s.grows }

// Values returns the set's values in table order.
func (s *Set) Values() []int64 {
	out := make([]int64, 0, s.count)
	for _, v := range s.slots {
		if v != empty {
			out = append(out, v)
		}
	}
	return out
}

// Sorted returns the values in strictly increasing order.
func (s *Set) Sorted() []int64 {
	out := s.Values()
	mergesort.Sort(out)
	return out
}

// Release drops the backing table. The set is empty afterwards and must not
// be used again.
func (s *Set) Release() {
	s.slots = nil
	s.count = 0
}

// primeAtLeast returns the smallest prime >= n, or n itself when no larger
// prime fits in a uint64.
func primeAtLeast(n int) int {
	if n <= 2 {
		return 2
	}
	p, ok := mathutil.NextPrimeUint64(uint64(n) - 1)
	if !ok {
		return n
	}
	return int(p)
}
