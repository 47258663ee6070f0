// Package bitmap provides a simple, memory-efficient bitmap over
// non-negative integer IDs, and a brute-force distinct-product count built on
// it that serves as an independent check of the distributed result.
package bitmap

import (
	"fmt"
	"math/bits"
)

// VerifyMaxN bounds DistinctProducts: the bitmap for N needs N*N bits, so
// 20000 costs 50 MB.
const VerifyMaxN = 20000

// Bitmap represents a bitset backed by a slice of uint64 words.
// Each bit corresponds to a non-negative integer ID.
type Bitmap struct {
	data []uint64
	size int64 // IDs in [0, size) are representable
}

// New allocates a bitmap that can store bits for IDs in the range [0, maxID].
//
// If maxID < 0, no backing storage is allocated and the bitmap behaves as
// an empty set.
func New(maxID int64) *Bitmap {
	if maxID < 0 {
		return &Bitmap{}
	}
	nWords := maxID/64 + 1
	return &Bitmap{
		data: make([]uint64, nWords),
		size: maxID + 1,
	}
}

// Add sets the bit for id and reports whether it was previously clear.
// Negative and out-of-range ids are ignored.
func (b *Bitmap) Add(id int64) bool {
	if id < 0 || id >= b.size {
		return false
	}
	word, bit := id/64, uint(id%64)
	if b.data[word]&(1<<bit) != 0 {
		return false
	}
	b.data[word] |= 1 << bit
	return true
}

// Has reports whether the bit for id is set. Negative and out-of-range ids
// always return false.
func (b *Bitmap) Has(id int64) bool {
	if id < 0 || id >= b.size {
		return false
	}
	return b.data[id/64]&(1<<uint(id%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int64 {
	var n int64
	for _, w := range b.data {
		n += int64(bits.OnesCount64(w))
	}
	return n
}

// DistinctProducts counts |{i*j : 1 <= i <= j <= n}| by marking every
// product in one bitmap. It is meant for cross-checking small tables.
func DistinctProducts(n int64) (int64, error) {
	if n < 1 || n > VerifyMaxN {
		return 0, fmt.Errorf("bitmap: verification supports 1 <= n <= %d, got %d", VerifyMaxN, n)
	}
	bm := New(n * n)
	for i := int64(1); i <= n; i++ {
		for j := i; j <= n; j++ {
			bm.Add(i * j)
		}
	}
	return bm.Count(), nil
}
