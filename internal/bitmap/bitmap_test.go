package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew checks the number of backing words: IDs [0, maxID] need
// maxID/64+1 words, so 63 still fits one word and 64 needs a second.
func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		maxID   int64
		wantLen int
	}{
		{name: "negative maxID yields empty backing slice", maxID: -1, wantLen: 0},
		{name: "zero holds one id", maxID: 0, wantLen: 1},
		{name: "exact 63 boundary fits in one word", maxID: 63, wantLen: 1},
		{name: "64 spills into a second word", maxID: 64, wantLen: 2},
		{name: "large maxID", maxID: 150000000, wantLen: 150000000/64 + 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Len(t, New(tt.maxID).data, tt.wantLen)
		})
	}
}

// TestAddAndHas verifies the basic semantics: added IDs are present, others
// absent, and negative or out-of-range IDs are safely ignored.
func TestAddAndHas(t *testing.T) {
	t.Parallel()

	bm := New(200)
	assert.False(t, bm.Has(0))
	assert.False(t, bm.Has(199))

	for _, id := range []int64{0, 1, 63, 64, 127, 200} {
		assert.True(t, bm.Add(id), "first add of %d", id)
		assert.False(t, bm.Add(id), "second add of %d", id)
		assert.True(t, bm.Has(id))
	}
	assert.False(t, bm.Has(2))
	assert.Equal(t, int64(6), bm.Count())

	assert.False(t, bm.Add(-1))
	assert.False(t, bm.Add(201))
	assert.False(t, bm.Has(-1))
	assert.False(t, bm.Has(1<<40))
	assert.Equal(t, int64(6), bm.Count())
}

func TestDistinctProducts(t *testing.T) {
	t.Parallel()

	// Known values of M(N), OEIS A027424.
	known := map[int64]int64{
		1:   1,
		2:   3,
		3:   6,
		4:   9,
		5:   14,
		10:  42,
		100: 2906,
	}
	for n, want := range known {
		got, err := DistinctProducts(n)
		require.NoError(t, err)
		assert.Equal(t, want, got, "M(%d)", n)
	}
}

func TestDistinctProductsRange(t *testing.T) {
	t.Parallel()

	_, err := DistinctProducts(0)
	assert.Error(t, err)
	_, err = DistinctProducts(VerifyMaxN + 1)
	assert.Error(t, err)
}
