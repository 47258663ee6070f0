// Package mergesort sorts a worker's unique values and counts distinct
// values across already-sorted runs.
//
// Sort is a stable top-down merge sort. It allocates one scratch buffer the
// size of the input and reuses it for every merge step.
package mergesort

import (
	"cmp"
	"container/heap"
)

// cutoff is the run length below which insertion sort is used.
const cutoff = 24

// Sort sorts s in ascending order. It is stable and runs in O(n log n).
func Sort[T cmp.Ordered](s []T) {
	if len(s) < 2 {
		return
	}
	buf := make([]T, len(s))
	sortRange(s, buf, 0, len(s))
}

// sortRange sorts s[lo:hi] using buf[lo:hi] as scratch.
func sortRange[T cmp.Ordered](s, buf []T, lo, hi int) {
	if hi-lo <= cutoff {
		insertion(s[lo:hi])
		return
	}
	mid := lo + (hi-lo)/2
	sortRange(s, buf, lo, mid)
	sortRange(s, buf, mid, hi)
	if s[mid-1] <= s[mid] {
		// Halves are already in order.
		return
	}
	merge(s, buf, lo, mid, hi)
}

func merge[T cmp.Ordered](s, buf []T, lo, mid, hi int) {
	copy(buf[lo:hi], s[lo:hi])
	i, j, k := lo, mid, lo
	for i < mid && j < hi {
		// <= keeps equal elements in their original order.
		if buf[i] <= buf[j] {
			s[k] = buf[i]
			i++
		} else {
			s[k] = buf[j]
			j++
		}
		k++
	}
	k += copy(s[k:], buf[i:mid])
	copy(s[k:], buf[j:hi])
}

func insertion[T cmp.Ordered](s []T) {
	for i := 1; i < len(s); i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}
}

// IsSorted reports whether s is in ascending order.
func IsSorted[T cmp.Ordered](s []T) bool {
	for i := 1; i < len(s); i++ {
		if s[i] < s[i-1] {
			return false
		}
	}
	return true
}

// CountDistinct counts distinct values in a sorted slice: the first element
// always counts, every later one only if it differs from its predecessor.
func CountDistinct[T cmp.Ordered](sorted []T) int64 {
	if len(sorted) == 0 {
		return 0
	}
	n := int64(1)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			n++
		}
	}
	return n
}

// MergeCountDistinct returns the number of distinct values in the union of
// two sorted slices without materializing the union.
func MergeCountDistinct[T cmp.Ordered](a, b []T) int64 {
	var (
		n     int64
		last  T
		first = true
	)
	take := func(v T) {
		if first || v != last {
			n++
			last = v
			first = false
		}
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			take(a[i])
			i++
		case a[i] > b[j]:
			take(b[j])
			j++
		default:
			take(a[i])
			i++
			j++
		}
	}
	for ; i < len(a); i++ {
		take(a[i])
	}
	for ; j < len(b); j++ {
		take(b[j])
	}
	return n
}

// KWayCountDistinct counts distinct values across any number of sorted runs
// with a min-heap over the run heads. Empty runs are ignored.
func KWayCountDistinct[T cmp.Ordered](runs [][]T) int64 {
	h := make(runHeap[T], 0, len(runs))
	for _, r := range runs {
		if len(r) > 0 {
			h = append(h, r)
		}
	}
	if len(h) == 0 {
		return 0
	}
	heap.Init(&h)

	var (
		n    int64
		last T
	)
	for first := true; len(h) > 0; first = false {
		v := h[0][0]
		if first || v != last {
			n++
			last = v
		}
		if len(h[0]) == 1 {
			heap.Pop(&h)
			continue
		}
		h[0] = h[0][1:]
		heap.Fix(&h, 0)
	}
	return n
}

// runHeap orders non-empty runs by their first element.
type runHeap[T cmp.Ordered] [][]T

func (h runHeap[T]) Len() int           { return len(h) }
func (h runHeap[T]) Less(i, j int) bool { return h[i][0] < h[j][0] }
func (h runHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *runHeap[T]) Push(x any)        { *h = append(*h, x.([]T)) }
func (h *runHeap[T]) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
