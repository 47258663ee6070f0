// Package collective merges every worker's sorted unique values at the
// coordinator and counts the distinct values of the whole table.
//
// The protocol has three steps:
//
//  1. size exchange: Gather each worker's sequence length at the root;
//  2. gather: Gatherv every sequence into one buffer laid out by prefix sums
//     of the lengths;
//  3. merge-dedup: count distinct values in the buffer.
//
// Local de-duplication already removed repeats within a worker; step 3
// removes values found by more than one worker.
package collective

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"multab/internal/comm"
	"multab/internal/mergesort"
)

// Strategy selects how the root counts distinct values in the gathered buffer.
type Strategy string

const (
	// KWay merges the per-worker runs in place; each run is already sorted.
	KWay Strategy = "kway"
	// Resort merge-sorts the whole buffer and then counts adjacent changes.
	Resort Strategy = "sort"
)

// ParseStrategy resolves a configured strategy name; empty selects KWay.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", KWay:
		return KWay, nil
	case Resort:
		return Resort, nil
	default:
		return "", fmt.Errorf("collective: unknown merge strategy %q", s)
	}
}

// Root is the rank that receives every sequence.
const Root = 0

// Exchange performs the size exchange and the gather. At the root it
// returns the concatenated sequences and per-rank lengths; elsewhere both
// are nil. sorted must be strictly increasing; ownership passes to the group
// and the caller must not modify it afterwards.
func Exchange(ctx context.Context, g comm.Group, sorted []int64, log logrus.FieldLogger) ([]int64, []int64, error) {
	counts, err := g.Gather(ctx, Root, int64(len(sorted)))
	if err != nil {
		return nil, nil, fmt.Errorf("size exchange: %w", err)
	}

	if g.Rank() != Root {
		if _, err := g.Gatherv(ctx, Root, sorted, nil); err != nil {
			return nil, nil, fmt.Errorf("gather values: %w", err)
		}
		return nil, nil, nil
	}

	total := lo.Sum(counts)
	if log != nil {
		log.Debugf("gathering %s values (%s) from %d workers",
			humanize.Comma(total), humanize.IBytes(uint64(total)*8), len(counts))
	}

	buf, err := g.Gatherv(ctx, Root, sorted, counts)
	if err != nil {
		return nil, nil, fmt.Errorf("gather values: %w", err)
	}
	return buf, counts, nil
}

// Count returns the number of distinct values in a gathered buffer whose
// per-rank runs are each sorted. Resort reorders buf.
func Count(buf []int64, counts []int64, strategy Strategy) int64 {
	if strategy == Resort {
		mergesort.Sort(buf)
		return mergesort.CountDistinct(buf)
	}
	return mergesort.KWayCountDistinct(Runs(buf, counts))
}

// Runs splits a gathered buffer back into per-rank runs.
func Runs(buf []int64, counts []int64) [][]int64 {
	displs, _ := comm.Displacements(counts)
	runs := make([][]int64, len(counts))
	for r, c := range counts {
		runs[r] = buf[displs[r] : displs[r]+c]
	}
	return runs
}
