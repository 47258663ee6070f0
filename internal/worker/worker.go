// Package worker runs one member of a counting group: it enumerates the
// member's slice of the triangular index space, de-duplicates the products
// locally, sorts them and takes part in the collective merge.
//
// Every member of a group must call Run with the same group; rank 0 is the
// coordinator and the only member that learns the final count.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"multab/internal/collective"
	"multab/internal/comm"
	"multab/internal/metrics"
	"multab/internal/partition"
	"multab/internal/uniqset"
)

// ErrInvalidN is returned on every rank when the broadcast N is not a
// supported table size.
var ErrInvalidN = errors.New("worker: invalid table size")

// State is a phase of the worker loop.
type State int

const (
	Idle State = iota
	Partitioning
	Generating
	LocalSorting
	Transferring
	Merging
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Partitioning:
		return "partitioning"
	case Generating:
		return "generating"
	case LocalSorting:
		return "local_sorting"
	case Transferring:
		return "transferring"
	case Merging:
		return "merging"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tune a worker. The zero value is usable.
type Options struct {
	Job         string
	Hasher      uniqset.Hasher
	MinCapacity int
	LoadFactor  float64
	Strategy    collective.Strategy
	Logger      logrus.FieldLogger
}

// Result is what one worker knows when it finishes. Distinct and Gathered
// are set on the coordinator only.
type Result struct {
	N           int64
	Rank        int
	Slice       partition.Slice
	Pairs       int64
	LocalUnique int64
	Distinct    int64
	Gathered    int64
	Coordinator bool
	Phases      map[State]time.Duration
}

// progressEvery is how many pairs are generated between context checks.
const progressEvery = 1 << 20

type loop struct {
	ctx   context.Context
	g     comm.Group
	opts  Options
	log   logrus.FieldLogger
	state State
	since time.Time
	res   Result
}

// Run executes the worker loop on g. n is read on rank 0 and broadcast to
// the group; other ranks may pass any value. Any local failure aborts the
// group so that no other member stays blocked in a collective.
func Run(ctx context.Context, g comm.Group, n int64, opts Options) (Result, error) {
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	if opts.Job == "" {
		opts.Job = "multab"
	}
	if opts.Hasher == nil {
		opts.Hasher = uniqset.Mix64
	}
	if opts.MinCapacity < 1 {
		opts.MinCapacity = 1024
	}
	if opts.LoadFactor <= 0 || opts.LoadFactor >= 1 {
		opts.LoadFactor = uniqset.DefaultLoadFactor
	}
	if opts.Strategy == "" {
		opts.Strategy = collective.KWay
	}

	l := &loop{
		ctx:   ctx,
		g:     g,
		opts:  opts,
		log:   opts.Logger.WithFields(logrus.Fields{"rank": g.Rank(), "size": g.Size()}),
		state: Idle,
		since: time.Now(),
		res: Result{
			Rank:        g.Rank(),
			Coordinator: g.Rank() == collective.Root,
			Phases:      make(map[State]time.Duration, int(Done)),
		},
	}
	err := l.run(n)
	if err != nil && !errors.Is(err, ErrInvalidN) {
		g.Abort(err)
		l.log.WithError(err).Error("worker failed")
	}
	return l.res, err
}

func (l *loop) run(n int64) error {
	n, err := l.g.Bcast(l.ctx, collective.Root, n)
	if err != nil {
		return fmt.Errorf("broadcast N: %w", err)
	}
	// Every rank sees the same N, so every rank rejects it the same way.
	if n < 1 || n > partition.MaxN {
		return fmt.Errorf("%w: N=%d (must be 1..%d)", ErrInvalidN, n, partition.MaxN)
	}
	l.res.N = n
	if l.res.Coordinator {
		l.log.Infof("computing M(%d) with %d workers", n, l.g.Size())
	}

	l.enter(Partitioning)
	slice, err := partition.Of(n, l.g.Size(), l.g.Rank())
	if err := l.leave(err); err != nil {
		return err
	}
	l.res.Slice = slice
	l.log.Debugf("slice %s", slice)

	l.enter(Generating)
	set, err := l.generate(slice)
	if err := l.leave(err); err != nil {
		return err
	}

	if err := l.g.Barrier(l.ctx); err != nil {
		return fmt.Errorf("barrier: %w", err)
	}
	if l.res.Coordinator {
		l.log.Info("all workers have computed their unique products")
	}

	l.enter(LocalSorting)
	sorted := set.Sorted()
	set.Release()
	l.leave(nil)

	l.enter(Transferring)
	buf, counts, err := collective.Exchange(l.ctx, l.g, sorted, l.log)
	if err := l.leave(err); err != nil {
		return err
	}

	if l.res.Coordinator {
		l.enter(Merging)
		l.res.Gathered = int64(len(buf))
		l.res.Distinct = collective.Count(buf, counts, l.opts.Strategy)
		l.leave(nil)
		metrics.RecordValues(l.opts.Job, "gathered", l.res.Gathered)
		l.log.Debugf("merged %s values into %s distinct",
			humanize.Comma(l.res.Gathered), humanize.Comma(l.res.Distinct))
	}

	l.enter(Done)
	return nil
}

// generate adds the product of every pair in slice to a fresh set.
func (l *loop) generate(slice partition.Slice) (*uniqset.Set, error) {
	set := uniqset.New(
		uniqset.InitialCapacity(slice.Len(), l.opts.MinCapacity),
		uniqset.WithHasher(l.opts.Hasher),
		uniqset.WithLoadFactor(l.opts.LoadFactor),
	)
	if slice.Empty() {
		return set, nil
	}

	c, err := partition.Seek(l.res.N, slice.Start)
	if err != nil {
		return nil, err
	}
	total := slice.Len()
	for k := int64(0); k < total; k++ {
		if k%progressEvery == 0 && k > 0 {
			if err := l.ctx.Err(); err != nil {
				return nil, err
			}
		}
		set.Add(c.Product())
		c.Next()
	}

	l.res.Pairs = total
	l.res.LocalUnique = int64(set.Len())
	metrics.RecordValues(l.opts.Job, "pairs", total)
	metrics.RecordValues(l.opts.Job, "local_unique", l.res.LocalUnique)
	l.log.Debugf("generated %s pairs, %s unique (table %s slots, %d grows)",
		humanize.Comma(total), humanize.Comma(l.res.LocalUnique),
		humanize.Comma(int64(set.Cap())), set.Grows())
	return set, nil
}

func (l *loop) enter(s State) {
	l.state = s
	l.since = time.Now()
	l.log.Debugf("-> %s", s)
}

// leave closes the current phase, recording its duration and outcome.
func (l *loop) leave(err error) error {
	d := time.Since(l.since)
	l.res.Phases[l.state] += d
	metrics.RecordPhase(l.opts.Job, l.state.String(), l.g.Rank(), err, d)
	if err != nil {
		return fmt.Errorf("%s: %w", l.state, err)
	}
	return nil
}
