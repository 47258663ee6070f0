package comm

import (
	"context"
	"fmt"
	"sync/atomic"
)

type tag uint8

const (
	tagBcast tag = iota + 1
	tagGather
	tagGatherv
)

func (t tag) String() string {
	switch t {
	case tagBcast:
		return "bcast"
	case tagGather:
		return "gather"
	case tagGatherv:
		return "gatherv"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

type message struct {
	from int
	tag  tag
	ints []int64
}

// wire is the state shared by all members of a local group.
type wire struct {
	size  int
	inbox []chan message // inbox[to], shared by every sender
	abort *abortState
}

// local is one member of an in-process group.
type local struct {
	rank int
	w    *wire
	// pending holds messages taken from the inbox while waiting for a
	// different sender, in arrival order.
	pending []message
	closed  atomic.Bool
}

// NewLocal creates an in-process group and returns its members in rank
// order. Each member must be driven by its own goroutine.
func NewLocal(size int) ([]Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: group size must be >= 1, got %d", size)
	}
	w := &wire{size: size, abort: newAbortState()}
	w.inbox = make([]chan message, size)
	for to := range w.inbox {
		w.inbox[to] = make(chan message)
	}

	members := make([]Group, size)
	for r := range members {
		members[r] = &local{rank: r, w: w}
	}
	return members, nil
}

func (l *local) Rank() int { return l.rank }
func (l *local) Size() int { return l.w.size }

func (l *local) ready(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.w.abort.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (l *local) send(ctx context.Context, to int, m message) error {
	m.from = l.rank
	select {
	case l.w.inbox[to] <- m:
		return nil
	case <-l.w.abort.done():
		return l.w.abort.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recv returns the next message sent by from. Messages from other senders
// that arrive first are kept for later calls; each sender's messages are
// returned in the order it sent them.
func (l *local) recv(ctx context.Context, from int, want tag) (message, error) {
	m, ok := l.takePending(from)
	for !ok {
		select {
		case in := <-l.w.inbox[l.rank]:
			if in.from == from {
				m, ok = in, true
			} else {
				l.pending = append(l.pending, in)
			}
		case <-l.w.abort.done():
			return message{}, l.w.abort.Err()
		case <-ctx.Done():
			return message{}, ctx.Err()
		}
	}
	if m.tag != want {
		err := fmt.Errorf("comm: rank %d expected %s from rank %d, got %s", l.rank, want, from, m.tag)
		l.Abort(err)
		return message{}, err
	}
	return m, nil
}

func (l *local) takePending(from int) (message, bool) {
	for i, m := range l.pending {
		if m.from == from {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return m, true
		}
	}
	return message{}, false
}

func (l *local) Bcast(ctx context.Context, root int, v int64) (int64, error) {
	if err := checkRoot(root, l.w.size); err != nil {
		return 0, err
	}
	if err := l.ready(ctx); err != nil {
		return 0, err
	}
	if l.rank != root {
		m, err := l.recv(ctx, root, tagBcast)
		if err != nil {
			return 0, err
		}
		return m.ints[0], nil
	}
	for r := 0; r < l.w.size; r++ {
		if r == root {
			continue
		}
		if err := l.send(ctx, r, message{tag: tagBcast, ints: []int64{v}}); err != nil {
			return 0, err
		}
	}
	return v, nil
}

func (l *local) Gather(ctx context.Context, root int, v int64) ([]int64, error) {
	if err := checkRoot(root, l.w.size); err != nil {
		return nil, err
	}
	if err := l.ready(ctx); err != nil {
		return nil, err
	}
	if l.rank != root {
		return nil, l.send(ctx, root, message{tag: tagGather, ints: []int64{v}})
	}
	out := make([]int64, l.w.size)
	out[root] = v
	for r := 0; r < l.w.size; r++ {
		if r == root {
			continue
		}
		m, err := l.recv(ctx, r, tagGather)
		if err != nil {
			return nil, err
		}
		out[r] = m.ints[0]
	}
	return out, nil
}

func (l *local) Gatherv(ctx context.Context, root int, send []int64, counts []int64) ([]int64, error) {
	if err := checkRoot(root, l.w.size); err != nil {
		return nil, err
	}
	if err := l.ready(ctx); err != nil {
		return nil, err
	}
	if l.rank != root {
		// The inbox is unbuffered, so this returns only once root has
		// taken the slice.
		return nil, l.send(ctx, root, message{tag: tagGatherv, ints: send})
	}

	if err := checkCounts(counts, l.w.size); err != nil {
		l.Abort(err)
		return nil, err
	}
	displs, total := Displacements(counts)
	if int64(len(send)) != counts[root] {
		err := fmt.Errorf("comm: root sends %d values but counts[%d]=%d", len(send), root, counts[root])
		l.Abort(err)
		return nil, err
	}
	buf := make([]int64, total)
	copy(buf[displs[root]:], send)
	for r := 0; r < l.w.size; r++ {
		if r == root {
			continue
		}
		m, err := l.recv(ctx, r, tagGatherv)
		if err != nil {
			return nil, err
		}
		if int64(len(m.ints)) != counts[r] {
			err := fmt.Errorf("comm: rank %d sent %d values, expected %d", r, len(m.ints), counts[r])
			l.Abort(err)
			return nil, err
		}
		copy(buf[displs[r]:], m.ints)
	}
	return buf, nil
}

func (l *local) Barrier(ctx context.Context) error {
	if _, err := l.Gather(ctx, 0, 0); err != nil {
		return err
	}
	_, err := l.Bcast(ctx, 0, 0)
	return err
}

func (l *local) Abort(err error) {
	l.w.abort.trip(l.rank, causeText(err))
}

func (l *local) Close() error {
	l.closed.Store(true)
	return nil
}
