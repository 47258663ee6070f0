package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Peer is a non-coordinator member of a TCP group.
type Peer struct {
	rank  int
	size  int
	l     *link
	abort *abortState
	log   logrus.FieldLogger

	closed atomic.Bool
}

var _ Group = (*Peer)(nil)

// Dial connects rank to the coordinator at addr, retrying with exponential
// backoff until the coordinator is reachable or opts.DialTimeout passes.
func Dial(ctx context.Context, addr string, rank, size int, opts TCPOptions) (*Peer, error) {
	if size < 2 {
		return nil, fmt.Errorf("comm: a peer needs a group of at least 2, got %d", size)
	}
	if rank < 1 || rank >= size {
		return nil, fmt.Errorf("comm: peer rank %d out of range [1, %d)", rank, size)
	}
	log := opts.logger().WithField("rank", rank)

	limit := opts.DialTimeout
	if limit <= 0 {
		limit = 30 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = limit

	var nc net.Conn
	var d net.Dialer
	err := backoff.RetryNotify(func() error {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		nc = c
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.WithError(err).Debugf("coordinator %s not reachable, retrying in %s", addr, wait)
	})
	if err != nil {
		return nil, fmt.Errorf("comm: dial coordinator %s: %w", addr, err)
	}

	l := newLink(nc)
	l.rank = 0
	if err := l.write(frame{Kind: kindHello, From: rank, Size: size}); err != nil {
		_ = nc.Close()
		return nil, err
	}

	p := &Peer{rank: rank, size: size, l: l, abort: newAbortState(), log: log}
	go l.serve(p.abort,
		func(f frame) { p.abort.trip(f.From, f.Err) },
		func(err error) {
			if p.closed.Load() {
				return
			}
			p.abort.trip(0, fmt.Sprintf("connection to coordinator lost: %v", err))
		},
	)
	log.Debugf("connected to coordinator %s", addr)
	return p, nil
}

func (p *Peer) Rank() int { return p.rank }
func (p *Peer) Size() int { return p.size }

func (p *Peer) ready(ctx context.Context, root int) error {
	if root != 0 {
		return fmt.Errorf("comm: tcp collectives are rooted at rank 0, got root %d", root)
	}
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.abort.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Peer) fail(err error) error {
	if errors.Is(err, ErrAborted) {
		return err
	}
	p.Abort(err)
	return err
}

func (p *Peer) Bcast(ctx context.Context, root int, _ int64) (int64, error) {
	if err := p.ready(ctx, root); err != nil {
		return 0, err
	}
	f, err := p.l.expect(ctx, p.abort, kindBcast)
	if err != nil {
		return 0, p.fail(err)
	}
	if len(f.Ints) != 1 {
		return 0, p.fail(fmt.Errorf("comm: bcast carried %d values", len(f.Ints)))
	}
	return f.Ints[0], nil
}

func (p *Peer) Gather(ctx context.Context, root int, v int64) ([]int64, error) {
	if err := p.ready(ctx, root); err != nil {
		return nil, err
	}
	if err := p.l.write(frame{Kind: kindGather, From: p.rank, Ints: []int64{v}}); err != nil {
		return nil, p.fail(err)
	}
	return nil, nil
}

// Gatherv sends this rank's values and waits for the coordinator's ack.
func (p *Peer) Gatherv(ctx context.Context, root int, send []int64, _ []int64) ([]int64, error) {
	if err := p.ready(ctx, root); err != nil {
		return nil, err
	}
	if err := p.l.write(frame{Kind: kindGatherv, From: p.rank, Ints: send}); err != nil {
		return nil, p.fail(err)
	}
	if _, err := p.l.expect(ctx, p.abort, kindAck); err != nil {
		return nil, p.fail(err)
	}
	return nil, nil
}

func (p *Peer) Barrier(ctx context.Context) error {
	if _, err := p.Gather(ctx, 0, 0); err != nil {
		return err
	}
	_, err := p.Bcast(ctx, 0, 0)
	return err
}

// Abort tells the coordinator, which relays the cause to every other peer.
func (p *Peer) Abort(err error) {
	cause := causeText(err)
	if !p.abort.trip(p.rank, cause) {
		return
	}
	p.log.Errorf("aborting group: %s", cause)
	_ = p.l.write(frame{Kind: kindAbort, From: p.rank, Err: cause})
}

// Close says goodbye to the coordinator and closes the connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.abort.Err() == nil {
		_ = p.l.write(frame{Kind: kindBye, From: p.rank})
	}
	if err := p.l.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
