package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// TCPOptions tunes the TCP transport.
type TCPOptions struct {
	// Logger receives connection lifecycle messages. Nil discards them.
	Logger logrus.FieldLogger
	// HandshakeTimeout bounds how long a fresh connection may take to
	// identify itself. Zero means 10s.
	HandshakeTimeout time.Duration
	// DialTimeout bounds the total time a peer keeps retrying to reach the
	// coordinator. Zero means 30s.
	DialTimeout time.Duration
}

func (o TCPOptions) logger() logrus.FieldLogger {
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(discard{})
		return l
	}
	return o.Logger
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Hub is the coordinator (rank 0) of a TCP group. Every peer connects to
// it; collectives are rooted at rank 0 and abort frames are relayed by it.
type Hub struct {
	size  int
	ln    net.Listener
	links []*link // indexed by rank; links[0] is nil
	abort *abortState
	log   logrus.FieldLogger
	opts  TCPOptions

	closed atomic.Bool
}

var _ Group = (*Hub)(nil)

// Listen opens the coordinator's listener for a group of size members.
// Call Accept before using the hub as a Group.
func Listen(addr string, size int, opts TCPOptions) (*Hub, error) {
	if size < 1 {
		return nil, fmt.Errorf("comm: group size must be >= 1, got %d", size)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("comm: listen %s: %w", addr, err)
	}
	return &Hub{
		size:  size,
		ln:    ln,
		links: make([]*link, size),
		abort: newAbortState(),
		log:   opts.logger().WithField("component", "hub"),
		opts:  opts,
	}, nil
}

// Addr is the address peers should dial.
func (h *Hub) Addr() string { return h.ln.Addr().String() }

// Accept waits until every peer rank has connected and identified itself.
func (h *Hub) Accept(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = h.ln.Close() })
	defer stop()

	handshake := h.opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	for joined := 1; joined < h.size; {
		nc, err := h.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("comm: accept: %w", ctx.Err())
			}
			return fmt.Errorf("comm: accept: %w", err)
		}

		l := newLink(nc)
		_ = nc.SetReadDeadline(time.Now().Add(handshake))
		hello, err := l.readOne()
		_ = nc.SetReadDeadline(time.Time{})
		if err != nil {
			h.log.WithError(err).Warnf("dropping connection from %s: no hello", nc.RemoteAddr())
			_ = nc.Close()
			continue
		}
		if err := h.admit(hello); err != nil {
			h.log.WithError(err).Warnf("rejecting connection from %s", nc.RemoteAddr())
			_ = l.write(frame{Kind: kindAbort, From: 0, Err: err.Error()})
			_ = nc.Close()
			continue
		}

		l.rank = hello.From
		h.links[l.rank] = l
		joined++
		h.log.WithField("peer", l.rank).Debugf("peer joined from %s (%d/%d)", nc.RemoteAddr(), joined, h.size)
	}

	for _, l := range h.links[1:] {
		l := l
		go l.serve(h.abort,
			func(f frame) { h.relayAbort(f.From, f.Err) },
			func(err error) {
				if h.closed.Load() {
					return
				}
				h.relayAbort(l.rank, fmt.Sprintf("connection to rank %d lost: %v", l.rank, err))
			},
		)
	}
	return nil
}

func (h *Hub) admit(f frame) error {
	switch {
	case f.Kind != kindHello:
		return fmt.Errorf("expected hello, got %s", f.Kind)
	case f.Size != h.size:
		return fmt.Errorf("peer expects group size %d, coordinator has %d", f.Size, h.size)
	case f.From < 1 || f.From >= h.size:
		return fmt.Errorf("peer rank %d out of range [1, %d)", f.From, h.size)
	case h.links[f.From] != nil:
		return fmt.Errorf("rank %d already joined", f.From)
	}
	return nil
}

// relayAbort trips the hub's latch and forwards the cause to every peer.
func (h *Hub) relayAbort(rank int, cause string) {
	if !h.abort.trip(rank, cause) {
		return
	}
	h.log.WithField("origin", rank).Errorf("aborting group: %s", cause)
	for _, l := range h.links[1:] {
		if l == nil || l.rank == rank {
			continue
		}
		_ = l.write(frame{Kind: kindAbort, From: rank, Err: cause})
	}
}

func (h *Hub) Rank() int { return 0 }
func (h *Hub) Size() int { return h.size }

func (h *Hub) ready(ctx context.Context, root int) error {
	if root != 0 {
		return fmt.Errorf("comm: tcp collectives are rooted at rank 0, got root %d", root)
	}
	if h.closed.Load() {
		return ErrClosed
	}
	if err := h.abort.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// fail aborts the group with a local error and returns it.
func (h *Hub) fail(err error) error {
	h.relayAbort(0, err.Error())
	return err
}

func (h *Hub) Bcast(ctx context.Context, root int, v int64) (int64, error) {
	if err := h.ready(ctx, root); err != nil {
		return 0, err
	}
	for _, l := range h.links[1:] {
		if err := l.write(frame{Kind: kindBcast, Ints: []int64{v}}); err != nil {
			return 0, h.fail(err)
		}
	}
	return v, nil
}

func (h *Hub) Gather(ctx context.Context, root int, v int64) ([]int64, error) {
	if err := h.ready(ctx, root); err != nil {
		return nil, err
	}
	out := make([]int64, h.size)
	out[0] = v
	for r, l := range h.links {
		if r == 0 {
			continue
		}
		f, err := l.expect(ctx, h.abort, kindGather)
		if err != nil {
			return nil, h.failUnlessAborted(err)
		}
		if len(f.Ints) != 1 {
			return nil, h.fail(fmt.Errorf("comm: rank %d sent %d values to gather", r, len(f.Ints)))
		}
		out[r] = f.Ints[0]
	}
	return out, nil
}

func (h *Hub) Gatherv(ctx context.Context, root int, send []int64, counts []int64) ([]int64, error) {
	if err := h.ready(ctx, root); err != nil {
		return nil, err
	}
	if err := checkCounts(counts, h.size); err != nil {
		return nil, h.fail(err)
	}
	if int64(len(send)) != counts[0] {
		return nil, h.fail(fmt.Errorf("comm: root sends %d values but counts[0]=%d", len(send), counts[0]))
	}

	displs, total := Displacements(counts)
	buf := make([]int64, total)
	copy(buf, send)
	for r, l := range h.links {
		if r == 0 {
			continue
		}
		f, err := l.expect(ctx, h.abort, kindGatherv)
		if err != nil {
			return nil, h.failUnlessAborted(err)
		}
		if int64(len(f.Ints)) != counts[r] {
			return nil, h.fail(fmt.Errorf("comm: rank %d sent %d values, expected %d", r, len(f.Ints), counts[r]))
		}
		copy(buf[displs[r]:], f.Ints)
		if err := l.write(frame{Kind: kindAck}); err != nil {
			return nil, h.fail(err)
		}
	}
	return buf, nil
}

func (h *Hub) Barrier(ctx context.Context) error {
	if _, err := h.Gather(ctx, 0, 0); err != nil {
		return err
	}
	_, err := h.Bcast(ctx, 0, 0)
	return err
}

func (h *Hub) failUnlessAborted(err error) error {
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
		return err
	}
	return h.fail(err)
}

// Abort fails the group and tells every peer.
func (h *Hub) Abort(err error) {
	h.relayAbort(0, causeText(err))
}

// Close says goodbye to every peer and releases the listener and links.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	var result *multierror.Error
	if err := h.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, err)
	}
	healthy := h.abort.Err() == nil
	for _, l := range h.links[1:] {
		if l == nil {
			continue
		}
		if healthy {
			_ = l.write(frame{Kind: kindBye})
		}
		if err := l.close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
