package comm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

type kind uint8

const (
	kindHello kind = iota + 1
	kindBcast
	kindGather
	kindGatherv
	kindAck
	kindAbort
	kindBye
)

func (k kind) String() string {
	switch k {
	case kindHello:
		return "hello"
	case kindBcast:
		return "bcast"
	case kindGather:
		return "gather"
	case kindGatherv:
		return "gatherv"
	case kindAck:
		return "ack"
	case kindAbort:
		return "abort"
	case kindBye:
		return "bye"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// frame is the unit exchanged between a peer and the coordinator.
type frame struct {
	Kind kind    `msgpack:"k"`
	From int     `msgpack:"f"`
	Size int     `msgpack:"s,omitempty"`
	Ints []int64 `msgpack:"v,omitempty"`
	Err  string  `msgpack:"e,omitempty"`
}

// errPeerGone is returned when a link said bye or dropped while a frame
// was still expected from it.
var errPeerGone = errors.New("comm: peer left the group")

// link is one TCP connection with a reader goroutine feeding in.
type link struct {
	rank int // rank of the remote end
	nc   net.Conn

	encMu sync.Mutex
	bw    *bufio.Writer
	enc   *msgpack.Encoder
	dec   *msgpack.Decoder

	in   chan frame
	gone chan struct{} // closed when the reader exits
}

func newLink(nc net.Conn) *link {
	bw := bufio.NewWriter(nc)
	return &link{
		nc:   nc,
		bw:   bw,
		enc:  msgpack.NewEncoder(bw),
		dec:  msgpack.NewDecoder(bufio.NewReader(nc)),
		in:   make(chan frame, 4),
		gone: make(chan struct{}),
	}
}

func (l *link) write(f frame) error {
	l.encMu.Lock()
	defer l.encMu.Unlock()
	if err := l.enc.Encode(&f); err != nil {
		return fmt.Errorf("comm: encode %s to rank %d: %w", f.Kind, l.rank, err)
	}
	if err := l.bw.Flush(); err != nil {
		return fmt.Errorf("comm: flush %s to rank %d: %w", f.Kind, l.rank, err)
	}
	return nil
}

// readOne decodes a single frame; used during the handshake before the
// reader goroutine starts.
func (l *link) readOne() (frame, error) {
	var f frame
	if err := l.dec.Decode(&f); err != nil {
		return frame{}, err
	}
	return f, nil
}

// serve reads frames until the connection ends. Abort frames go to onAbort;
// a bye ends the loop quietly; an unexpected read error goes to onLost.
func (l *link) serve(ab *abortState, onAbort func(f frame), onLost func(err error)) {
	defer close(l.gone)
	for {
		var f frame
		if err := l.dec.Decode(&f); err != nil {
			if ab.Err() == nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					err = errPeerGone
				}
				onLost(err)
			}
			return
		}
		switch f.Kind {
		case kindAbort:
			onAbort(f)
			return
		case kindBye:
			return
		}
		select {
		case l.in <- f:
		case <-ab.done():
			return
		}
	}
}

// expect waits for the next data frame from the link and checks its kind.
func (l *link) expect(ctx context.Context, ab *abortState, want kind) (frame, error) {
	select {
	case f := <-l.in:
		if f.Kind != want {
			return frame{}, fmt.Errorf("comm: expected %s from rank %d, got %s", want, l.rank, f.Kind)
		}
		return f, nil
	case <-ab.done():
		return frame{}, ab.Err()
	case <-l.gone:
		// Frames may still be queued behind the reader's exit.
		select {
		case f := <-l.in:
			if f.Kind == want {
				return f, nil
			}
		default:
		}
		if err := ab.Err(); err != nil {
			return frame{}, err
		}
		return frame{}, fmt.Errorf("%w: rank %d", errPeerGone, l.rank)
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (l *link) close() error {
	return l.nc.Close()
}
