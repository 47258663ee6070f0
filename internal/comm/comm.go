// Package comm defines the collective operations a worker group uses to
// exchange data, and provides two transports for them:
//
//   - NewLocal: every member lives in the current process and messages
//     travel over unbuffered channels, one per (sender, receiver) pair.
//   - Listen/Dial: members are separate processes connected to the
//     coordinator (rank 0) over TCP, exchanging msgpack frames.
//
// All members must call the same collectives in the same order. A send in
// Gatherv completes only once the root has accepted the data.
//
// Any member may Abort the group. Every blocked or future collective on
// every member then returns an error wrapping ErrAborted, so a failure on
// one worker never leaves the others waiting at the next collective.
package comm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAborted is wrapped by every error caused by a group abort.
	ErrAborted = errors.New("comm: group aborted")
	// ErrClosed is returned by collectives on a closed member.
	ErrClosed = errors.New("comm: group closed")
)

// Group is one member's view of a fixed group of Size() participants.
type Group interface {
	// Rank is this member's identity in [0, Size()).
	Rank() int
	// Size is the number of members.
	Size() int

	// Bcast returns root's v on every member.
	Bcast(ctx context.Context, root int, v int64) (int64, error)
	// Gather collects one value per member at root, indexed by rank.
	// Non-root members receive nil.
	Gather(ctx context.Context, root int, v int64) ([]int64, error)
	// Gatherv concatenates every member's send slice at root, in rank
	// order. counts is only read at root and must hold each member's
	// length. Non-root members receive nil.
	Gatherv(ctx context.Context, root int, send []int64, counts []int64) ([]int64, error)
	// Barrier returns once every member has entered it.
	Barrier(ctx context.Context) error

	// Abort fails the whole group with err. It is safe to call more than
	// once and from any goroutine; only the first cause is kept.
	Abort(err error)
	// Close releases this member's resources.
	Close() error
}

// AbortError describes why a group was aborted.
type AbortError struct {
	Rank  int    // member that raised the abort
	Cause string // its error text
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("comm: group aborted by rank %d: %s", e.Rank, e.Cause)
}

// Is makes errors.Is(err, ErrAborted) hold for any AbortError.
func (e *AbortError) Is(target error) bool { return target == ErrAborted }

// Displacements returns the offset of each member's block in the root's
// receive buffer, and the buffer length.
func Displacements(counts []int64) ([]int64, int64) {
	displs := make([]int64, len(counts))
	var total int64
	for r, c := range counts {
		displs[r] = total
		total += c
	}
	return displs, total
}

func checkRoot(root, size int) error {
	if root < 0 || root >= size {
		return fmt.Errorf("comm: root %d out of range [0, %d)", root, size)
	}
	return nil
}

func checkCounts(counts []int64, size int) error {
	if len(counts) != size {
		return fmt.Errorf("comm: gatherv needs %d counts, got %d", size, len(counts))
	}
	for r, c := range counts {
		if c < 0 {
			return fmt.Errorf("comm: negative count %d for rank %d", c, r)
		}
	}
	return nil
}

// abortState is the first-cause-wins abort latch shared by the transports.
type abortState struct {
	once sync.Once
	ch   chan struct{}
	err  *AbortError
}

func newAbortState() *abortState {
	return &abortState{ch: make(chan struct{})}
}

// trip records the cause and reports whether this call was the first.
func (a *abortState) trip(rank int, cause string) bool {
	first := false
	a.once.Do(func() {
		a.err = &AbortError{Rank: rank, Cause: cause}
		close(a.ch)
		first = true
	})
	return first
}

func (a *abortState) done() <-chan struct{} { return a.ch }

// Err returns the abort error, or nil while the group is healthy.
func (a *abortState) Err() error {
	select {
	case <-a.ch:
		return a.err
	default:
		return nil
	}
}

func causeText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
