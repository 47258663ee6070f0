// Package launch starts a whole counting group and turns the coordinator's
// result into a report.
//
// Two launchers are provided. Local runs every worker as a goroutine over an
// in-process group. Processes runs the coordinator in this process and
// every other rank as a child process ("multab worker ...") connected over
// TCP. Peer is the body of such a child.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"multab/internal/bitmap"
	"multab/internal/collective"
	"multab/internal/comm"
	"multab/internal/config"
	"multab/internal/metrics"
	"multab/internal/report"
	"multab/internal/uniqset"
	"multab/internal/worker"
)

// ErrMismatch is returned when verification disagrees with the group.
var ErrMismatch = errors.New("launch: verification mismatch")

// WorkerOptions resolves the worker settings of cfg.
func WorkerOptions(cfg config.Run, log logrus.FieldLogger) (worker.Options, error) {
	h, err := uniqset.HasherByName(cfg.Hash)
	if err != nil {
		return worker.Options{}, err
	}
	s, err := collective.ParseStrategy(cfg.Merge)
	if err != nil {
		return worker.Options{}, err
	}
	return worker.Options{
		Job:         cfg.Job,
		Hasher:      h,
		MinCapacity: cfg.MinCapacity,
		LoadFactor:  cfg.LoadFactor,
		Strategy:    s,
		Logger:      log,
	}, nil
}

// Local runs cfg.Workers goroutine workers and returns the coordinator's
// report.
func Local(ctx context.Context, cfg config.Run, log logrus.FieldLogger) (report.Run, error) {
	log = orDiscard(log)
	opts, err := WorkerOptions(cfg, log)
	if err != nil {
		return report.Run{}, err
	}
	members, err := comm.NewLocal(cfg.Workers)
	if err != nil {
		return report.Run{}, err
	}

	start := time.Now()
	results := make([]worker.Result, len(members))
	errs := make([]error, len(members))
	eg, ectx := errgroup.WithContext(ctx)
	for r, g := range members {
		r, g := r, g
		eg.Go(func() error {
			defer g.Close()
			results[r], errs[r] = worker.Run(ectx, g, cfg.N, opts)
			return errs[r]
		})
	}
	_ = eg.Wait()

	if err := rootCause(errs); err != nil {
		return report.Run{}, err
	}
	return finish(cfg, results[0], time.Since(start), log)
}

// command builds the child process for one peer rank. Tests replace it.
var command = func(ctx context.Context, args ...string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	cmd := exec.CommandContext(ctx, self, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// PeerArgs is the command line of the worker subcommand for rank. It
// carries every setting a peer needs, so children log and report metrics
// the way the coordinator does.
func PeerArgs(cfg config.Run, rank int, coordinator string) []string {
	args := []string{
		"worker",
		"--rank", strconv.Itoa(rank),
		"--workers", strconv.Itoa(cfg.Workers),
		"--coordinator", coordinator,
		"--job", cfg.Job,
		"--hash", cfg.Hash,
		"--merge", cfg.Merge,
		"--min-capacity", strconv.Itoa(cfg.MinCapacity),
		"--load-factor", strconv.FormatFloat(cfg.LoadFactor, 'g', -1, 64),
		"--log-format", cfg.Log.Format,
		"--metrics-backend", cfg.Metrics.Backend,
		"--pushgateway-url", cfg.Metrics.PushgatewayURL,
		"--dogstatsd-addr", cfg.Metrics.DogStatsDAddr,
		"--metrics-namespace", cfg.Metrics.Namespace,
	}
	if cfg.Log.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

// Processes runs rank 0 in this process behind a TCP hub listening on
// cfg.Listen and spawns ranks 1..W-1 as child processes. A child that exits
// with an error aborts the group.
func Processes(ctx context.Context, cfg config.Run, log logrus.FieldLogger) (rep report.Run, err error) {
	log = orDiscard(log)
	opts, err := WorkerOptions(cfg, log)
	if err != nil {
		return report.Run{}, err
	}
	hub, err := comm.Listen(cfg.Listen, cfg.Workers, comm.TCPOptions{Logger: log})
	if err != nil {
		return report.Run{}, err
	}
	defer func() {
		if cerr := hub.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	log.Debugf("coordinator listening on %s", hub.Addr())

	// Cancelling kills every child still running.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	var (
		mu     sync.Mutex
		failed []error // child failures in the order they happened
	)
	eg, ectx := errgroup.WithContext(ctx)
	for r := 1; r < cfg.Workers; r++ {
		r := r
		cmd, err := command(ectx, PeerArgs(cfg, r, hub.Addr())...)
		if err == nil {
			err = cmd.Start()
		}
		if err != nil {
			hub.Abort(err)
			cancel()
			_ = eg.Wait()
			return report.Run{}, fmt.Errorf("start worker %d: %w", r, err)
		}
		eg.Go(func() error {
			if err := cmd.Wait(); err != nil {
				err = fmt.Errorf("worker %d: %w", r, err)
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
				hub.Abort(err)
				return err
			}
			return nil
		})
	}

	var (
		res     worker.Result
		rootErr error
	)
	if rootErr = hub.Accept(ectx); rootErr == nil {
		res, rootErr = worker.Run(ectx, hub, cfg.N, opts)
	} else {
		hub.Abort(rootErr)
	}
	_ = eg.Wait()

	if err := rootCause(append([]error{rootErr}, failed...)); err != nil {
		return report.Run{}, err
	}
	return finish(cfg, res, time.Since(start), log)
}

// Peer joins the group coordinated at addr as rank and runs one worker.
func Peer(ctx context.Context, cfg config.Run, rank int, addr string, log logrus.FieldLogger) (err error) {
	opts, err := WorkerOptions(cfg, log)
	if err != nil {
		return err
	}
	p, err := comm.Dial(ctx, addr, rank, cfg.Workers, comm.TCPOptions{Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()
	_, err = worker.Run(ctx, p, 0, opts)
	return err
}

func orDiscard(log logrus.FieldLogger) logrus.FieldLogger {
	if log != nil {
		return log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// rootCause picks the error to report from per-rank errors: the first one
// that is not a consequence of another member's failure, else the first.
func rootCause(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		if !errors.Is(err, comm.ErrAborted) && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return first
}

// finish builds the report from the coordinator's result and optionally
// verifies it.
func finish(cfg config.Run, res worker.Result, elapsed time.Duration, log logrus.FieldLogger) (report.Run, error) {
	rep := report.New(res.N, cfg.Workers, res.Distinct, elapsed)
	rep.MaxRSS = report.MaxRSS()
	metrics.RecordRun(cfg.Job, rep.N, rep.Distinct, rep.Cells, rep.Elapsed)

	if !cfg.Verify {
		return rep, nil
	}
	if rep.N > bitmap.VerifyMaxN {
		log.Warnf("skipping verification: N=%d exceeds %d", rep.N, bitmap.VerifyMaxN)
		return rep, nil
	}
	want, err := bitmap.DistinctProducts(rep.N)
	if err != nil {
		return rep, err
	}
	if want != rep.Distinct {
		return rep, fmt.Errorf("%w: group counted %d, brute force counted %d", ErrMismatch, rep.Distinct, want)
	}
	rep.Verified = true
	log.Infof("verified M(%d) = %d", rep.N, want)
	return rep, nil
}
