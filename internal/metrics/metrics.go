// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from a counting run.
//
// It exposes a narrow interface (Backend) focused on counters, gauges and
// timing data, and a global pluggable backend that defaults to a no-op
// implementation, so metrics are always safe to call even when no real
// backend is configured. Concrete systems (Prometheus Pushgateway, Datadog)
// live in subpackages so the workers never import them.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names emitted by this package.
const (
	PhaseTotal    = "multab_phase_total"
	PhaseDuration = "multab_phase_duration_seconds"
	ValuesTotal   = "multab_values_total"
	RunDistinct   = "multab_run_distinct"
	RunCells      = "multab_run_cells"
	RunSeconds    = "multab_run_seconds"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge sets a point-in-time value.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) SetGauge(string, float64, Labels)         {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Reset restores the no-op backend.
func Reset() {
	mu.Lock()
	backend = nopBackend{}
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordPhase measures one worker phase: a success/failure counter plus its
// duration.
func RecordPhase(job, phase string, rank int, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"phase":  phase,
		"rank":   strconv.Itoa(rank),
		"status": status,
	}
	b := current()
	b.IncCounter(PhaseTotal, 1, lbls)
	b.ObserveHistogram(PhaseDuration, d.Seconds(), lbls)
}

// RecordValues increments a value-level counter for the given kind.
//
// Kinds used by the worker loop:
//   - "pairs"        : (i, j) pairs generated
//   - "local_unique" : values kept after local de-duplication
//   - "gathered"     : values received by the coordinator
func RecordValues(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(ValuesTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordRun publishes the final result of a run as gauges.
func RecordRun(job string, n int64, distinct, cells int64, elapsed time.Duration) {
	lbls := Labels{"job": job, "n": strconv.FormatInt(n, 10)}
	b := current()
	b.SetGauge(RunDistinct, float64(distinct), lbls)
	b.SetGauge(RunCells, float64(cells), lbls)
	b.SetGauge(RunSeconds, elapsed.Seconds(), lbls)
}
