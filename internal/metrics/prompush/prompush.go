// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A counting run is a batch job, so instead of exposing a scrape endpoint
// the collected metrics are pushed to a Pushgateway when the run ends. The
// package keeps every Prometheus dependency out of the rest of the module.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"multab/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	phaseCounter  *prometheus.CounterVec // multab_phase_total
	phaseDuration *prometheus.SummaryVec // multab_phase_duration_seconds
	valueCounter  *prometheus.CounterVec // multab_values_total
	runGauges     map[string]*prometheus.GaugeVec
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name.
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "multab"
	}

	reg := prometheus.NewRegistry()

	phaseCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.PhaseTotal,
			Help: "Worker phase executions, partitioned by phase, rank, and status.",
		},
		[]string{"phase", "rank", "status"},
	)
	phaseDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.PhaseDuration,
			Help:       "Duration of worker phases in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"phase", "rank", "status"},
	)
	valueCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.ValuesTotal,
			Help: "Value-level counts per kind (pairs, local_unique, gathered).",
		},
		[]string{"kind"},
	)

	runGauges := map[string]*prometheus.GaugeVec{
		metrics.RunDistinct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.RunDistinct,
			Help: "Distinct products M(N) found by the last run.",
		}, []string{"n"}),
		metrics.RunCells: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.RunCells,
			Help: "Cells N*N in the table of the last run.",
		}, []string{"n"}),
		metrics.RunSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.RunSeconds,
			Help: "Wall-clock seconds of the last run.",
		}, []string{"n"}),
	}

	collectors := []prometheus.Collector{phaseCounter, phaseDuration, valueCounter}
	for _, g := range runGauges {
		collectors = append(collectors, g)
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		phaseCounter:  phaseCounter,
		phaseDuration: phaseDuration,
		valueCounter:  valueCounter,
		runGauges:     runGauges,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.PhaseTotal:
		b.phaseCounter.WithLabelValues(labels["phase"], labels["rank"], labels["status"]).Add(delta)
	case metrics.ValuesTotal:
		b.valueCounter.WithLabelValues(labels["kind"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.PhaseDuration {
		return
	}
	b.phaseDuration.WithLabelValues(labels["phase"], labels["rank"], labels["status"]).Observe(value)
}

func (b *Backend) SetGauge(name string, value float64, labels metrics.Labels) {
	g, ok := b.runGauges[name]
	if !ok {
		return
	}
	g.WithLabelValues(labels["n"]).Set(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
