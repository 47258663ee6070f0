package main

import (
	"strings"

	"github.com/sirupsen/logrus"

	"multab/internal/config"
	"multab/internal/metrics"
	"multab/internal/metrics/datadog"
	"multab/internal/metrics/prompush"
)

// setupMetrics installs the configured backend and returns the function
// that flushes it at the end of the run.
func setupMetrics(cfg config.Run, log logrus.FieldLogger) (flush func()) {
	flush = func() {
		if err := metrics.Flush(); err != nil {
			log.Warnf("metrics: flush error: %v", err)
		}
		metrics.Reset()
	}

	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL)
		if err != nil {
			log.Warnf("metrics: failed to init prom push backend: %v; using nop", err)
			return func() {}
		}
		log.Debugf("metrics: url=%v, backend=%v, job_name=%v", cfg.Metrics.PushgatewayURL, cfg.Metrics.Backend, cfg.Job)
		metrics.SetBackend(b)
		return flush

	case "datadog":
		ns := cfg.Metrics.Namespace
		if ns != "" && !strings.HasSuffix(ns, ".") {
			ns += "."
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       cfg.Metrics.DogStatsDAddr,
			Namespace:  ns,
			GlobalTags: []string{"job:" + cfg.Job},
		})
		if err != nil {
			log.Warnf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Debugf("metrics: addr=%v, backend=%v", cfg.Metrics.DogStatsDAddr, cfg.Metrics.Backend)
		metrics.SetBackend(b)
		return flush

	default:
		log.Debugf("metrics: disabled (backend=%q)", cfg.Metrics.Backend)
		return func() {}
	}
}
