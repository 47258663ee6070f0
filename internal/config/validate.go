package config

import (
	"fmt"
	"net"
	"strings"

	"multab/internal/bitmap"
	"multab/internal/collective"
	"multab/internal/partition"
	"multab/internal/uniqset"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to the user but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "metrics.backend").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

var (
	metricsBackends = map[string]bool{"": true, "none": true, "pushgateway": true, "datadog": true}
	resultKinds     = map[string]bool{"": true, "sqlite": true, "postgres": true, "mssql": true, "mysql": true}
)

// ValidateRun performs static validation of r. It does not mutate r.
func ValidateRun(r Run) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(r.Job) == "" {
		add(SeverityError, "job", "job must not be empty; it labels metrics and stored results")
	}
	switch {
	case r.N < 1:
		add(SeverityError, "n", "N must be a positive integer, got %d", r.N)
	case r.N > partition.MaxN:
		add(SeverityError, "n", "N=%d exceeds %d; N*N would overflow int64", r.N, partition.MaxN)
	}
	if r.Workers < 1 {
		add(SeverityError, "workers", "workers must be >= 1, got %d", r.Workers)
	} else if r.N >= 1 && r.N <= partition.MaxN {
		if total, err := partition.TotalPairs(r.N); err == nil && int64(r.Workers) > total {
			add(SeverityWarning, "workers", "%d workers for %d pairs; %d will receive an empty slice",
				r.Workers, total, int64(r.Workers)-total)
		}
	}

	switch r.Transport {
	case TransportLocal:
	case TransportTCP:
		if _, _, err := net.SplitHostPort(r.Listen); err != nil {
			add(SeverityError, "listen", "listen must be host:port: %v", err)
		}
	default:
		add(SeverityError, "transport", "unknown transport %q (want %q or %q)", r.Transport, TransportLocal, TransportTCP)
	}

	if _, err := uniqset.HasherByName(r.Hash); err != nil {
		add(SeverityError, "hash", "%v", err)
	}
	if _, err := collective.ParseStrategy(r.Merge); err != nil {
		add(SeverityError, "merge", "%v", err)
	}
	if r.MinCapacity < 1 {
		add(SeverityError, "min_capacity", "min_capacity must be >= 1, got %d", r.MinCapacity)
	}
	if r.LoadFactor <= 0 || r.LoadFactor >= 1 {
		add(SeverityError, "load_factor", "load_factor must be in (0, 1), got %g", r.LoadFactor)
	}
	if r.Verify && r.N > bitmap.VerifyMaxN {
		add(SeverityWarning, "verify", "verification is limited to N <= %d and will be skipped", bitmap.VerifyMaxN)
	}

	if r.Log.Format != "text" && r.Log.Format != "json" {
		add(SeverityError, "log.format", "unknown log format %q (want text or json)", r.Log.Format)
	}

	issues = append(issues, validateMetrics(r.Metrics)...)
	issues = append(issues, validateResults(r.Results)...)
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	if !metricsBackends[m.Backend] {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q (want none, pushgateway or datadog)", m.Backend),
		})
	}
	switch m.Backend {
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{SeverityError, "metrics.pushgateway_url", "pushgateway_url is required for the pushgateway backend"})
		}
	case "datadog":
		if strings.TrimSpace(m.DogStatsDAddr) == "" {
			issues = append(issues, Issue{SeverityError, "metrics.dogstatsd_addr", "dogstatsd_addr is required for the datadog backend"})
		}
	}
	return issues
}

func validateResults(s Results) []Issue {
	var issues []Issue
	if !resultKinds[s.Kind] {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "results.kind",
			Message:  fmt.Sprintf("unknown results kind %q (want sqlite, postgres, mssql or mysql)", s.Kind),
		})
	}
	if s.Kind == "" {
		if s.AutoCreate {
			issues = append(issues, Issue{SeverityWarning, "results.auto_create", "auto_create has no effect without results.kind"})
		}
		return issues
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{SeverityError, "results.dsn", "dsn is required when results.kind is set"})
	}
	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, Issue{SeverityError, "results.table", "table must not be empty"})
	}
	return issues
}
