// Package config defines the run configuration for multab and loads it from
// defaults, an optional config file, MULTAB_* environment variables and
// command-line flags, in increasing order of precedence.
//
// Example file (YAML; JSON and TOML work as well):
//
//	job: nightly
//	n: 100000
//	workers: 8
//	transport: tcp
//	merge: kway
//	log:
//	  verbose: true
//	  format: json
//	metrics:
//	  backend: pushgateway
//	  pushgateway_url: http://localhost:9091
//	results:
//	  kind: sqlite
//	  dsn: file:multab.db
//	  auto_create: true
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// DefaultN is used when no table size is configured.
const DefaultN = 10

// EnvPrefix prefixes every environment override, e.g. MULTAB_WORKERS or
// MULTAB_METRICS_BACKEND.
const EnvPrefix = "MULTAB"

// Transport kinds.
const (
	TransportLocal = "local"
	TransportTCP   = "tcp"
)

// Run is the complete configuration of one counting run.
type Run struct {
	// Job names the run in metrics and stored results.
	Job string `json:"job" yaml:"job" mapstructure:"job"`

	// N is the side of the multiplication table.
	N int64 `json:"n" yaml:"n" mapstructure:"n"`

	// Workers is the group size W.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`

	// Transport is "local" (goroutine workers) or "tcp" (one process per
	// worker, connected to the coordinator at Listen).
	Transport string `json:"transport" yaml:"transport" mapstructure:"transport"`
	Listen    string `json:"listen" yaml:"listen" mapstructure:"listen"`

	// Hash selects the set's hash function: "mix" or "xxh3".
	Hash string `json:"hash" yaml:"hash" mapstructure:"hash"`

	// Merge selects the coordinator's counting strategy: "kway" or "sort".
	Merge string `json:"merge" yaml:"merge" mapstructure:"merge"`

	MinCapacity int     `json:"min_capacity" yaml:"min_capacity" mapstructure:"min_capacity"`
	LoadFactor  float64 `json:"load_factor" yaml:"load_factor" mapstructure:"load_factor"`

	// Verify cross-checks the result with a brute-force count (small N only).
	Verify bool `json:"verify" yaml:"verify" mapstructure:"verify"`

	Log     Log     `json:"log" yaml:"log" mapstructure:"log"`
	Metrics Metrics `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Results Results `json:"results" yaml:"results" mapstructure:"results"`
}

// Log configures the logger of every process in the group.
type Log struct {
	Verbose bool   `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
	Format  string `json:"format" yaml:"format" mapstructure:"format"` // text or json
}

// Metrics selects and configures the metrics backend.
type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string `json:"backend" yaml:"backend" mapstructure:"backend"`
	PushgatewayURL string `json:"pushgateway_url" yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	DogStatsDAddr  string `json:"dogstatsd_addr" yaml:"dogstatsd_addr" mapstructure:"dogstatsd_addr"`
	Namespace      string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
}

// Results configures where the final report is recorded. An empty Kind
// disables recording.
type Results struct {
	Kind       string `json:"kind" yaml:"kind" mapstructure:"kind"`
	DSN        string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	Table      string `json:"table" yaml:"table" mapstructure:"table"`
	AutoCreate bool   `json:"auto_create" yaml:"auto_create" mapstructure:"auto_create"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Run {
	return Run{
		Job:         "multab",
		N:           DefaultN,
		Workers:     runtime.NumCPU(),
		Transport:   TransportLocal,
		Listen:      "127.0.0.1:0",
		Hash:        "mix",
		Merge:       "kway",
		MinCapacity: 1024,
		LoadFactor:  0.7,
		Log:         Log{Format: "text"},
		Metrics: Metrics{
			Backend:        "none",
			PushgatewayURL: "http://localhost:9091",
			DogStatsDAddr:  "127.0.0.1:8125",
			Namespace:      "multab",
		},
		Results: Results{
			Table: "multab_runs",
		},
	}
}

// NewViper returns a viper instance holding the defaults and reading
// MULTAB_* environment variables. Callers bind flags onto it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("job", d.Job)
	v.SetDefault("n", d.N)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("hash", d.Hash)
	v.SetDefault("merge", d.Merge)
	v.SetDefault("min_capacity", d.MinCapacity)
	v.SetDefault("load_factor", d.LoadFactor)
	v.SetDefault("verify", d.Verify)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.pushgateway_url", d.Metrics.PushgatewayURL)
	v.SetDefault("metrics.dogstatsd_addr", d.Metrics.DogStatsDAddr)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("results.kind", d.Results.Kind)
	v.SetDefault("results.dsn", d.Results.DSN)
	v.SetDefault("results.table", d.Results.Table)
	v.SetDefault("results.auto_create", d.Results.AutoCreate)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v and decodes the merged
// result.
func Load(v *viper.Viper, path string) (Run, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Run{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var r Run
	if err := v.Unmarshal(&r); err != nil {
		return Run{}, fmt.Errorf("config: decode: %w", err)
	}
	r.Transport = strings.ToLower(strings.TrimSpace(r.Transport))
	r.Hash = strings.ToLower(strings.TrimSpace(r.Hash))
	r.Merge = strings.ToLower(strings.TrimSpace(r.Merge))
	r.Log.Format = strings.ToLower(strings.TrimSpace(r.Log.Format))
	r.Metrics.Backend = strings.ToLower(strings.TrimSpace(r.Metrics.Backend))
	r.Results.Kind = strings.ToLower(strings.TrimSpace(r.Results.Kind))
	return r, nil
}

// Check validates r and joins its error-severity issues into one error.
// Warnings are returned separately so callers can log them.
func Check(r Run) (warnings []Issue, err error) {
	var errs []error
	for _, iss := range ValidateRun(r) {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
			continue
		}
		warnings = append(warnings, iss)
	}
	return warnings, errors.Join(errs...)
}
