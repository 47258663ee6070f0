// Command multab counts the distinct products in the N×N multiplication
// table with a group of cooperating workers.
//
//	multab run 100000 --workers 8
//	multab run 5000 --transport tcp --workers 4 --verify
//	multab worker --rank 2 --workers 4 --coordinator 10.0.0.1:7070
//	multab partition 10 --workers 3
//	multab validate --config multab.yaml
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"multab/internal/config"

	// register all backends with the storage factory.
	_ "multab/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	v         *viper.Viper
	cfgPath   string
	verbose   bool
	logFormat string

	out io.Writer
	log *logrus.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{
		v:   config.NewViper(),
		out: out,
		log: logrus.New(),
	}
	a.log.SetOutput(errOut)

	root := &cobra.Command{
		Use:           "multab",
		Short:         "Count the distinct products of an N×N multiplication table",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setupLogging(config.Log{Verbose: a.verbose, Format: a.logFormat})
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	d := config.Defaults()
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (yaml, json or toml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")
	pf.StringVar(&a.logFormat, "log-format", d.Log.Format, "log format: text or json")
	pf.String("job", d.Job, "job name used in metrics and stored results")
	pf.IntP("workers", "w", d.Workers, "number of workers")
	pf.String("hash", d.Hash, "set hash function: mix or xxh3")
	pf.String("merge", d.Merge, "coordinator merge strategy: kway or sort")
	pf.Int("min-capacity", d.MinCapacity, "minimum initial set capacity")
	pf.Float64("load-factor", d.LoadFactor, "set load factor before growing")
	pf.String("metrics-backend", d.Metrics.Backend, "metrics backend: none, pushgateway or datadog")
	pf.String("pushgateway-url", d.Metrics.PushgatewayURL, "Pushgateway base URL")
	pf.String("dogstatsd-addr", d.Metrics.DogStatsDAddr, "DogStatsD address")
	pf.String("metrics-namespace", d.Metrics.Namespace, "metric name prefix for DogStatsD")
	a.bind(pf, map[string]string{
		"verbose":           "log.verbose",
		"log-format":        "log.format",
		"job":               "job",
		"workers":           "workers",
		"hash":              "hash",
		"merge":             "merge",
		"min-capacity":      "min_capacity",
		"load-factor":       "load_factor",
		"metrics-backend":   "metrics.backend",
		"pushgateway-url":   "metrics.pushgateway_url",
		"dogstatsd-addr":    "metrics.dogstatsd_addr",
		"metrics-namespace": "metrics.namespace",
	})

	root.AddCommand(
		newRunCmd(a),
		newWorkerCmd(a),
		newValidateCmd(a),
		newPartitionCmd(a),
	)
	return root
}

// bind maps flag names to config keys so that a flag set on the command line
// wins over the file and the environment.
func (a *app) bind(fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := a.v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

// setupLogging configures the logger. It runs once from the flags before
// the config is read and again with the loaded settings, which may come from
// the file or the environment.
func (a *app) setupLogging(c config.Log) error {
	switch c.Format {
	case "text":
		a.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		a.log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.Format)
	}
	level := logrus.InfoLevel
	if c.Verbose {
		level = logrus.DebugLevel
	}
	a.log.SetLevel(level)
	return nil
}

// load reads and checks the configuration, logging any warnings.
func (a *app) load() (config.Run, error) {
	cfg, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return config.Run{}, err
	}
	if err := a.setupLogging(cfg.Log); err != nil {
		return config.Run{}, err
	}
	warnings, err := config.Check(cfg)
	for _, w := range warnings {
		a.log.Warnf("config: %s: %s", w.Path, w.Message)
	}
	if err != nil {
		return config.Run{}, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}
