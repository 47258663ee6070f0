package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"multab/internal/bitmap"
	"multab/internal/config"
	"multab/internal/launch"
	"multab/internal/report"
	"multab/internal/storage"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [N]",
		Short: "Compute M(N) with a group of workers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				n, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("N must be an integer: %q", args[0])
				}
				a.v.Set("n", n)
			}

			cfg, err := a.load()
			if err != nil {
				return err
			}
			if len(args) == 0 && !a.v.InConfig("n") && os.Getenv(config.EnvPrefix+"_N") == "" {
				a.log.Infof("no N given, using default N=%d", cfg.N)
			}

			flush := setupMetrics(cfg, a.log)
			defer flush()

			ctx := cmd.Context()
			var rep report.Run
			switch cfg.Transport {
			case config.TransportTCP:
				rep, err = launch.Processes(ctx, cfg, a.log)
			default:
				rep, err = launch.Local(ctx, cfg, a.log)
			}
			if err != nil {
				return err
			}

			if err := report.Format(a.out, rep); err != nil {
				return err
			}
			if rep.MaxRSS > 0 {
				a.log.Debugf("peak RSS of coordinator process: %s", humanize.IBytes(rep.MaxRSS))
			}

			if cfg.Results.Kind != "" {
				sc := storage.Config{Kind: cfg.Results.Kind, DSN: cfg.Results.DSN, Table: cfg.Results.Table}
				if err := storage.Record(ctx, sc, cfg.Results.AutoCreate, cfg.Job, rep, a.log); err != nil {
					return err
				}
			}
			return nil
		},
	}

	d := config.Defaults()
	f := cmd.Flags()
	f.String("transport", d.Transport, "worker transport: local (goroutines) or tcp (processes)")
	f.String("listen", d.Listen, "coordinator listen address for the tcp transport")
	f.Bool("verify", false, fmt.Sprintf("cross-check the result by brute force (N <= %d)", bitmap.VerifyMaxN))
	f.String("results-kind", "", "record the run in: sqlite, postgres, mssql or mysql")
	f.String("results-dsn", "", "results database DSN")
	f.String("results-table", d.Results.Table, "results table")
	f.Bool("auto-create", false, "create the results table if it does not exist")
	a.bind(f, map[string]string{
		"transport":     "transport",
		"listen":        "listen",
		"verify":        "verify",
		"results-kind":  "results.kind",
		"results-dsn":   "results.dsn",
		"results-table": "results.table",
		"auto-create":   "results.auto_create",
	})
	return cmd
}
