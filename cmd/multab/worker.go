package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"multab/internal/config"
	"multab/internal/launch"
)

func newWorkerCmd(a *app) *cobra.Command {
	var (
		rank        int
		coordinator string
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Join a tcp group as one peer rank",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// N arrives from the coordinator, so the size checks of load do
			// not apply here.
			cfg, err := config.Load(a.v, a.cfgPath)
			if err != nil {
				return err
			}
			if err := a.setupLogging(cfg.Log); err != nil {
				return err
			}
			if rank < 1 || rank >= cfg.Workers {
				return fmt.Errorf("rank must be in [1, %d), got %d", cfg.Workers, rank)
			}

			flush := setupMetrics(cfg, a.log.WithField("rank", rank))
			defer flush()

			return launch.Peer(cmd.Context(), cfg, rank, coordinator, a.log)
		},
	}
	cmd.Flags().IntVar(&rank, "rank", 0, "this peer's rank (1..workers-1)")
	cmd.Flags().StringVar(&coordinator, "coordinator", "", "coordinator address host:port")
	_ = cmd.MarkFlagRequired("rank")
	_ = cmd.MarkFlagRequired("coordinator")
	return cmd
}
