package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"multab/internal/partition"
)

func newPartitionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "partition N",
		Short: "Print the slice of the index space each rank owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("N must be an integer: %q", args[0])
			}
			slices, err := partition.All(n, a.v.GetInt("workers"))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tSTART\tEND\tPAIRS\tFIRST\tLAST")
			for _, s := range slices {
				first, last := "-", "-"
				if !s.Empty() {
					c, _ := partition.Seek(n, s.Start)
					first = fmt.Sprintf("(%d,%d)", c.I, c.J)
					c, _ = partition.Seek(n, s.End)
					last = fmt.Sprintf("(%d,%d)", c.I, c.J)
				}
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\n", s.Rank, s.Start, s.End, s.Len(), first, last)
			}
			return tw.Flush()
		},
	}
}
