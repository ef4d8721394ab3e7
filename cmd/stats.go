package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/server/state"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize orphaned assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withState(func(st *state.MediaVaultState) error {
				stats, err := st.Engine.OrphanStatistics(cmd.Context())
				if err != nil {
					return err
				}

				printStats(cmd.OutOrStdout(), stats, time.Now())
				return nil
			})
		},
	}
}

func printStats(out io.Writer, stats *media.OrphanStatistics, now time.Time) {
	fmt.Fprintf(out, "orphans:  %d\n", stats.TotalOrphans)
	fmt.Fprintf(out, "size:     %s\n", humanize.IBytes(uint64(stats.TotalOrphanSize)))
	if stats.OldestOrphan != nil {
		fmt.Fprintf(out, "oldest:   %s\n", humanize.RelTime(*stats.OldestOrphan, now, "ago", "from now"))
	}
	if stats.NewestOrphan != nil {
		fmt.Fprintf(out, "newest:   %s\n", humanize.RelTime(*stats.NewestOrphan, now, "ago", "from now"))
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent cleanup operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withState(func(st *state.MediaVaultState) error {
				ops, err := st.Engine.CleanupHistory(cmd.Context(), limit)
				if err != nil {
					return err
				}

				printHistory(cmd.OutOrStdout(), ops)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "number of operations to show (defaults to cleanup.history_limit)")
	return cmd
}

func printHistory(out io.Writer, ops []*media.CleanupOperation) {
	if len(ops) == 0 {
		fmt.Fprintln(out, "No cleanup operations recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTYPE\tSTATUS\tDRY RUN\tDELETED\tFAILED\tFREED")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\t%d\t%s\n",
			op.StartedAt.Format(time.RFC3339), op.OperationType, op.Status, op.DryRun, op.FilesDeleted, op.FilesFailed, humanize.IBytes(uint64(op.SpaceFreed)))
	}
	w.Flush()
}
