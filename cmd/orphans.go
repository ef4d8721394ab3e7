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

func newOrphansCmd(a *app) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List unreferenced assets",
		Long: `List assets no content references, oldest first.

By default only assets older than the configured grace period are listed.

Examples:
  mediavault orphans
  mediavault orphans --older-than 2024-06-01T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cutoff time.Time
			if olderThan != "" {
				t, err := time.Parse(time.RFC3339, olderThan)
				if err != nil {
					return fmt.Errorf("--older-than must be an RFC 3339 timestamp: %w", err)
				}
				cutoff = t
			}

			return a.withState(func(st *state.MediaVaultState) error {
				assets, err := st.Detector.FindOrphanedMedia(cmd.Context(), cutoff)
				if err != nil {
					return err
				}

				printAssets(cmd.OutOrStdout(), assets, time.Now())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "only list assets uploaded before this RFC 3339 time")
	return cmd
}

func printAssets(out io.Writer, assets []*media.Asset, now time.Time) {
	if len(assets) == 0 {
		fmt.Fprintln(out, "No orphaned assets.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECT ID\tSIZE\tUPLOADED\tBY")
	var total int64
	for _, asset := range assets {
		total += asset.ByteSize
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", asset.ObjectID, humanize.IBytes(uint64(asset.ByteSize)), humanize.RelTime(asset.UploadedAt, now, "ago", "from now"), asset.UploadedBy)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d orphans, %s\n", len(assets), humanize.IBytes(uint64(total)))
}
