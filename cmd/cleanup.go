package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/indieinfra/mediavault/media"
	"github.com/indieinfra/mediavault/server/state"
)

func newPreviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Show what a cleanup would delete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withState(func(st *state.MediaVaultState) error {
				preview, err := st.Engine.PreviewCleanup(cmd.Context())
				if err != nil {
					return err
				}

				printPreview(cmd.OutOrStdout(), preview)
				return nil
			})
		},
	}
}

func printPreview(out io.Writer, preview *media.CleanupPreview) {
	if len(preview.Verifications) == 0 {
		fmt.Fprintln(out, "No orphaned assets.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECT ID\tSIZE\tSAFE\tWARNINGS")
	for _, v := range preview.Verifications {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", v.ObjectID, humanize.IBytes(uint64(v.ByteSize)), v.SafeToDelete, strings.Join(v.Warnings, "; "))
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d of %d safe to delete, would free %s\n",
		preview.SafeToDeleteCount, len(preview.Verifications), humanize.IBytes(uint64(preview.EstimatedSpaceFreed)))
}

func newCleanupCmd(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup [object-id...]",
		Short: "Delete orphaned assets",
		Long: `Delete the given objects, or every detected orphan when none are given.

Each object is verified again before deletion. Referenced or recently
uploaded objects are refused and reported.

Examples:
  mediavault cleanup --dry-run
  mediavault cleanup uploads/2024/06/photo-a1b2c3.jpg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withState(func(st *state.MediaVaultState) error {
				var (
					res *media.CleanupResult
					err error
				)
				if len(args) == 0 {
					res, err = st.Engine.CleanupDetected(cmd.Context(), dryRun, media.OperationManual)
				} else {
					res, err = st.Engine.CleanupOrphans(cmd.Context(), args, dryRun, media.OperationManual)
				}
				if res != nil {
					printCleanupResult(cmd.OutOrStdout(), res)
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "verify and report without deleting anything")
	return cmd
}

func printCleanupResult(out io.Writer, res *media.CleanupResult) {
	verb := "freed"
	if res.DryRun {
		verb = "would free"
	}

	fmt.Fprintf(out, "operation %s: processed %d, deleted %d, failed %d, skipped %d, %s %s\n",
		res.OperationID, res.Processed, res.Deleted, res.Failed, res.Skipped, verb, humanize.IBytes(uint64(res.FreedSpace)))

	for _, e := range res.Errors {
		fmt.Fprintf(out, "  %s: %s (%s)\n", e.ObjectID, e.Message, e.Code)
	}
}
