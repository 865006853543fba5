package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bundlex/internal/bundle"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var indices []int
	var classes []string
	var pathIDArgs []string
	var watch bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "extract <session-id>",
		Short: "Queue an extraction for an analyzed session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pathIDs, err := parsePathIDs(pathIDArgs)
			if err != nil {
				return err
			}

			resp, err := ctx.client().Extract(cmd.Context(), args[0], bundle.Selection{
				Indices: indices,
				Classes: classes,
				PathIDs: pathIDs,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				if err := writeJSON(cmd, resp); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s queued for extraction\n", resp.SessionID)
				if resp.QueuePosition > 0 {
					fmt.Fprintf(out, "Queue position %d of %d\n", resp.QueuePosition, resp.TotalQueued)
				}
			}

			if watch {
				return watchSession(cmd, ctx, resp.SessionID)
			}
			return nil
		},
	}

	cmd.Flags().IntSliceVar(&indices, "asset", nil, "Restrict extraction to asset inventory indices (repeatable)")
	cmd.Flags().StringSliceVar(&classes, "class", nil, "Restrict extraction to asset classes (repeatable)")
	cmd.Flags().StringSliceVar(&pathIDArgs, "path-id", nil, "Restrict extraction to asset path IDs (repeatable)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the extraction finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the raw JSON response")
	return cmd
}
