package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			overall := statusOK
			if resp.Status != "ok" {
				overall = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", overall, resp.Status, colorize))

			dbKind := statusOK
			dbMessage := resp.DatabasePath
			if !resp.DatabaseOK {
				dbKind = statusError
				dbMessage = "database check failed"
			}
			fmt.Fprintln(out, renderStatusLine("Database", dbKind, dbMessage, colorize))

			counts := resp.SessionCounts
			fmt.Fprintln(out, renderStatusLine("Sessions", statusInfo,
				fmt.Sprintf("%d total, %d queued, %d processing", counts.Total, counts.Queued, counts.Processing), colorize))
			if resp.PendingCancels > 0 {
				fmt.Fprintln(out, renderStatusLine("Cancels", statusWarn,
					fmt.Sprintf("%d pending", resp.PendingCancels), colorize))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the raw JSON response")
	return cmd
}
