package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bundlex/internal/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the session queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Queue(cmd.Context(), listStatuses)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			if len(resp.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			table := renderTable(
				[]string{"Session", "Filename", "Kind", "Status", "Progress", "Created"},
				buildQueueListRows(resp.Sessions),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by session status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the raw JSON response")
	return cmd
}

func buildQueueListRows(sessions []api.SessionSummary) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		rows = append(rows, []string{
			shortID(session.SessionID),
			session.Filename,
			session.Kind,
			session.Status,
			strconv.Itoa(session.Progress) + "%",
			session.CreatedAt,
		})
	}
	return rows
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue totals by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Queue(cmd.Context(), nil)
			if err != nil {
				return err
			}
			health := resp.Health
			if health.Total == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			rows := [][]string{
				{"Queued", strconv.Itoa(health.Queued)},
				{"Processing", strconv.Itoa(health.Processing)},
				{"Completed", strconv.Itoa(health.Completed)},
				{"Errored", strconv.Itoa(health.Errored)},
				{"Cancelled", strconv.Itoa(health.Cancelled)},
				{"Total", strconv.Itoa(health.Total)},
			}
			table := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
