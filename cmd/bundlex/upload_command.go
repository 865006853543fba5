package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bundlex/internal/config"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var allowStorage bool
	var sendLog bool
	var watch bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "upload <bundle> [companion...]",
		Short: "Upload a bundle for analysis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				expanded, err := config.ExpandPath(arg)
				if err != nil {
					return err
				}
				info, err := os.Stat(expanded)
				if err != nil {
					return fmt.Errorf("inspect %q: %w", arg, err)
				}
				if info.IsDir() {
					return fmt.Errorf("%q is a directory", arg)
				}
				paths = append(paths, expanded)
			}

			resp, err := ctx.client().Upload(cmd.Context(), uploadRequest{
				BundlePath:     paths[0],
				CompanionPaths: paths[1:],
				AllowStorage:   allowStorage,
				SendLog:        sendLog,
			})
			if err != nil {
				var retryable *apiError
				if errors.As(err, &retryable) && retryable.RetryAfter > 0 {
					return fmt.Errorf("%s (retry in %ds)", retryable.Message, retryable.RetryAfter)
				}
				return err
			}

			if jsonOut {
				if err := writeJSON(cmd, resp); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s queued for analysis\n", resp.SessionID)
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

	cmd.Flags().BoolVar(&allowStorage, "allow-storage", false, "Keep the session after download for later re-extraction")
	cmd.Flags().BoolVar(&sendLog, "send-log", false, "Retain the per-session processing log")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the analysis finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the raw JSON response")
	return cmd
}
