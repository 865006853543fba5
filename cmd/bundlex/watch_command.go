package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const watchPollInterval = 500 * time.Millisecond

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow a session until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchSession(cmd, ctx, args[0])
		},
	}
}

// watchSession polls the daemon and drives a progress bar until the session
// reaches a terminal state.
func watchSession(cmd *cobra.Command, ctx *commandContext, sessionID string) error {
	client := ctx.client()
	out := cmd.OutOrStdout()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("waiting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		resp, err := client.Status(cmd.Context(), sessionID)
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				_ = bar.Clear()
				return fmt.Errorf("session %s no longer exists", sessionID)
			}
			return err
		}

		switch resp.Status {
		case "queued":
			bar.Describe(fmt.Sprintf("queued (position %d of %d)", resp.QueuePosition, resp.TotalQueued))
		case "analyzing", "extracting":
			bar.Describe(resp.Status)
			_ = bar.Set(resp.Progress)
		case "completed":
			_ = bar.Set(100)
			_ = bar.Finish()
			if resp.DownloadReady {
				fmt.Fprintf(out, "Session %s completed; archive is ready for download\n", shortID(resp.SessionID))
			} else {
				fmt.Fprintf(out, "Session %s analysis complete\n", shortID(resp.SessionID))
				printStatus(cmd, resp, false)
			}
			return nil
		case "cancelled":
			_ = bar.Clear()
			fmt.Fprintf(out, "Session %s was cancelled\n", shortID(resp.SessionID))
			return nil
		case "error":
			_ = bar.Clear()
			if resp.ErrorKind != "" {
				return fmt.Errorf("session failed (%s): %s", resp.ErrorKind, resp.Error)
			}
			return fmt.Errorf("session failed: %s", resp.Error)
		}

		select {
		case <-cmd.Context().Done():
			_ = bar.Clear()
			return context.Canceled
		case <-ticker.C:
		}
	}
}
