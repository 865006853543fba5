package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bundlex/internal/config"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "download <session-id>",
		Short: "Download the extracted asset archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			target := strings.TrimSpace(outputPath)
			if target == "" {
				target = shortID(sessionID) + "_assets.zip"
			}
			expanded, err := config.ExpandPath(target)
			if err != nil {
				return err
			}

			written, err := ctx.client().Download(cmd.Context(), sessionID, expanded)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", expanded, formatBytes(written))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Destination path for the archive")
	return cmd
}
