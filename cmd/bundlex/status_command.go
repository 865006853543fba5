package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bundlex/internal/api"
	"bundlex/internal/bundle"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var showAssets bool

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			printStatus(cmd, resp, showAssets)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the raw JSON response")
	cmd.Flags().BoolVar(&showAssets, "assets", false, "List every asset instead of class totals")
	return cmd
}

func printStatus(cmd *cobra.Command, resp *api.StatusResponse, showAssets bool) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	message := fmt.Sprintf("%s phase, %d%%", resp.Kind, resp.Progress)
	if resp.QueuePosition > 0 {
		message = fmt.Sprintf("position %d of %d", resp.QueuePosition, resp.TotalQueued)
	}
	fmt.Fprintln(out, renderStatusLine("Session "+shortID(resp.SessionID), sessionStatusKind(resp.Status), resp.Status+", "+message, colorize))

	if resp.Error != "" {
		label := "Error"
		if resp.ErrorKind != "" {
			label = "Error (" + resp.ErrorKind + ")"
		}
		fmt.Fprintln(out, renderStatusLine(label, statusError, resp.Error, colorize))
	}
	if resp.DownloadReady {
		fmt.Fprintln(out, renderStatusLine("Download", statusOK, "archive ready, fetch it with `bundlex download`", colorize))
	}

	if len(resp.Metadata) == 0 {
		return
	}
	var meta bundle.Metadata
	if err := json.Unmarshal(resp.Metadata, &meta); err != nil {
		fmt.Fprintln(out, renderStatusLine("Metadata", statusWarn, "unreadable analysis payload", colorize))
		return
	}
	printMetadata(cmd, &meta, showAssets)
}

func printMetadata(cmd *cobra.Command, meta *bundle.Metadata, showAssets bool) {
	out := cmd.OutOrStdout()

	info := meta.BundleInfo
	fmt.Fprintf(out, "\n%s (%s, %d objects)\n", info.Filename, formatBytes(info.SizeBytes), info.ObjectCount)
	if info.UnityVersion != "" {
		fmt.Fprintf(out, "Unity %s, %s, %s compression\n", info.UnityVersion, info.Platform, info.Compression)
	}

	if showAssets && len(meta.Assets) > 0 {
		rows := make([][]string, 0, len(meta.Assets))
		for _, asset := range meta.Assets {
			rows = append(rows, []string{
				strconv.Itoa(asset.Index),
				strconv.FormatInt(asset.PathID, 10),
				asset.Name,
				bundle.DisplayClassName(asset.Class),
				formatBytes(asset.EstimatedSize),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"#", "Path ID", "Name", "Class", "Size"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight},
		))
		return
	}

	if len(meta.AssetClasses) > 0 {
		rows := make([][]string, 0, len(meta.AssetClasses))
		for _, class := range meta.AssetClasses {
			rows = append(rows, []string{bundle.DisplayClassName(class.Class), strconv.Itoa(class.Count)})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Class", "Assets"},
			rows,
			[]columnAlignment{alignLeft, alignRight},
		))
	}
}
