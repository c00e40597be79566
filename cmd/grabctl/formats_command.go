package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"media-grabber/internal/downloads"
	"media-grabber/internal/worker"
)

func newFormatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "formats <url>",
		Short: "List the formats available for a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(args[0])
			return ctx.withWorker(cmd.Context(), cmd, nil, func(conn *worker.Conn) error {
				info, err := worker.NewAPI(conn).VideoInfo(cmd.Context(), target)
				if err != nil {
					return fmt.Errorf("get video info: %s", worker.Message(err))
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, info)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s\n", info.Title)
				if info.Uploader != "" {
					fmt.Fprintf(out, "Uploader: %s\n", info.Uploader)
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Ext", "Resolution", "Note", "Audio", "Size"},
					formatRows(info.Formats),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
				))
				if best, ok := downloads.BestFormat(info.Formats); ok {
					fmt.Fprintf(out, "Default format: %s\n", best.FormatID)
				}
				return nil
			})
		},
	}
}
