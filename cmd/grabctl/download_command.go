package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"media-grabber/internal/downloads"
	"media-grabber/internal/events"
	"media-grabber/internal/worker"
)

// formatBest asks for the rendition BestFormat would pick.
const formatBest = "best"

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var format string
	var selected []string

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download a video, or the videos of a playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			target := strings.TrimSpace(args[0])
			out := cmd.OutOrStdout()
			logger := ctx.logger(cmd)
			hub := events.NewHub()
			notifier := newPrintNotifier(cmd)

			printer := newProgressPrinter(out)
			tracker := newTracker(settings, notifier, printer.update, logger)
			defer tracker.Close()
			tracker.Attach(events.NewChannel(hub, logger))

			return ctx.withWorker(cmd.Context(), cmd, hub, func(conn *worker.Conn) error {
				api := worker.NewAPI(conn)
				svc := downloads.NewService(api, notifier, logger)
				defer svc.Close()

				if err := startDownload(cmd.Context(), cmd, api, svc, target, format, selected); err != nil {
					return err
				}
				svc.Wait()
				if n := notifier.Failures(); n > 0 {
					return fmt.Errorf("%d download(s) failed", n)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Format id to download, or \"best\"")
	cmd.Flags().StringSliceVar(&selected, "select", nil, "Playlist video ids to download (default: all)")
	return cmd
}

func startDownload(ctx context.Context, cmd *cobra.Command, api *worker.API, svc *downloads.Service, target, format string, selected []string) error {
	out := cmd.OutOrStdout()

	if downloads.IsPlaylistURL(target) {
		playlist, err := svc.Playlist(ctx, target)
		if err != nil {
			return fmt.Errorf("get playlist: %s", worker.Message(err))
		}
		if len(playlist.Videos) == 0 {
			return fmt.Errorf("playlist %s has no videos", target)
		}
		if format == "" || format == formatBest {
			format, err = resolveBestFormat(ctx, api, playlist.Videos[0].URL)
			if err != nil {
				return err
			}
		}
		n, err := svc.StartPlaylist(playlist, format, selected)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Downloading %d of %d videos from %q in format %s\n", n, len(playlist.Videos), playlist.Title, format)
		return nil
	}

	if format == formatBest {
		resolved, err := resolveBestFormat(ctx, api, target)
		if err != nil {
			return err
		}
		format = resolved
	}
	if format != "" {
		fmt.Fprintf(out, "Downloading %s in format %s\n", target, format)
		return svc.StartFormat(target, format)
	}

	site, err := svc.Start(target)
	if err != nil {
		return err
	}
	if site == "" {
		site = "generic"
	}
	fmt.Fprintf(out, "Downloading %s (%s)\n", target, site)
	return nil
}

func resolveBestFormat(ctx context.Context, api *worker.API, url string) (string, error) {
	info, err := api.VideoInfo(ctx, url)
	if err != nil {
		return "", fmt.Errorf("get video info: %s", worker.Message(err))
	}
	best, ok := downloads.BestFormat(info.Formats)
	if !ok {
		return "", fmt.Errorf("no formats listed for %s", url)
	}
	return best.FormatID, nil
}
