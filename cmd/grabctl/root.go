package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var workerFlag string
	var configFlag string
	var logLevelFlag string
	var jsonFlag bool

	ctx := newCommandContext(&workerFlag, &configFlag, &logLevelFlag, &jsonFlag)

	rootCmd := &cobra.Command{
		Use:           "grabctl",
		Short:         "Download and transcribe media through the grabber worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureSettings()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&workerFlag, "worker-url", "", "Websocket address of the worker (overrides settings)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Settings file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newDownloadCommand(ctx))
	rootCmd.AddCommand(newFormatsCommand(ctx))
	rootCmd.AddCommand(newTranscribeCommand(ctx))
	rootCmd.AddCommand(newDiagnosticsCommand(ctx))

	return rootCmd
}
