package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"media-grabber/internal/diagnostics"
)

var errDiagnosticsFailed = errors.New("diagnostics reported failures")

func newDiagnosticsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Check the worker connection and local settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			report := diagnostics.NewChecker().Run(cmd.Context(), settings)

			if ctx.JSONMode() {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Check", "Status", "Message", "Hint"},
					diagnosticRows(report),
					nil,
				))
			}
			if report.HasFailures {
				return errDiagnosticsFailed
			}
			return nil
		},
	}
}
