package cmd

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/seedbank-crawler/internal/server"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Runs one reconciliation pass between job records and the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				report, err := app.Reconciler().Reconcile(ctx)
				if err != nil {
					return fmt.Errorf("reconcile: %w", err)
				}
				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"Checked", "Updated", "Cancelled", "Too young", "Errors"})
				t.AppendRow(table.Row{report.Checked, report.Updated, report.Cancelled, report.TooYoung, report.Errors})
				t.Render()
				return nil
			})
		},
	}
}
