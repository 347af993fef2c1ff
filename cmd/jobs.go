package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/server"
)

func newJobsCmd() *cobra.Command {
	var (
		vendorID string
		statuses string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Lists crawl jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := jobFilter(vendorID, statuses, limit)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, app *server.App) error {
				list, err := app.Jobs().ListJobs(ctx, filter)
				if err != nil {
					return fmt.Errorf("list jobs: %w", err)
				}
				renderJobs(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "only jobs for this vendor")
	cmd.Flags().StringVar(&statuses, "status", "", "comma-separated statuses, e.g. WAITING,ACTIVE")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to show")
	return cmd
}

func jobFilter(vendorID, statuses string, limit int) (crawler.JobFilter, error) {
	if limit <= 0 {
		return crawler.JobFilter{}, fmt.Errorf("--limit must be > 0")
	}
	filter := crawler.JobFilter{VendorID: vendorID, Limit: limit}
	for _, raw := range strings.Split(statuses, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := crawler.JobStatus(strings.ToUpper(raw))
		if !status.Valid() {
			return crawler.JobFilter{}, fmt.Errorf("unknown status %q", raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}
