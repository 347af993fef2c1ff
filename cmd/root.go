// Package cmd defines the seedcrawler command-line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seedbank-crawler/internal/config"
	"github.com/JakeFAU/seedbank-crawler/internal/server"
)

// cfgKeyType is the key for storing the loaded Config in the command context.
type cfgKeyType string

const cfgKey cfgKeyType = "config"

// buildApp assembles the fleet. Tests replace it to avoid real backends.
var buildApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
	return server.Build(ctx, cfg, server.Options{})
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "seedcrawler",
		Short: "Crawls cannabis seed vendors and tracks their prices.",
		Long: `seedcrawler runs the vendor crawl fleet: an HTTP API for crawl jobs and
schedules, a pool of polite crawl workers, a recurring scheduler and a
reconciler that keeps job records in step with the work queue.`,
		SilenceUsage: true,

		// Config is loaded once here so every subcommand sees the same values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (yaml, json or toml)")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newJobsCmd(),
		newReconcileCmd(),
		newMigrateCmd(),
	)
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withApp builds the App, runs fn and closes the App afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *server.App) error) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	app, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		_ = app.Close(context.WithoutCancel(ctx))
	}()
	return fn(ctx, app)
}

// Execute runs the root command until it finishes or a signal arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "seedcrawler: %v\n", err)
		stop()
		os.Exit(1)
	}
}
