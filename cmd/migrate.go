package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seedbank-crawler/internal/database"
	"github.com/JakeFAU/seedbank-crawler/internal/logging"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Applies or rolls back the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(database.Up), string(database.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			dirArg := string(database.Up)
			if len(args) == 1 {
				dirArg = args[0]
			}
			dir, err := database.ParseDirection(dirArg)
			if err != nil {
				return err
			}
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.DB.DSN == "" {
				return fmt.Errorf("db.dsn is required to migrate")
			}

			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			db, err := database.Open(cmd.Context(), cfg.DB.DSN, logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return database.Migrate(db.DB, dir, logger.Named("migrate"))
		},
	}
}
