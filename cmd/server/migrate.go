package main

import (
	"github.com/spf13/cobra"

	"github.com/garyjia/school-liquidation/internal/container"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, _, err := container.ProvideDatabase(cmd.Context(), cfg.Database, logger)
		if err != nil {
			return err
		}
		logger.Info("Migrations applied")
		return db.Close()
	},
}
