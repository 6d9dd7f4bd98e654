package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reviewroom/api/internal/store"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			logger := commonRun(cfg)
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for migrate")
			}
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			migrations, err := store.Migrations(cfg.MigrationsDir)
			if err != nil {
				return err
			}
			files, err := store.UpMigrations(migrations)
			if err != nil {
				return err
			}
			if err := store.ApplyMigrations(cmd.Context(), db, migrations); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			logger.Info("migrations applied", "files", len(files))
			return nil
		},
	}
}
