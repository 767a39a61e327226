package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/store"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL migrations to Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.Postgres.DSN == "" {
			return errors.New("database.postgres.dsn is not set")
		}
		st, err := store.New(cmd.Context(), cfg.Database.Postgres.DSN, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context(), migrationsDir); err != nil {
			return err
		}
		logger.Info("migrations applied", zap.String("dir", migrationsDir))
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory of *.up.sql files")
}
