package main

import (
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"eventapp-telegram-bot/internal/common/config"
	"eventapp-telegram-bot/internal/common/logger"
	"eventapp-telegram-bot/internal/platform/postgres"
)

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger.Init(serviceName, cfg.Debug, cfg.IsProduction())

			m, err := postgres.NewMigrator(cfg.Postgres.DatabaseURL)
			if err != nil {
				return err
			}
			defer m.Close()

			if down {
				err = m.Steps(-1)
			} else {
				err = m.Up()
			}
			if err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate: %w", err)
			}

			version, dirty, err := m.Version()
			if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
				return fmt.Errorf("read migration version: %w", err)
			}
			logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("Migrations complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Roll back the most recent migration instead of applying pending ones")
	return cmd
}
