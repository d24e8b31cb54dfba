package cli

import (
	"context"

	"offline-contest/internal/config"
	pgstore "offline-contest/internal/infra/postgres"
	"offline-contest/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newMigrateCmd applies the contest API's database migrations.
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(cmd.Context(), opts.configPath)
		},
	}
}

func runMigrations(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	applied, err := pgstore.Migrate(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info("database is up to date")
		return nil
	}
	log.Info("migrations applied", zap.Strings("migrations", applied))
	return nil
}
