package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/keytier/pkg/config"
	"github.com/dmitrymomot/keytier/pkg/pg"
	"github.com/dmitrymomot/keytier/svc/credential"
)

func newMigrateCmd(log func() *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending credential store migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrations(cmd.Context(), log())
		},
	}
}

func runMigrations(ctx context.Context, log *slog.Logger) error {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := pg.Migrate(ctx, pool, credential.Migrations(), cfg, log)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "migrations applied", slog.Int("count", len(applied)), slog.Any("versions", applied))
	return nil
}
