package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/keytier/pkg/config"
	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/pkg/requestid"
)

func newRootCmd() *cobra.Command {
	var log *slog.Logger

	root := &cobra.Command{
		Use:           "keytier",
		Short:         "Subscription-gated API key service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var cfg logger.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			l, err := logger.NewFromConfig(cfg, logger.WithContextExtractors(requestid.LogExtractor()))
			if err != nil {
				return err
			}
			logger.SetAsDefault(l)
			log = l
			return nil
		},
	}

	logFn := func() *slog.Logger { return log }
	root.AddCommand(
		newServeCmd(logFn),
		newMigrateCmd(logFn),
		newReconcileCmd(logFn),
		newVersionCmd(),
	)
	return root
}
