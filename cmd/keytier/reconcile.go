package main

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/keytier/pkg/logger"
)

func newReconcileCmd(log func() *slog.Logger) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Align plans and API keys with billing subscriptions",
		Long: `Reconcile walks every user holding an active paid API key, downgrades
users whose subscription ended and re-aligns users whose paid tier changed.
It is safe to run repeatedly, for example from a cron job.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, log())
			if err != nil {
				return err
			}
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			if userID != "" {
				out, err := a.entitlements.ReconcileUser(ctx, userID)
				if err != nil {
					return err
				}
				return enc.Encode(map[string]string{"user_id": userID, "outcome": string(out)})
			}

			report, err := a.entitlements.ReconcileAll(ctx)
			if err != nil {
				a.log.ErrorContext(ctx, "reconciliation aborted", logger.Error(err))
				return err
			}
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "reconcile a single user id")
	return cmd
}
