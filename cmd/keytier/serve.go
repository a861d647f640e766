package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/keytier/modules/billing"
	"github.com/dmitrymomot/keytier/pkg/config"
	"github.com/dmitrymomot/keytier/pkg/httpserver"
	"github.com/dmitrymomot/keytier/pkg/requestid"
)

func newServeCmd(log func() *slog.Logger) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if migrate {
				if err := runMigrations(ctx, log()); err != nil {
					return err
				}
			}

			a, err := newApp(ctx, log())
			if err != nil {
				return err
			}
			defer a.Close()

			var cfg httpserver.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			return httpserver.NewFromConfig(cfg, httpserver.WithLogger(a.log)).Run(ctx, a.router())
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware, middleware.Recoverer)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(a.log, a.readyTimeout, a.checks...))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	r.Mount("/", billing.Router(billing.Options{
		Entitlements: a.entitlements,
		Credentials:  a.creds,
		Gateway:      a.gateway,
		Auth:         a.auth,
		Limiter:      a.limiter,
		Catalog:      a.catalog,
		Logger:       a.log,
	}))
	return r
}
