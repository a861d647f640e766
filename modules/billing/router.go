package billing

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/keytier/handler"
	"github.com/dmitrymomot/keytier/pkg/jwt"
	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/pkg/ratelimiter"
	billingsvc "github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/entitlement"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// Options wires the module. Limiter and Logger are optional; without a
// limiter the usage endpoint is not mounted.
type Options struct {
	Entitlements *entitlement.Service
	Credentials  *credential.Service
	Gateway      billingsvc.Gateway
	Auth         *jwt.Service
	Limiter      *ratelimiter.Limiter
	Catalog      *plan.Catalog
	Logger       *slog.Logger
}

type module struct {
	svc     *entitlement.Service
	creds   *credential.Service
	gateway billingsvc.Gateway
	log     *slog.Logger
	onError handler.ErrorHandler[handler.Context]
}

var methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// Router builds the module router. It expects to be mounted at "/".
func Router(opts Options) chi.Router {
	if opts.Entitlements == nil || opts.Credentials == nil || opts.Gateway == nil || opts.Auth == nil {
		panic("billing: router needs entitlements, credentials, gateway and auth")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := &module{
		svc:     opts.Entitlements,
		creds:   opts.Credentials,
		gateway: opts.Gateway,
		log:     log.With(logger.Component("billing_http")),
	}
	m.onError = handler.NewErrorHandler(m.log, mapError)

	r := chi.NewRouter()
	r.MethodNotAllowed(methodNotAllowed(r))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, r, handler.ErrNotFound)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.Middleware(jwt.MiddlewareConfig{
			Service: opts.Auth,
			OnError: func(w http.ResponseWriter, r *http.Request, err error) {
				m.log.DebugContext(r.Context(), "session rejected", logger.Error(err))
				handler.WriteError(w, r, handler.ErrUnauthorized.WithMessage("a valid session token is required"))
			},
		}))

		api.Post("/create-checkout-session", wrap(m, m.createCheckoutSession))
		api.Post("/verify-payment", wrap(m, m.verifyPayment))
		api.Get("/get-subscription", wrap(m, m.getSubscription))
		api.Post("/cancel-subscription", wrap(m, m.cancelSubscription))
		api.Post("/select-plan", wrap(m, m.selectPlan))
		api.Post("/check-subscription-status", wrap(m, m.checkSubscriptionStatus))

		api.Get("/keys", wrap(m, m.listKeys))
		api.Post("/keys/{id}/regenerate", wrap(m, m.regenerateKey))
		api.Patch("/keys/{id}", wrap(m, m.updateKey))

		api.Delete("/account", wrap(m, m.deleteAccount))
	})

	r.Post("/webhooks/{provider}", m.webhook)

	if opts.Limiter != nil && opts.Catalog != nil {
		r.With(credential.RequireAPIKey(credential.GatewayConfig{
			Service: opts.Credentials,
			Limiter: opts.Limiter,
			Quota:   opts.Catalog.Limit,
			Logger:  m.log,
		})).Get("/v1/usage", m.usage)
	}

	return r
}

func wrap[R any](m *module, h handler.HandlerFunc[handler.Context, R]) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[handler.Context, R](handler.BindJSON(), handler.BindPath(chi.URLParam)),
		handler.WithErrorHandler[handler.Context, R](m.onError),
	)
}

// methodNotAllowed answers 405 with the methods the path does accept.
func methodNotAllowed(routes chi.Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var allowed []string
		for _, method := range methods {
			if routes.Match(chi.NewRouteContext(), method, r.URL.Path) {
				allowed = append(allowed, method)
			}
		}
		if len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
		}
		handler.WriteError(w, r, handler.ErrMethodNotAllowed)
	}
}
