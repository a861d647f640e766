package credential

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/keytier/handler"
	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/pkg/ratelimiter"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// APIKeyHeader is checked before the Authorization header.
const APIKeyHeader = "X-API-Key"

type ctxKey struct{ name string }

var (
	credentialKey = ctxKey{"credential"}
	quotaKey      = ctxKey{"quota"}
)

// FromContext returns the credential authenticated by RequireAPIKey.
func FromContext(ctx context.Context) (*Credential, bool) {
	c, ok := ctx.Value(credentialKey).(*Credential)
	return c, ok
}

// QuotaFromContext returns the quota state recorded for this request. It is
// absent for unlimited tiers.
func QuotaFromContext(ctx context.Context) (*ratelimiter.Result, bool) {
	r, ok := ctx.Value(quotaKey).(*ratelimiter.Result)
	return r, ok
}

// GatewayConfig wires RequireAPIKey.
type GatewayConfig struct {
	Service *Service
	Limiter *ratelimiter.Limiter
	// Quota returns the daily request limit of a tier, or plan.Unlimited.
	Quota  func(plan.Tier) int
	Logger *slog.Logger
}

// RequireAPIKey authenticates API traffic by key and enforces the daily quota
// of the credential's tier. Quota state is shared by every key of the same
// (user, tier), so rotating a key does not reset the budget.
func RequireAPIKey(cfg GatewayConfig) func(http.Handler) http.Handler {
	if cfg.Service == nil || cfg.Limiter == nil || cfg.Quota == nil {
		panic("credential: RequireAPIKey needs a service, limiter and quota")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" {
				handler.WriteError(w, r, handler.ErrUnauthorized.WithMessage("missing API key"))
				return
			}

			c, err := cfg.Service.Authenticate(r.Context(), key)
			switch {
			case errors.Is(err, ErrInvalidKey):
				handler.WriteError(w, r, handler.ErrUnauthorized.WithMessage("invalid API key"))
				return
			case errors.Is(err, ErrInactiveKey):
				handler.WriteError(w, r, handler.ErrUnauthorized.WithMessage("API key is inactive"))
				return
			case err != nil:
				log.ErrorContext(r.Context(), "api key lookup failed", logger.Error(err))
				handler.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), credentialKey, c)

			if limit := cfg.Quota(c.Tier); limit != plan.Unlimited {
				res, err := cfg.Limiter.Allow(ctx, "quota:"+c.UserID+":"+string(c.Tier), ratelimiter.Daily(limit))
				if err != nil {
					log.WarnContext(ctx, "quota check failed, serving request",
						logger.UserID(c.UserID), logger.Error(err))
				} else {
					ratelimiter.SetHeaders(w, res)
					if !res.Allowed() {
						handler.WriteError(w, r, handler.ErrTooManyRequests.WithMessage("daily quota of the %s plan exceeded", c.Tier))
						return
					}
					ctx = context.WithValue(ctx, quotaKey, res)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(APIKeyHeader)); k != "" {
		return k
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
