package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/pkg/retry"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// Config tunes the entitlement flows.
type Config struct {
	SuccessURL string `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL  string `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/pricing"`

	// SelectionTTL bounds how long an in-flight plan selection blocks another.
	SelectionTTL time.Duration `env:"PLAN_SELECTION_TTL" envDefault:"30s"`
	// ProviderTimeout caps every single billing or identity round-trip.
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	// VerifyTimeout caps a whole verification run, retries included.
	VerifyTimeout time.Duration `env:"VERIFY_TIMEOUT" envDefault:"45s"`

	StepAttempts int           `env:"RECONCILE_STEP_ATTEMPTS" envDefault:"3"`
	StepBackoff  time.Duration `env:"RECONCILE_STEP_BACKOFF" envDefault:"200ms"`

	ReconcileConcurrency int     `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
	ReconcileRPS         float64 `env:"RECONCILE_RPS" envDefault:"10"`
}

// Deps are the collaborators of a Service. Guard, Notifier, Metrics and
// Logger are optional.
type Deps struct {
	Catalog     *plan.Catalog
	Credentials *credential.Service
	Identity    *identity.Adapter
	Billing     billing.Gateway
	Binding     binding.Strategy
	Guard       Guard
	Notifier    Notifier
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Service runs the entitlement flows. It holds no per-user state: every
// flow re-reads the providers and converges through idempotent writes.
type Service struct {
	cfg      Config
	catalog  *plan.Catalog
	creds    *credential.Service
	ids      *identity.Adapter
	billing  billing.Gateway
	binding  binding.Strategy
	guard    Guard
	notifier Notifier
	metrics  *Metrics
	log      *slog.Logger

	verifies singleflight.Group
	limiter  *rate.Limiter
}

// NewService wires a Service. Catalog, Credentials, Identity, Billing and
// Binding are required.
func NewService(cfg Config, deps Deps) (*Service, error) {
	if deps.Catalog == nil || deps.Credentials == nil || deps.Identity == nil || deps.Billing == nil || deps.Binding == nil {
		return nil, errors.New("entitlement: missing required dependency")
	}

	cfg.SelectionTTL = cmpOr(cfg.SelectionTTL, 30*time.Second)
	cfg.ProviderTimeout = cmpOr(cfg.ProviderTimeout, 10*time.Second)
	cfg.VerifyTimeout = cmpOr(cfg.VerifyTimeout, 45*time.Second)
	cfg.StepBackoff = cmpOr(cfg.StepBackoff, 200*time.Millisecond)
	cfg.StepAttempts = max(cfg.StepAttempts, 1)
	cfg.ReconcileConcurrency = max(cfg.ReconcileConcurrency, 1)

	limit := rate.Limit(cfg.ReconcileRPS)
	if cfg.ReconcileRPS <= 0 {
		limit = rate.Inf
	}

	s := &Service{
		cfg:      cfg,
		catalog:  deps.Catalog,
		creds:    deps.Credentials,
		ids:      deps.Identity,
		billing:  deps.Billing,
		binding:  deps.Binding,
		guard:    deps.Guard,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		limiter:  rate.NewLimiter(limit, cfg.ReconcileConcurrency),
	}
	if s.guard == nil {
		s.guard = NewMemoryGuard()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	s.log = s.log.With(logger.Component("entitlement"))
	return s, nil
}

// call runs one provider round-trip under ProviderTimeout.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	return fn(ctx)
}

// retryStep retries a local reconciliation step. Caller errors are not
// retried.
func (s *Service) retryStep(ctx context.Context, step Step, fn func(ctx context.Context) error) error {
	policy := retry.Policy{
		Attempts: s.cfg.StepAttempts,
		Strategy: retry.Exponential{Initial: s.cfg.StepBackoff, Max: 4 * s.cfg.StepBackoff, Jitter: 0.1},
		OnRetry: func(attempt int, err error, next time.Duration) {
			s.metrics.retry(step)
			s.log.WarnContext(ctx, "retrying step",
				logger.Step(string(step)), logger.RetryCount(attempt), logger.Duration(next), logger.Error(err))
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		err := s.call(ctx, fn)
		if k := KindOf(classify(err)); err != nil && k != KindProvider && k != KindInternal {
			return retry.Permanent(err)
		}
		return err
	})
	return stepErr(step, err)
}

// acquire takes the per-user selection flag. A failing guard backend lets
// the flow through: every step is idempotent.
func (s *Service) acquire(ctx context.Context, userID string) (func(), error) {
	release, ok, err := s.guard.TryAcquire(ctx, "select:"+userID, s.cfg.SelectionTTL)
	if err != nil {
		s.log.WarnContext(ctx, "selection guard unavailable", logger.UserID(userID), logger.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, ErrSelectionInProgress
	}
	return release, nil
}

func cmpOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
