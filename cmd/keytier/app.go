package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrymomot/keytier/pkg/config"
	"github.com/dmitrymomot/keytier/pkg/email"
	"github.com/dmitrymomot/keytier/pkg/httpserver"
	"github.com/dmitrymomot/keytier/pkg/jwt"
	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/pkg/mongo"
	"github.com/dmitrymomot/keytier/pkg/pg"
	"github.com/dmitrymomot/keytier/pkg/ratelimiter"
	"github.com/dmitrymomot/keytier/pkg/redis"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/entitlement"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// backendConfig picks the storage behind each port. Redis is used for
// selection guards and quotas whenever REDIS_URL is set.
type backendConfig struct {
	CredentialStore    string        `env:"CREDENTIAL_STORE" envDefault:"postgres"`
	IdentityStore      string        `env:"IDENTITY_STORE" envDefault:"clerk"`
	IdentityCollection string        `env:"MONGODB_IDENTITY_COLLECTION" envDefault:"user_metadata"`
	ReadinessTimeout   time.Duration `env:"READINESS_TIMEOUT" envDefault:"3s"`
}

type app struct {
	log          *slog.Logger
	catalog      *plan.Catalog
	creds        *credential.Service
	gateway      billing.Gateway
	auth         *jwt.Service
	limiter      *ratelimiter.Limiter
	entitlements *entitlement.Service
	registry     *prometheus.Registry

	readyTimeout time.Duration
	checks       []httpserver.Check
	closers      []func()
}

func newApp(ctx context.Context, log *slog.Logger) (_ *app, err error) {
	var backends backendConfig
	if err := config.Load(&backends); err != nil {
		return nil, err
	}
	a := &app{log: log, readyTimeout: backends.ReadinessTimeout, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var planCfg plan.Config
	if err := config.Load(&planCfg); err != nil {
		return nil, err
	}
	if a.catalog, err = plan.Load(planCfg); err != nil {
		return nil, err
	}

	credStore, err := a.credentialStore(ctx, backends.CredentialStore)
	if err != nil {
		return nil, err
	}
	a.creds = credential.NewService(credStore, credential.WithLogger(log))

	metaStore, err := a.identityStore(ctx, backends)
	if err != nil {
		return nil, err
	}
	ids := identity.NewAdapter(metaStore, identity.WithLogger(log))

	var billingCfg billing.Config
	if err := config.Load(&billingCfg); err != nil {
		return nil, err
	}
	if a.gateway, err = billing.New(billingCfg, a.catalog); err != nil {
		return nil, err
	}

	var jwtCfg jwt.Config
	if err := config.Load(&jwtCfg); err != nil {
		return nil, err
	}
	if a.auth, err = jwt.New(jwtCfg); err != nil {
		return nil, err
	}

	guard, err := a.redisBackedPorts(ctx)
	if err != nil {
		return nil, err
	}

	notifier, err := a.notifier(ids)
	if err != nil {
		return nil, err
	}

	metrics, err := entitlement.NewMetrics(a.registry)
	if err != nil {
		return nil, err
	}

	var svcCfg entitlement.Config
	if err := config.Load(&svcCfg); err != nil {
		return nil, err
	}
	a.entitlements, err = entitlement.NewService(svcCfg, entitlement.Deps{
		Catalog:     a.catalog,
		Credentials: a.creds,
		Identity:    ids,
		Billing:     a.gateway,
		Binding:     binding.NewMetadata(ids, a.gateway, log),
		Guard:       guard,
		Notifier:    notifier,
		Metrics:     metrics,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "keytier wired",
		logger.Provider(string(a.gateway.Provider())),
		slog.String("credential_store", backends.CredentialStore),
		slog.String("identity_store", backends.IdentityStore),
	)
	return a, nil
}

func (a *app) credentialStore(ctx context.Context, kind string) (credential.Store, error) {
	switch strings.ToLower(kind) {
	case "memory":
		a.log.WarnContext(ctx, "credentials are kept in memory and lost on restart")
		return credential.NewMemoryStore(), nil
	case "postgres", "":
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.checks = append(a.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
		return credential.NewPostgresStore(pool), nil
	}
	return nil, fmt.Errorf("unknown credential store %q", kind)
}

func (a *app) identityStore(ctx context.Context, backends backendConfig) (identity.MetadataStore, error) {
	switch strings.ToLower(backends.IdentityStore) {
	case "memory":
		a.log.WarnContext(ctx, "identity metadata is kept in memory and lost on restart")
		return identity.NewMemoryStore(), nil
	case "mongo", "mongodb":
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		db, err := mongo.NewWithDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := db.Client()
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		a.checks = append(a.checks, httpserver.Check{Name: "mongodb", Fn: mongo.Healthcheck(client)})
		return identity.NewMongoStore(db, backends.IdentityCollection), nil
	case "clerk", "":
		var cfg identity.ClerkConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("%w: CLERK_SECRET_KEY is required for the clerk identity store", config.ErrInvalidConfig)
		}
		return identity.NewClerkStore(identity.NewClerkClient(cfg)), nil
	}
	return nil, fmt.Errorf("unknown identity store %q", backends.IdentityStore)
}

// redisBackedPorts sets the quota limiter and returns the selection guard.
// Without Redis both stay process-local.
func (a *app) redisBackedPorts(ctx context.Context) (entitlement.Guard, error) {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		a.log.WarnContext(ctx, "REDIS_URL is not set, guards and quotas are per process")
		a.limiter = ratelimiter.New(ratelimiter.NewMemoryStore())
		return entitlement.NewMemoryGuard(), nil
	}

	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	a.checks = append(a.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	a.limiter = ratelimiter.New(ratelimiter.NewRedisStore(client, cfg.KeyPrefix+"quota:"))
	return entitlement.NewRedisGuard(client, cfg.KeyPrefix+"guard:"), nil
}

func (a *app) notifier(ids *identity.Adapter) (entitlement.Notifier, error) {
	var mailCfg email.Config
	if err := config.Load(&mailCfg); err != nil {
		return nil, err
	}
	sender, err := email.NewSender(mailCfg)
	if err != nil {
		return nil, err
	}
	var notifyCfg entitlement.NotifyConfig
	if err := config.Load(&notifyCfg); err != nil {
		return nil, err
	}
	return entitlement.NewEmailNotifier(sender, ids, a.catalog, notifyCfg, a.log), nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
