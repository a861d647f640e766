package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// Outcome is what reconciliation did for one user.
type Outcome string

const (
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeDowngraded Outcome = "downgraded"
	OutcomeRealigned  Outcome = "realigned"
	// OutcomeSkipped means the entitled subscription maps to no known tier.
	OutcomeSkipped Outcome = "skipped"
)

// Report summarizes a ReconcileAll run.
type Report struct {
	Users      int           `json:"users"`
	Unchanged  int           `json:"unchanged"`
	Downgraded int           `json:"downgraded"`
	Realigned  int           `json:"realigned"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration"`
}

func (r *Report) add(o Outcome) {
	switch o {
	case OutcomeDowngraded:
		r.Downgraded++
	case OutcomeRealigned:
		r.Realigned++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Unchanged++
	}
}

// ReconcileUser brings identity metadata and credentials into agreement with
// the billing provider. Without an active or trialing subscription the user
// is moved to Free and paid credentials are deactivated. With one, the plan
// is realigned to its tier and that tier's credential is kept active.
// Existing keys are never rotated here.
func (s *Service) ReconcileUser(ctx context.Context, userID string) (out Outcome, err error) {
	defer func() { s.metrics.flow("reconcile", err) }()

	if userID == "" {
		return "", ErrUnauthorized
	}
	log := s.log.With(logger.UserID(userID))

	current, _, err := s.ids.GetPlan(ctx, userID)
	if err != nil {
		return "", stepErr(StepLookup, err)
	}

	var subs []billing.Subscription
	customerID, err := s.resolveCustomer(ctx, userID)
	switch {
	case errors.Is(err, binding.ErrUnbound):
	case err != nil:
		return "", stepErr(StepLookup, err)
	default:
		if subs, err = s.subscriptions(ctx, customerID); err != nil {
			return "", stepErr(StepLookup, err)
		}
	}

	sub, ok := billing.ActiveSubscription(subs)
	if !ok {
		return s.downgrade(ctx, userID, current)
	}

	if !sub.Tier.IsPaid() {
		log.WarnContext(ctx, "entitled subscription matches no paid tier",
			logger.SubscriptionID(sub.ID), slog.Int64("amount", sub.Price.Amount), slog.String("price_id", sub.PriceID))
		return OutcomeSkipped, nil
	}

	out = OutcomeUnchanged
	if current != sub.Tier {
		if err := s.retryStep(ctx, StepSetPlan, func(ctx context.Context) error {
			_, err := s.recordPlan(ctx, userID, sub.Tier, identity.Extra{
				CustomerID: customerID,
				Provider:   s.billing.Provider(),
			})
			return err
		}); err != nil {
			return "", err
		}
		out = OutcomeRealigned
		log.InfoContext(ctx, "plan realigned with subscription",
			slog.String("from", string(current)), logger.Tier(string(sub.Tier)), logger.SubscriptionID(sub.ID))
	}

	if err := s.retryStep(ctx, StepCredential, func(ctx context.Context) error {
		if _, err := s.ensureCredential(ctx, userID, sub.Tier, false); err != nil {
			return err
		}
		_, err := s.creds.DeactivateTiers(ctx, userID, otherPaid(sub.Tier)...)
		return err
	}); err != nil {
		return "", err
	}
	return out, nil
}

func (s *Service) downgrade(ctx context.Context, userID string, current plan.Tier) (Outcome, error) {
	var deactivated int64
	if err := s.retryStep(ctx, StepDowngrade, func(ctx context.Context) error {
		var err error
		deactivated, err = s.creds.DeactivateTiers(ctx, userID, plan.Basic, plan.Pro)
		return err
	}); err != nil {
		return "", err
	}
	if deactivated == 0 && !current.IsPaid() {
		return OutcomeUnchanged, nil
	}

	if err := s.retryStep(ctx, StepSetPlan, func(ctx context.Context) error {
		_, err := s.recordPlan(ctx, userID, plan.Free, identity.Extra{})
		return err
	}); err != nil {
		return "", err
	}
	if err := s.retryStep(ctx, StepCredential, func(ctx context.Context) error {
		_, err := s.ensureCredential(ctx, userID, plan.Free, false)
		return err
	}); err != nil {
		return "", err
	}

	from := current
	if !from.IsPaid() {
		from = plan.Basic
		if list, err := s.creds.ListByUser(ctx, userID); err == nil {
			from = highestPaid(list)
		}
	}
	s.log.InfoContext(ctx, "user downgraded to free",
		logger.UserID(userID), slog.String("from", string(from)), slog.Int64("deactivated", deactivated))
	s.notifier.Downgraded(ctx, userID, from, plan.Free)
	return OutcomeDowngraded, nil
}

// ReconcileAll reconciles every user holding an active paid credential.
// Per-user failures are counted and logged; the run only fails when the user
// listing fails or ctx ends.
func (s *Service) ReconcileAll(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report

	users, err := s.creds.UsersWithActive(ctx, plan.Basic, plan.Pro)
	if err != nil {
		return rep, stepErr(StepLookup, err)
	}
	rep.Users = len(users)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ReconcileConcurrency)

	for _, userID := range users {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			out, err := s.ReconcileUser(gctx, userID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				s.log.ErrorContext(gctx, "reconcile user failed", logger.UserID(userID), logger.Error(err))
				return nil
			}
			rep.add(out)
			return nil
		})
	}

	err = g.Wait()
	rep.Duration = time.Since(start)
	s.metrics.reconcileRun(rep.Duration.Seconds())
	s.log.InfoContext(ctx, "reconciliation finished",
		slog.Int("users", rep.Users),
		slog.Int("downgraded", rep.Downgraded),
		slog.Int("realigned", rep.Realigned),
		slog.Int("failed", rep.Failed),
		logger.Duration(rep.Duration))
	return rep, err
}

func highestPaid(list []credential.Credential) plan.Tier {
	for _, c := range list {
		if c.Tier == plan.Pro {
			return plan.Pro
		}
	}
	return plan.Basic
}
