package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// Verification is the outcome of a successful payment verification.
type Verification struct {
	Success    bool
	Plan       plan.Tier
	CustomerID string
	Credential *credential.Credential
	// Superseded is set when the session's subscription has ended or changed
	// tier since checkout. Plan then reports the reconciled plan and no key
	// is issued.
	Superseded bool
}

// VerifyPayment confirms a returned checkout session and provisions the paid
// tier. The tier comes from the charged amount, never from the caller.
//
// Verification failures (unpaid, unknown amount, provider errors) are
// wrapped in ErrPaymentVerificationFailed and write nothing. Once the payment
// is confirmed, local steps are retried; if they still fail the error wraps
// ErrSetupIncomplete and a *StepError naming the failed step, and the call is
// safe to repeat with the same session id.
//
// Concurrent calls for the same user and session share one execution, which
// is detached from the caller's cancellation and bounded by VerifyTimeout.
func (s *Service) VerifyPayment(ctx context.Context, userID, sessionID string) (v *Verification, err error) {
	defer func() { s.metrics.flow("verify_payment", err) }()

	if userID == "" {
		return nil, ErrUnauthorized
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	res, err, _ := s.verifies.Do(userID+":"+sessionID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.VerifyTimeout)
		defer cancel()
		return s.verify(ctx, userID, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Verification), nil
}

func (s *Service) verify(ctx context.Context, userID, sessionID string) (*Verification, error) {
	log := s.log.With(logger.UserID(userID), logger.SessionID(sessionID))

	co, err := s.verifyCheckout(ctx, sessionID)
	if err != nil {
		log.WarnContext(ctx, "payment verification failed", logger.Error(err))
		return nil, err
	}
	if co.UserID != userID {
		log.WarnContext(ctx, "checkout session belongs to another user")
		return nil, fmt.Errorf("%w: session %s", ErrForbidden, sessionID)
	}

	stale, err := s.superseded(ctx, co)
	if err != nil {
		log.WarnContext(ctx, "payment verification failed", logger.Error(err))
		return nil, err
	}
	if stale {
		out, err := s.ReconcileUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		current, _, err := s.ids.GetPlan(ctx, userID)
		if err != nil {
			return nil, stepErr(StepLookup, err)
		}
		log.InfoContext(ctx, "checkout superseded by later subscription state",
			logger.SubscriptionID(co.SubscriptionID), logger.Tier(string(current)), slog.String("outcome", string(out)))
		return &Verification{
			Success:    true,
			Plan:       current,
			CustomerID: co.CustomerID,
			Superseded: true,
		}, nil
	}

	cred, err := s.provision(ctx, provisioning{
		userID:     userID,
		tier:       co.Tier,
		customerID: co.CustomerID,
		rotate:     true,
	})
	if err != nil {
		step, _ := StepOf(err)
		log.ErrorContext(ctx, "payment captured but setup incomplete",
			logger.Tier(string(co.Tier)), logger.Step(string(step)), logger.Error(err))
		s.notifier.SetupIncomplete(ctx, userID, co.Tier, sessionID)
		return nil, errors.Join(ErrSetupIncomplete, err)
	}

	log.InfoContext(ctx, "payment verified", logger.Tier(string(co.Tier)), logger.CustomerID(co.CustomerID))
	return &Verification{
		Success:    true,
		Plan:       co.Tier,
		CustomerID: co.CustomerID,
		Credential: cred,
	}, nil
}

// verifyCheckout fails closed: any error means nothing may be provisioned.
func (s *Service) verifyCheckout(ctx context.Context, sessionID string) (*billing.Checkout, error) {
	var co *billing.Checkout
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		co, err = s.billing.VerifyCheckoutSession(ctx, sessionID)
		return err
	})
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return nil, errors.Join(ErrPaymentVerificationFailed,
			&StepError{Step: StepVerify, Err: fmt.Errorf("%w: unknown session %s", ErrInvalidInput, sessionID)})
	case err != nil:
		return nil, errors.Join(ErrPaymentVerificationFailed, stepErr(StepVerify, err))
	case !co.Tier.IsPaid():
		return nil, errors.Join(ErrPaymentVerificationFailed,
			&StepError{Step: StepVerify, Err: fmt.Errorf("%w: tier %q", ErrUnknownPriceAmount, co.Tier)})
	}
	return co, nil
}

// superseded reports whether the checkout's subscription no longer grants the
// tier that was paid for, so replaying the session must not provision it.
func (s *Service) superseded(ctx context.Context, co *billing.Checkout) (bool, error) {
	if co.SubscriptionID == "" {
		return false, nil
	}
	var sub *billing.Subscription
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.billing.GetSubscription(ctx, co.SubscriptionID)
		return err
	})
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return true, nil
	case err != nil:
		return false, errors.Join(ErrPaymentVerificationFailed, stepErr(StepVerify, err))
	}
	return !sub.Status.Entitled() || sub.Tier != co.Tier, nil
}

type provisioning struct {
	userID     string
	tier       plan.Tier
	customerID string
	// rotate issues a fresh key even when the credential exists. Without it
	// an existing credential is reactivated and keeps its key.
	rotate bool
}

// provision converges local state onto a confirmed paid tier: bind the
// customer, record the plan, make the tier's credential the active paid one.
// Every step is an idempotent upsert.
func (s *Service) provision(ctx context.Context, p provisioning) (*credential.Credential, error) {
	if p.customerID != "" {
		if err := s.retryStep(ctx, StepBind, func(ctx context.Context) error {
			return s.binding.Bind(ctx, p.userID, p.customerID)
		}); err != nil {
			return nil, err
		}
	}

	if err := s.retryStep(ctx, StepSetPlan, func(ctx context.Context) error {
		_, err := s.recordPlan(ctx, p.userID, p.tier, identity.Extra{
			CustomerID: p.customerID,
			Provider:   s.billing.Provider(),
		})
		return err
	}); err != nil {
		return nil, err
	}

	var cred *credential.Credential
	if err := s.retryStep(ctx, StepCredential, func(ctx context.Context) error {
		var err error
		cred, err = s.ensureCredential(ctx, p.userID, p.tier, p.rotate)
		if err != nil {
			return err
		}
		_, err = s.creds.DeactivateTiers(ctx, p.userID, otherPaid(p.tier)...)
		return err
	}); err != nil {
		return nil, err
	}
	return cred, nil
}

// ensureCredential returns an active credential for tier. cred is nil when an
// existing credential was reactivated without rotation.
func (s *Service) ensureCredential(ctx context.Context, userID string, tier plan.Tier, rotate bool) (*credential.Credential, error) {
	if !rotate {
		ok, err := s.creds.Activate(ctx, userID, tier)
		if err != nil || ok {
			return nil, err
		}
	}
	return s.creds.Upsert(ctx, userID, tier)
}

func otherPaid(tier plan.Tier) []plan.Tier {
	var out []plan.Tier
	for _, t := range []plan.Tier{plan.Basic, plan.Pro} {
		if t != tier {
			out = append(out, t)
		}
	}
	return out
}
