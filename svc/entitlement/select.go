package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// Selection is the result of a plan selection. Free selections carry the
// provisioned credential; paid ones carry the checkout to redirect to.
type Selection struct {
	Plan       plan.Tier
	Credential *credential.Credential
	SessionID  string
	URL        string
}

// SelectPlan runs the plan selection flow. Free is provisioned immediately;
// Basic and Pro start a hosted checkout that resumes in VerifyPayment.
// A second selection for the same user while one is running fails with
// ErrSelectionInProgress.
func (s *Service) SelectPlan(ctx context.Context, userID, planName string) (sel *Selection, err error) {
	defer func() { s.metrics.flow("select_plan", err) }()

	tier, err := s.parseSelection(userID, planName)
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	if !tier.IsPaid() {
		return s.selectFree(ctx, userID)
	}
	return s.checkout(ctx, userID, tier)
}

// CreateCheckout starts a hosted checkout for a paid tier.
func (s *Service) CreateCheckout(ctx context.Context, userID, planName string) (sel *Selection, err error) {
	defer func() { s.metrics.flow("create_checkout", err) }()

	tier, err := s.parseSelection(userID, planName)
	if err != nil {
		return nil, err
	}
	if !tier.IsPaid() {
		return nil, fmt.Errorf("%w: %s has no checkout", ErrInvalidInput, tier)
	}

	release, err := s.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.checkout(ctx, userID, tier)
}

func (s *Service) parseSelection(userID, planName string) (plan.Tier, error) {
	if userID == "" {
		return "", ErrUnauthorized
	}
	if planName == "" {
		return "", fmt.Errorf("%w: plan is required", ErrInvalidInput)
	}
	tier, err := plan.Parse(planName)
	if err != nil {
		return "", fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, planName)
	}
	return tier, nil
}

// selectFree records Free and rotates the Free credential. Paid plan state is
// left to reconciliation: the billing provider stays authoritative for it.
func (s *Service) selectFree(ctx context.Context, userID string) (*Selection, error) {
	log := s.log.With(logger.UserID(userID), logger.Tier(string(plan.Free)))

	if err := s.retryStep(ctx, StepSetPlan, func(ctx context.Context) error {
		_, err := s.recordPlan(ctx, userID, plan.Free, identity.Extra{})
		return err
	}); err != nil {
		log.ErrorContext(ctx, "free selection failed", logger.Error(err))
		return nil, err
	}

	var cred *credential.Credential
	if err := s.retryStep(ctx, StepCredential, func(ctx context.Context) error {
		var err error
		cred, err = s.creds.Upsert(ctx, userID, plan.Free)
		return err
	}); err != nil {
		log.ErrorContext(ctx, "free credential provisioning failed", logger.Error(err))
		return nil, err
	}

	log.InfoContext(ctx, "free plan selected", logger.CredentialID(cred.ID))
	return &Selection{Plan: plan.Free, Credential: cred}, nil
}

func (s *Service) checkout(ctx context.Context, userID string, tier plan.Tier) (*Selection, error) {
	log := s.log.With(logger.UserID(userID), logger.Tier(string(tier)))

	req := billing.CheckoutRequest{
		UserID:     userID,
		Tier:       tier,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
	}

	// Reuse the bound customer so every subscription of a user lands on one
	// billing customer. Both lookups are optional.
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		req.CustomerID, err = s.binding.Resolve(ctx, userID)
		return err
	})
	if err != nil && !errors.Is(err, binding.ErrUnbound) {
		log.WarnContext(ctx, "customer binding lookup failed", logger.Error(err))
	}
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		req.Email, err = s.ids.Email(ctx, userID)
		return err
	}); err != nil {
		log.WarnContext(ctx, "email lookup failed", logger.Error(err))
	}

	var session *billing.CheckoutSession
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.billing.CreateCheckoutSession(ctx, req)
		return err
	}); err != nil {
		log.ErrorContext(ctx, "checkout session creation failed", logger.Error(err))
		return nil, stepErr(StepCheckout, err)
	}

	log.InfoContext(ctx, "checkout session created", logger.SessionID(session.ID))
	return &Selection{Plan: tier, SessionID: session.ID, URL: session.URL}, nil
}

// recordPlan writes tier into identity metadata and returns the previously
// recorded tier.
func (s *Service) recordPlan(ctx context.Context, userID string, tier plan.Tier, extra identity.Extra) (plan.Tier, error) {
	prev, _, err := s.ids.GetPlan(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := s.ids.SetPlan(ctx, userID, tier, extra); err != nil {
		return prev, err
	}
	if prev != tier {
		s.metrics.transition(string(prev), string(tier))
	}
	return prev, nil
}
