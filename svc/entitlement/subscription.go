package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// View is the minimal projection of a subscription shown to its owner.
type View struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	Plan              plan.Tier `json:"plan,omitempty"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	Price             PriceView `json:"price"`
}

// PriceView is a price in minor units with a display string.
type PriceView struct {
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Display    string `json:"display"`
}

func newView(sub *billing.Subscription) *View {
	return &View{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Plan:              sub.Tier,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Price: PriceView{
			UnitAmount: sub.Price.Amount,
			Currency:   sub.Price.Currency,
			Display:    plan.FormatPrice(sub.Price, language.English),
		},
	}
}

// FetchSubscription returns the user's current subscription: the entitled
// one if any, otherwise the most recent. ErrNotFound is the normal answer
// for users without a billing customer or subscription.
func (s *Service) FetchSubscription(ctx context.Context, userID string) (v *View, err error) {
	defer func() { s.metrics.flow("fetch_subscription", err) }()

	if userID == "" {
		return nil, ErrUnauthorized
	}

	customerID, err := s.resolveCustomer(ctx, userID)
	if err != nil {
		return nil, stepErr(StepLookup, err)
	}

	subs, err := s.subscriptions(ctx, customerID)
	if err != nil {
		return nil, stepErr(StepLookup, err)
	}

	sub, ok := billing.ActiveSubscription(subs)
	if !ok {
		sub, ok = billing.Latest(subs)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no subscription", ErrNotFound)
	}
	return newView(sub), nil
}

// CancelSubscription schedules cancellation at period end of a subscription
// owned by the user's bound customer. Credentials stay active until
// reconciliation observes that the subscription ended.
func (s *Service) CancelSubscription(ctx context.Context, userID, subscriptionID string) (v *View, err error) {
	defer func() { s.metrics.flow("cancel_subscription", err) }()

	if userID == "" {
		return nil, ErrUnauthorized
	}
	if subscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrInvalidInput)
	}
	log := s.log.With(logger.UserID(userID), logger.SubscriptionID(subscriptionID))

	customerID, err := s.resolveCustomer(ctx, userID)
	switch {
	case errors.Is(err, binding.ErrUnbound):
		log.WarnContext(ctx, "cancel rejected: user has no billing customer")
		return nil, fmt.Errorf("%w: subscription %s", ErrForbidden, subscriptionID)
	case err != nil:
		return nil, stepErr(StepCancel, err)
	}

	var sub *billing.Subscription
	if err := s.call(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.billing.CancelSubscription(ctx, subscriptionID, customerID)
		return err
	}); err != nil {
		log.WarnContext(ctx, "cancel failed", logger.CustomerID(customerID), logger.Error(err))
		return nil, stepErr(StepCancel, err)
	}

	log.InfoContext(ctx, "subscription set to cancel at period end", logger.CustomerID(customerID))
	return newView(sub), nil
}

// resolveCustomer runs the binding strategy shared by every read and write
// path.
func (s *Service) resolveCustomer(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.binding.Resolve(ctx, userID)
		return err
	})
	return id, err
}

func (s *Service) subscriptions(ctx context.Context, customerID string) ([]billing.Subscription, error) {
	var subs []billing.Subscription
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		subs, err = s.billing.ListSubscriptions(ctx, customerID)
		return err
	})
	return subs, err
}

// CurrentPlan returns the plan recorded for the user.
func (s *Service) CurrentPlan(ctx context.Context, userID string) (plan.Tier, bool, error) {
	if userID == "" {
		return "", false, ErrUnauthorized
	}
	tier, ok, err := s.ids.GetPlan(ctx, userID)
	if err != nil {
		return "", false, stepErr(StepLookup, err)
	}
	return tier, ok, nil
}
