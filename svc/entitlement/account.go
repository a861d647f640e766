package entitlement

import (
	"context"
	"errors"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/identity"
)

// DeleteAccount removes a user. Entitled subscriptions are set to cancel at
// period end first, then every credential is deleted, and only then the
// identity record. Any failure stops the sequence so it can be repeated.
func (s *Service) DeleteAccount(ctx context.Context, userID string) (err error) {
	defer func() { s.metrics.flow("delete_account", err) }()

	if userID == "" {
		return ErrUnauthorized
	}
	log := s.log.With(logger.UserID(userID))

	customerID, err := s.resolveCustomer(ctx, userID)
	switch {
	case errors.Is(err, binding.ErrUnbound):
	case err != nil:
		return stepErr(StepLookup, err)
	default:
		subs, err := s.subscriptions(ctx, customerID)
		if err != nil {
			return stepErr(StepLookup, err)
		}
		for _, sub := range subs {
			if !sub.Status.Entitled() || sub.CancelAtPeriodEnd {
				continue
			}
			if err := s.call(ctx, func(ctx context.Context) error {
				_, err := s.billing.CancelSubscription(ctx, sub.ID, customerID)
				return err
			}); err != nil {
				log.ErrorContext(ctx, "account deletion stopped: cancel failed", logger.SubscriptionID(sub.ID), logger.Error(err))
				return stepErr(StepCancel, err)
			}
			log.InfoContext(ctx, "subscription set to cancel for deleted account", logger.SubscriptionID(sub.ID))
		}
	}

	if err := s.retryStep(ctx, StepDelete, func(ctx context.Context) error {
		_, err := s.creds.DeleteAllForUser(ctx, userID)
		return err
	}); err != nil {
		log.ErrorContext(ctx, "account deletion stopped: credentials remain", logger.Error(err))
		return err
	}

	if err := s.retryStep(ctx, StepDelete, func(ctx context.Context) error {
		err := s.ids.DeleteUser(ctx, userID)
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil
		}
		return err
	}); err != nil {
		log.ErrorContext(ctx, "identity deletion failed", logger.Error(err))
		return err
	}

	log.InfoContext(ctx, "account deleted")
	return nil
}
