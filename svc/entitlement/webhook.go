package entitlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/billing"
)

// HandleEvent applies a verified billing webhook. Completed checkouts run the
// payment verification core without rotating existing keys; subscription
// and payment events run ReconcileUser. A returned error asks the provider
// to redeliver.
func (s *Service) HandleEvent(ctx context.Context, evt *billing.Event) (err error) {
	if evt == nil {
		return ErrInvalidInput
	}
	defer func() { s.metrics.flow("webhook", err) }()
	s.metrics.webhook(string(evt.Provider), string(evt.Type))

	log := s.log.With(
		slog.String("event_id", evt.ID),
		logger.EventType(evt.ProviderEvent),
		logger.Provider(string(evt.Provider)),
	)

	switch evt.Type {
	case billing.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, evt)

	case billing.EventSubscriptionUpdated,
		billing.EventSubscriptionCanceled,
		billing.EventPaymentSucceeded,
		billing.EventPaymentFailed:
		userID, err := s.eventUser(ctx, evt)
		if err != nil {
			return err
		}
		if userID == "" {
			log.WarnContext(ctx, "webhook ignored: no user attributed", logger.SubscriptionID(evt.SubscriptionID))
			return nil
		}
		out, err := s.ReconcileUser(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "webhook reconciliation failed", logger.UserID(userID), logger.Error(err))
			return err
		}
		log.InfoContext(ctx, "webhook reconciled", logger.UserID(userID), slog.String("outcome", string(out)))
		return nil
	}

	log.DebugContext(ctx, "webhook ignored")
	return nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, evt *billing.Event) error {
	log := s.log.With(slog.String("event_id", evt.ID), logger.SessionID(evt.SessionID))

	if evt.SessionID == "" {
		log.WarnContext(ctx, "checkout webhook without session id")
		return nil
	}

	co, err := s.verifyCheckout(ctx, evt.SessionID)
	switch {
	case errors.Is(err, ErrPaymentNotCompleted), errors.Is(err, ErrInvalidInput):
		// Async payment methods complete later with their own event.
		log.InfoContext(ctx, "checkout not provisionable yet", logger.Error(err))
		return nil
	case errors.Is(err, ErrUnknownPriceAmount):
		log.ErrorContext(ctx, "checkout paid an unknown amount", logger.Error(err))
		return nil
	case err != nil:
		return err
	}

	if co.UserID == "" || (evt.UserID != "" && evt.UserID != co.UserID) {
		log.WarnContext(ctx, "checkout webhook ignored: user mismatch",
			logger.UserID(co.UserID), logger.CustomerID(co.CustomerID))
		return nil
	}

	stale, err := s.superseded(ctx, co)
	if err != nil {
		return err
	}
	if stale {
		out, err := s.ReconcileUser(ctx, co.UserID)
		if err != nil {
			log.ErrorContext(ctx, "webhook reconciliation failed", logger.UserID(co.UserID), logger.Error(err))
			return err
		}
		log.InfoContext(ctx, "superseded checkout reconciled", logger.UserID(co.UserID), slog.String("outcome", string(out)))
		return nil
	}

	if _, err := s.provision(ctx, provisioning{
		userID:     co.UserID,
		tier:       co.Tier,
		customerID: co.CustomerID,
	}); err != nil {
		log.ErrorContext(ctx, "webhook provisioning failed", logger.UserID(co.UserID), logger.Error(err))
		return errors.Join(ErrSetupIncomplete, err)
	}
	log.InfoContext(ctx, "checkout provisioned from webhook", logger.UserID(co.UserID), logger.Tier(string(co.Tier)))
	return nil
}

// eventUser attributes an event to a user: directly, or through the user id
// tagged on the subscription.
func (s *Service) eventUser(ctx context.Context, evt *billing.Event) (string, error) {
	if evt.UserID != "" || evt.SubscriptionID == "" {
		return evt.UserID, nil
	}

	var sub *billing.Subscription
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		sub, err = s.billing.GetSubscription(ctx, evt.SubscriptionID)
		return err
	})
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return "", nil
	case err != nil:
		return "", stepErr(StepLookup, err)
	}
	return sub.Metadata[billing.MetadataUserID], nil
}
