package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// MetadataUserID tags provider objects (customers, subscriptions, checkouts)
// with the local user id.
const MetadataUserID = "user_id"

// Gateway is a thin typed wrapper over a billing provider.
type Gateway interface {
	Provider() plan.Provider

	// CreateCheckoutSession starts a hosted checkout for req.Tier.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// VerifyCheckoutSession confirms the session was paid and maps the paid
	// amount to a tier. It fails with ErrPaymentNotCompleted or
	// ErrUnknownPriceAmount.
	VerifyCheckoutSession(ctx context.Context, sessionID string) (*Checkout, error)

	// ListSubscriptions returns every subscription of the customer.
	ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)

	// GetSubscription returns one subscription or ErrNotFound.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription schedules cancellation at period end after checking
	// that requestingCustomerID owns the subscription.
	CancelSubscription(ctx context.Context, subscriptionID, requestingCustomerID string) (*Subscription, error)

	// FindCustomerByUser searches for a customer tagged with userID.
	FindCustomerByUser(ctx context.Context, userID string) (string, error)

	// ParseWebhook verifies the signature and normalizes the event.
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error)
}

// ActiveSubscription picks the subscription that currently entitles the
// customer, preferring active over trialing and the latest period end.
func ActiveSubscription(subs []Subscription) (*Subscription, bool) {
	var best *Subscription
	for i := range subs {
		s := &subs[i]
		if !s.Status.Entitled() {
			continue
		}
		if best == nil ||
			(s.Status == StatusActive && best.Status != StatusActive) ||
			(s.Status == best.Status && s.CurrentPeriodEnd.After(best.CurrentPeriodEnd)) {
			best = s
		}
	}
	return best, best != nil
}

// Latest returns the subscription with the latest period end, whatever its
// status.
func Latest(subs []Subscription) (*Subscription, bool) {
	var best *Subscription
	for i := range subs {
		if best == nil || subs[i].CurrentPeriodEnd.After(best.CurrentPeriodEnd) {
			best = &subs[i]
		}
	}
	return best, best != nil
}

// authorizeCancel enforces subscription ownership before any mutation.
func authorizeCancel(sub *Subscription, requestingCustomerID string) error {
	if requestingCustomerID == "" || sub.CustomerID != requestingCustomerID {
		return fmt.Errorf("%w: subscription %s", ErrForbidden, sub.ID)
	}
	return nil
}

// resolveTier maps a subscription price back to a tier.
func resolveTier(c *plan.Catalog, p plan.Provider, priceID string, price plan.Price) plan.Tier {
	if t, ok := c.TierByPriceID(p, priceID); ok {
		return t
	}
	if t, err := c.ByAmount(price.Amount, price.Currency); err == nil {
		return t
	}
	return ""
}

func checkoutPrice(c *plan.Catalog, p plan.Provider, req CheckoutRequest) (string, error) {
	if req.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if !req.Tier.IsPaid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, req.Tier)
	}
	priceID, err := c.PriceID(p, req.Tier)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return priceID, nil
}

func normalizeStatus(s string) Status {
	s = strings.ToLower(s)
	if s == "cancelled" {
		return StatusCanceled
	}
	return Status(s)
}
