package billing

import (
	"time"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// Status is the provider subscription status, normalized to lower case.
type Status string

const (
	StatusActive     Status = "active"
	StatusTrialing   Status = "trialing"
	StatusPastDue    Status = "past_due"
	StatusPaused     Status = "paused"
	StatusUnpaid     Status = "unpaid"
	StatusIncomplete Status = "incomplete"
	StatusCanceled   Status = "canceled"
)

// Entitled reports whether the status grants paid access.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the provider's subscription as read through a Gateway.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            Status
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	PriceID           string
	Price             plan.Price
	// Tier is resolved from the price id, then from the amount. Empty when
	// neither matches the catalog.
	Tier     plan.Tier
	Metadata map[string]string
}

// CheckoutRequest starts a hosted checkout for a paid tier.
type CheckoutRequest struct {
	UserID     string
	Tier       plan.Tier
	Email      string
	CustomerID string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a created hosted checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// Checkout is a verified, paid checkout session.
type Checkout struct {
	SessionID      string
	UserID         string
	CustomerID     string
	SubscriptionID string
	Tier           plan.Tier
	Amount         plan.Price
}

// EventType is the normalized webhook event kind.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventIgnored              EventType = "ignored"
)

// Event is a verified provider webhook reduced to what reconciliation needs.
type Event struct {
	ID             string        `json:"id"`
	Type           EventType     `json:"type"`
	ProviderEvent  string        `json:"provider_event,omitempty"`
	Provider       plan.Provider `json:"provider,omitempty"`
	SessionID      string        `json:"session_id,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Status         Status        `json:"status,omitempty"`
}
