package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey         string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret     string `env:"STRIPE_WEBHOOK_SECRET"`
	APIURL            string `env:"STRIPE_API_URL"`
	MaxNetworkRetries int64  `env:"STRIPE_MAX_NETWORK_RETRIES" envDefault:"2"`
}

// StripeGateway implements Gateway with Stripe Checkout and Billing.
type StripeGateway struct {
	api           *client.API
	catalog       *plan.Catalog
	webhookSecret string
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway creates a Stripe gateway. APIURL overrides the API host,
// which is only useful against stripe-mock or a test server.
func NewStripeGateway(cfg StripeConfig, catalog *plan.Catalog) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key is required", ErrInvalidArgument)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: plan catalog is required", ErrInvalidArgument)
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &StripeGateway{
		api: client.New(cfg.SecretKey, &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		}),
		catalog:       catalog,
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (g *StripeGateway) Provider() plan.Provider { return plan.ProviderStripe }

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	priceID, err := checkoutPrice(g.catalog, plan.ProviderStripe, req)
	if err != nil {
		return nil, err
	}

	customerID := req.CustomerID
	if customerID == "" {
		if customerID, err = g.ensureCustomer(ctx, req.UserID, req.Email); err != nil {
			return nil, err
		}
	}

	tags := map[string]string{MetadataUserID: req.UserID, "tier": string(req.Tier)}
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Metadata:         tags,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: tags},
	}

	cs, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError(err)
	}
	return &CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

func (g *StripeGateway) VerifyCheckoutSession(ctx context.Context, sessionID string) (*Checkout, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	cs, err := g.api.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, stripeError(err)
	}
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, fmt.Errorf("%w: session %s is %s", ErrPaymentNotCompleted, cs.ID, cs.PaymentStatus)
	}

	amount := plan.Price{Amount: cs.AmountTotal, Currency: strings.ToUpper(string(cs.Currency))}
	tier, err := g.catalog.ByAmount(amount.Amount, amount.Currency)
	if err != nil {
		return nil, errors.Join(ErrUnknownPriceAmount, err)
	}

	out := &Checkout{
		SessionID: cs.ID,
		UserID:    cs.ClientReferenceID,
		Tier:      tier,
		Amount:    amount,
	}
	if out.UserID == "" {
		out.UserID = cs.Metadata[MetadataUserID]
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		out.SubscriptionID = cs.Subscription.ID
	}
	return out, nil
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}

	it := g.api.Subscriptions.List(&stripe.SubscriptionListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Customer:   stripe.String(customerID),
		Status:     stripe.String("all"),
	})
	var out []Subscription
	for it.Next() {
		out = append(out, g.subscription(it.Subscription()))
	}
	if err := it.Err(); err != nil {
		return nil, stripeError(err)
	}
	return out, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrInvalidArgument)
	}
	s, err := g.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return nil, stripeError(err)
	}
	sub := g.subscription(s)
	return &sub, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID, requestingCustomerID string) (*Subscription, error) {
	sub, err := g.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeCancel(sub, requestingCustomerID); err != nil {
		return nil, err
	}
	if sub.CancelAtPeriodEnd || sub.Status == StatusCanceled {
		return sub, nil
	}

	s, err := g.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, stripeError(err)
	}
	updated := g.subscription(s)
	return &updated, nil
}

func (g *StripeGateway) FindCustomerByUser(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	it := g.api.Customers.Search(&stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Context: ctx,
			Query:   fmt.Sprintf("metadata['%s']:'%s'", MetadataUserID, escapeSearch(userID)),
			Limit:   stripe.Int64(1),
		},
	})
	for it.Next() {
		if c := it.Customer(); c != nil && c.ID != "" {
			return c.ID, nil
		}
	}
	if err := it.Err(); err != nil {
		return "", stripeError(err)
	}
	return "", fmt.Errorf("%w: no customer tagged with user %s", ErrNotFound, userID)
}

func (g *StripeGateway) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is not configured", ErrInvalidSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	out := &Event{
		ID:            evt.ID,
		Type:          EventIgnored,
		ProviderEvent: string(evt.Type),
		Provider:      plan.ProviderStripe,
	}
	if evt.Data == nil {
		return out, nil
	}

	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: decode checkout session: %v", ErrInvalidArgument, err)
		}
		out.Type = EventCheckoutCompleted
		out.SessionID = cs.ID
		out.UserID = cs.ClientReferenceID
		if out.UserID == "" {
			out.UserID = cs.Metadata[MetadataUserID]
		}
		if cs.Customer != nil {
			out.CustomerID = cs.Customer.ID
		}
		if cs.Subscription != nil {
			out.SubscriptionID = cs.Subscription.ID
		}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var s stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", ErrInvalidArgument, err)
		}
		out.Type = EventSubscriptionUpdated
		if evt.Type == "customer.subscription.deleted" {
			out.Type = EventSubscriptionCanceled
		}
		out.SubscriptionID = s.ID
		out.Status = normalizeStatus(string(s.Status))
		out.UserID = s.Metadata[MetadataUserID]
		if s.Customer != nil {
			out.CustomerID = s.Customer.ID
		}

	case "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", ErrInvalidArgument, err)
		}
		out.Type = EventPaymentSucceeded
		if evt.Type == "invoice.payment_failed" {
			out.Type = EventPaymentFailed
		}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
	}
	return out, nil
}

// ensureCustomer returns the customer tagged with userID, creating one when
// none exists so later lookups by tag succeed.
func (g *StripeGateway) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	id, err := g.FindCustomerByUser(ctx, userID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	params := &stripe.CustomerParams{
		Params:   stripe.Params{Context: ctx},
		Metadata: map[string]string{MetadataUserID: userID},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", stripeError(err)
	}
	return c.ID, nil
}

func (g *StripeGateway) subscription(s *stripe.Subscription) Subscription {
	sub := Subscription{
		ID:                s.ID,
		Status:            normalizeStatus(string(s.Status)),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(s.CurrentPeriodEnd, 0).UTC()
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		p := s.Items.Data[0].Price
		sub.PriceID = p.ID
		sub.Price = plan.Price{Amount: p.UnitAmount, Currency: strings.ToUpper(string(p.Currency))}
	}
	sub.Tier = resolveTier(g.catalog, plan.ProviderStripe, sub.PriceID, sub.Price)
	return sub
}

func stripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		if se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound {
			return errors.Join(ErrNotFound, err)
		}
	}
	return errors.Join(ErrProvider, err)
}

func escapeSearch(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}
