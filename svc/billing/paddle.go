package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// PaddleConfig holds Paddle Billing credentials.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway implements Gateway with Paddle Billing. A Paddle checkout
// session is a transaction; the user id travels in custom data.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	catalog  *plan.Catalog
}

var _ Gateway = (*PaddleGateway)(nil)

func NewPaddleGateway(cfg PaddleConfig, catalog *plan.Catalog) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: paddle API key is required", ErrInvalidArgument)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: plan catalog is required", ErrInvalidArgument)
	}

	var (
		sdk *paddle.SDK
		err error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		sdk, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		sdk, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: paddle environment %q", ErrInvalidArgument, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   sdk,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		catalog:  catalog,
	}, nil
}

func (g *PaddleGateway) Provider() plan.Provider { return plan.ProviderPaddle }

func (g *PaddleGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	priceID, err := checkoutPrice(g.catalog, plan.ProviderPaddle, req)
	if err != nil {
		return nil, err
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{MetadataUserID: req.UserID, "tier": string(req.Tier)},
	}
	if req.CustomerID != "" {
		txReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := g.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, paddleError(err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, fmt.Errorf("%w: paddle returned no checkout url", ErrProvider)
	}
	return &CheckoutSession{ID: tx.ID, URL: *tx.Checkout.URL}, nil
}

func (g *PaddleGateway) VerifyCheckoutSession(ctx context.Context, sessionID string) (*Checkout, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	tx, err := g.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: sessionID})
	if err != nil {
		return nil, paddleError(err)
	}
	switch tx.Status {
	case paddle.TransactionStatusPaid, paddle.TransactionStatusCompleted:
	default:
		return nil, fmt.Errorf("%w: transaction %s is %s", ErrPaymentNotCompleted, tx.ID, tx.Status)
	}

	amount, err := strconv.ParseInt(tx.Details.Totals.GrandTotal, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction total %q", ErrUnknownPriceAmount, tx.Details.Totals.GrandTotal)
	}
	price := plan.Price{Amount: amount, Currency: strings.ToUpper(string(tx.CurrencyCode))}
	tier, err := g.catalog.ByAmount(price.Amount, price.Currency)
	if err != nil {
		return nil, errors.Join(ErrUnknownPriceAmount, err)
	}

	out := &Checkout{SessionID: tx.ID, Tier: tier, Amount: price}
	out.UserID, _ = tx.CustomData[MetadataUserID].(string)
	if tx.CustomerID != nil {
		out.CustomerID = *tx.CustomerID
	}
	if tx.SubscriptionID != nil {
		out.SubscriptionID = *tx.SubscriptionID
	}
	return out, nil
}

func (g *PaddleGateway) ListSubscriptions(ctx context.Context, customerID string) ([]Subscription, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}

	res, err := g.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerID},
	})
	if err != nil {
		return nil, paddleError(err)
	}

	var out []Subscription
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		out = append(out, g.subscription(s))
		return true, nil
	})
	if err != nil {
		return nil, paddleError(err)
	}
	return out, nil
}

func (g *PaddleGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription id is required", ErrInvalidArgument)
	}
	s, err := g.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, paddleError(err)
	}
	sub := g.subscription(s)
	return &sub, nil
}

func (g *PaddleGateway) CancelSubscription(ctx context.Context, subscriptionID, requestingCustomerID string) (*Subscription, error) {
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

	s, err := g.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		return nil, paddleError(err)
	}
	updated := g.subscription(s)
	return &updated, nil
}

// FindCustomerByUser always reports ErrNotFound: Paddle customers cannot be
// searched by custom data, so the binding comes from identity metadata.
func (g *PaddleGateway) FindCustomerByUser(_ context.Context, userID string) (string, error) {
	return "", fmt.Errorf("%w: paddle customers are not searchable by user %s", ErrNotFound, userID)
}

func (g *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", header.Get("Paddle-Signature"))

	ok, err := g.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !ok {
		return nil, ErrInvalidSignature
	}
	return parsePaddleEvent(payload)
}

type paddleNotification struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID             string         `json:"id"`
		Status         string         `json:"status"`
		CustomerID     string         `json:"customer_id"`
		SubscriptionID string         `json:"subscription_id"`
		CustomData     map[string]any `json:"custom_data"`
	} `json:"data"`
}

func parsePaddleEvent(payload []byte) (*Event, error) {
	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: decode paddle notification: %v", ErrInvalidArgument, err)
	}

	out := &Event{
		ID:            n.EventID,
		Type:          EventIgnored,
		ProviderEvent: n.EventType,
		Provider:      plan.ProviderPaddle,
		CustomerID:    n.Data.CustomerID,
		Status:        normalizeStatus(n.Data.Status),
	}
	out.UserID, _ = n.Data.CustomData[MetadataUserID].(string)

	switch n.EventType {
	case "transaction.completed", "transaction.paid":
		out.Type = EventCheckoutCompleted
		out.SessionID = n.Data.ID
		out.SubscriptionID = n.Data.SubscriptionID
		out.Status = ""
	case "transaction.payment_failed", "transaction.past_due":
		out.Type = EventPaymentFailed
		out.SubscriptionID = n.Data.SubscriptionID
		out.Status = ""
	case "subscription.created", "subscription.updated", "subscription.activated",
		"subscription.past_due", "subscription.paused", "subscription.resumed":
		out.Type = EventSubscriptionUpdated
		out.SubscriptionID = n.Data.ID
	case "subscription.canceled":
		out.Type = EventSubscriptionCanceled
		out.SubscriptionID = n.Data.ID
	}
	return out, nil
}

func (g *PaddleGateway) subscription(s *paddle.Subscription) Subscription {
	sub := Subscription{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		Status:     normalizeStatus(string(s.Status)),
		Metadata:   map[string]string{},
	}
	for k, v := range s.CustomData {
		if str, ok := v.(string); ok {
			sub.Metadata[k] = str
		}
	}
	if s.ScheduledChange != nil && s.ScheduledChange.Action == paddle.ScheduledChangeActionCancel {
		sub.CancelAtPeriodEnd = true
	}
	if s.CurrentBillingPeriod != nil {
		if t, err := time.Parse(time.RFC3339, s.CurrentBillingPeriod.EndsAt); err == nil {
			sub.CurrentPeriodEnd = t.UTC()
		}
	}
	if len(s.Items) > 0 {
		p := s.Items[0].Price
		sub.PriceID = p.ID
		amount, _ := strconv.ParseInt(p.UnitPrice.Amount, 10, 64)
		sub.Price = plan.Price{Amount: amount, Currency: strings.ToUpper(string(p.UnitPrice.CurrencyCode))}
	}
	sub.Tier = resolveTier(g.catalog, plan.ProviderPaddle, sub.PriceID, sub.Price)
	return sub
}

func paddleError(err error) error {
	var pe *paddleerr.Error
	if errors.As(err, &pe) && pe.Code == "not_found" {
		return errors.Join(ErrNotFound, err)
	}
	return errors.Join(ErrProvider, err)
}
