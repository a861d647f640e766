package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// MemoryWebhookHeader carries the shared secret accepted by MemoryGateway.
const MemoryWebhookHeader = "X-Webhook-Secret"

type memorySession struct {
	CheckoutSession
	userID         string
	customerID     string
	subscriptionID string
	amount         plan.Price
	paid           bool
}

// MemoryGateway is an in-process Gateway for local development and tests.
// Checkouts are completed explicitly with CompleteCheckout.
type MemoryGateway struct {
	mu            sync.Mutex
	catalog       *plan.Catalog
	webhookSecret string
	now           func() time.Time

	sessions      map[string]*memorySession
	subscriptions map[string]*Subscription
	customers     map[string]string // customer id -> user id
	failures      map[string]error
	mutations     int
}

var _ Gateway = (*MemoryGateway)(nil)

func NewMemoryGateway(catalog *plan.Catalog, webhookSecret string) *MemoryGateway {
	return &MemoryGateway{
		catalog:       catalog,
		webhookSecret: webhookSecret,
		now:           time.Now,
		sessions:      make(map[string]*memorySession),
		subscriptions: make(map[string]*Subscription),
		customers:     make(map[string]string),
		failures:      make(map[string]error),
	}
}

// Provider reports stripe so price ids and metadata follow the default
// provider's configuration.
func (m *MemoryGateway) Provider() plan.Provider { return plan.ProviderStripe }

// FailNext makes the next call of op (a Gateway method name) return err.
func (m *MemoryGateway) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Mutations counts provider-side writes (checkouts, customers, cancels).
func (m *MemoryGateway) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}

// CompleteCheckout marks a session paid and starts its subscription, as the
// hosted checkout page would. A non-zero amount overrides the charged price.
func (m *MemoryGateway) CompleteCheckout(sessionID string, amount plan.Price) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if amount.Amount != 0 {
		s.amount = amount
	}
	if s.paid {
		return m.copySub(s.subscriptionID), nil
	}
	s.paid = true

	sub := &Subscription{
		ID:               "sub_" + uuid.NewString(),
		CustomerID:       s.customerID,
		Status:           StatusActive,
		CurrentPeriodEnd: m.now().AddDate(0, 1, 0).UTC(),
		Price:            s.amount,
		Metadata:         map[string]string{MetadataUserID: s.userID},
	}
	sub.Tier = resolveTier(m.catalog, m.Provider(), "", sub.Price)
	m.subscriptions[sub.ID] = sub
	s.subscriptionID = sub.ID
	return m.copySub(sub.ID), nil
}

// PutSubscription inserts or replaces a subscription.
func (m *MemoryGateway) PutSubscription(sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.Tier == "" {
		sub.Tier = resolveTier(m.catalog, m.Provider(), sub.PriceID, sub.Price)
	}
	if _, ok := m.customers[sub.CustomerID]; !ok {
		m.customers[sub.CustomerID] = sub.Metadata[MetadataUserID]
	}
	m.subscriptions[sub.ID] = &sub
}

// SetStatus changes the status of a subscription.
func (m *MemoryGateway) SetStatus(subscriptionID string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subscriptions[subscriptionID]; ok {
		s.Status = status
	}
}

func (m *MemoryGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if err := m.fail("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if !req.Tier.IsPaid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, req.Tier)
	}
	def, err := m.catalog.Get(req.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	customerID := req.CustomerID
	if customerID == "" {
		customerID = m.customerOf(req.UserID)
	}
	if customerID == "" {
		customerID = "cus_" + uuid.NewString()
		m.customers[customerID] = req.UserID
	}

	id := "cs_" + uuid.NewString()
	m.sessions[id] = &memorySession{
		CheckoutSession: CheckoutSession{ID: id, URL: "https://checkout.invalid/" + id},
		userID:          req.UserID,
		customerID:      customerID,
		amount:          def.Price,
	}
	m.mutations++
	return &CheckoutSession{ID: id, URL: m.sessions[id].URL}, nil
}

func (m *MemoryGateway) VerifyCheckoutSession(_ context.Context, sessionID string) (*Checkout, error) {
	if err := m.fail("VerifyCheckoutSession"); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if !s.paid {
		return nil, fmt.Errorf("%w: session %s is unpaid", ErrPaymentNotCompleted, sessionID)
	}
	tier, err := m.catalog.ByAmount(s.amount.Amount, s.amount.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownPriceAmount, err)
	}
	return &Checkout{
		SessionID:      s.ID,
		UserID:         s.userID,
		CustomerID:     s.customerID,
		SubscriptionID: s.subscriptionID,
		Tier:           tier,
		Amount:         s.amount,
	}, nil
}

func (m *MemoryGateway) ListSubscriptions(_ context.Context, customerID string) ([]Subscription, error) {
	if err := m.fail("ListSubscriptions"); err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Subscription
	for _, s := range m.subscriptions {
		if s.CustomerID == customerID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *MemoryGateway) GetSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	if err := m.fail("GetSubscription"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscriptions[subscriptionID]; !ok {
		return nil, fmt.Errorf("%w: subscription %s", ErrNotFound, subscriptionID)
	}
	return m.copySub(subscriptionID), nil
}

func (m *MemoryGateway) CancelSubscription(ctx context.Context, subscriptionID, requestingCustomerID string) (*Subscription, error) {
	sub, err := m.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := authorizeCancel(sub, requestingCustomerID); err != nil {
		return nil, err
	}
	if err := m.fail("CancelSubscription"); err != nil {
		return nil, err
	}
	if sub.CancelAtPeriodEnd || sub.Status == StatusCanceled {
		return sub, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[subscriptionID].CancelAtPeriodEnd = true
	m.mutations++
	return m.copySub(subscriptionID), nil
}

func (m *MemoryGateway) FindCustomerByUser(_ context.Context, userID string) (string, error) {
	if err := m.fail("FindCustomerByUser"); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id := m.customerOf(userID); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: no customer tagged with user %s", ErrNotFound, userID)
}

// ParseWebhook accepts a JSON encoded Event when MemoryWebhookHeader carries
// the configured secret.
func (m *MemoryGateway) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	if m.webhookSecret == "" || header.Get(MemoryWebhookHeader) != m.webhookSecret {
		return nil, ErrInvalidSignature
	}
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: decode event: %v", ErrInvalidArgument, err)
	}
	if evt.Type == "" {
		evt.Type = EventIgnored
	}
	evt.Provider = m.Provider()
	return &evt, nil
}

func (m *MemoryGateway) customerOf(userID string) string {
	for id, uid := range m.customers {
		if uid == userID {
			return id
		}
	}
	return ""
}

func (m *MemoryGateway) copySub(id string) *Subscription {
	s, ok := m.subscriptions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *MemoryGateway) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err, ok := m.failures[op]
	if !ok {
		return nil
	}
	delete(m.failures, op)
	return err
}
