package billing_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/plan"
)

const subscriptionJSON = `{
	"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "active",
	"cancel_at_period_end": %s, "current_period_end": 1767225600,
	"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item",
		"price": {"id": "price_basic", "object": "price", "unit_amount": 500, "currency": "usd"}}]}
}`

type fakeStripe struct {
	mu       sync.Mutex
	canceled bool
	updates  int
	forms    map[string]url.Values
}

func (f *fakeStripe) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
	record := func(name string, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.forms[name] = r.PostForm
		f.mu.Unlock()
	}

	mux.HandleFunc("GET /v1/customers/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "metadata['user_id']:'user_known'" {
			reply(w, 200, `{"object":"search_result","data":[{"id":"cus_known","object":"customer"}],"has_more":false,"url":"/v1/customers/search"}`)
			return
		}
		reply(w, 200, `{"object":"search_result","data":[],"has_more":false,"url":"/v1/customers/search"}`)
	})
	mux.HandleFunc("POST /v1/customers", func(w http.ResponseWriter, r *http.Request) {
		record("customer", r)
		reply(w, 200, `{"id":"cus_new","object":"customer"}`)
	})
	mux.HandleFunc("POST /v1/checkout/sessions", func(w http.ResponseWriter, r *http.Request) {
		record("checkout", r)
		reply(w, 200, `{"id":"cs_new","object":"checkout.session","url":"https://checkout.stripe.test/cs_new"}`)
	})
	mux.HandleFunc("GET /v1/checkout/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "cs_paid":
			reply(w, 200, `{"id":"cs_paid","object":"checkout.session","payment_status":"paid","amount_total":500,"currency":"usd","client_reference_id":"user_1","customer":"cus_1","subscription":"sub_1"}`)
		case "cs_tampered":
			reply(w, 200, `{"id":"cs_tampered","object":"checkout.session","payment_status":"paid","amount_total":1,"currency":"usd","client_reference_id":"user_1","metadata":{"tier":"Pro"}}`)
		case "cs_unpaid":
			reply(w, 200, `{"id":"cs_unpaid","object":"checkout.session","payment_status":"unpaid","amount_total":500,"currency":"usd"}`)
		default:
			reply(w, 404, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`)
		}
	})
	mux.HandleFunc("GET /v1/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "sub_1" {
			reply(w, 404, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`)
			return
		}
		f.mu.Lock()
		canceled := f.canceled
		f.mu.Unlock()
		reply(w, 200, sprintfBool(subscriptionJSON, canceled))
	})
	mux.HandleFunc("POST /v1/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		record("cancel", r)
		f.mu.Lock()
		f.canceled = true
		f.updates++
		f.mu.Unlock()
		reply(w, 200, sprintfBool(subscriptionJSON, true))
	})
	mux.HandleFunc("GET /v1/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("customer") != "cus_1" {
			reply(w, 200, `{"object":"list","data":[],"has_more":false,"url":"/v1/subscriptions"}`)
			return
		}
		reply(w, 200, `{"object":"list","data":[`+sprintfBool(subscriptionJSON, false)+`],"has_more":false,"url":"/v1/subscriptions"}`)
	})
	return mux
}

func sprintfBool(format string, v bool) string {
	return fmt.Sprintf(format, strconv.FormatBool(v))
}

func testCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	defs := plan.Defaults()
	for i := range defs {
		switch defs[i].Tier {
		case plan.Basic:
			defs[i].PriceIDs = map[plan.Provider]string{plan.ProviderStripe: "price_basic", plan.ProviderPaddle: "pri_basic"}
		case plan.Pro:
			defs[i].PriceIDs = map[plan.Provider]string{plan.ProviderStripe: "price_pro", plan.ProviderPaddle: "pri_pro"}
		}
	}
	c, err := plan.New(defs...)
	require.NoError(t, err)
	return c
}

func newStripe(t *testing.T) (*billing.StripeGateway, *fakeStripe) {
	t.Helper()
	fake := &fakeStripe{forms: make(map[string]url.Values)}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	gw, err := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		APIURL:        srv.URL,
	}, testCatalog(t))
	require.NoError(t, err)
	return gw, fake
}

func TestStripeGateway_CreateCheckoutSession(t *testing.T) {
	t.Parallel()
	gw, fake := newStripe(t)
	ctx := context.Background()

	cs, err := gw.CreateCheckoutSession(ctx, billing.CheckoutRequest{
		UserID:     "user_1",
		Tier:       plan.Pro,
		SuccessURL: "https://app.test/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://app.test/pricing",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_new", cs.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_new", cs.URL)

	assert.Equal(t, "user_1", fake.forms["customer"].Get("metadata[user_id]"))
	form := fake.forms["checkout"]
	assert.Equal(t, "subscription", form.Get("mode"))
	assert.Equal(t, "cus_new", form.Get("customer"))
	assert.Equal(t, "user_1", form.Get("client_reference_id"))
	assert.Equal(t, "price_pro", form.Get("line_items[0][price]"))
	assert.Equal(t, "user_1", form.Get("subscription_data[metadata][user_id]"))

	_, err = gw.CreateCheckoutSession(ctx, billing.CheckoutRequest{UserID: "user_1", Tier: plan.Free})
	require.ErrorIs(t, err, billing.ErrInvalidPlan)
	_, err = gw.CreateCheckoutSession(ctx, billing.CheckoutRequest{UserID: "user_1", Tier: plan.Tier("Gold")})
	require.ErrorIs(t, err, billing.ErrInvalidPlan)
}

func TestStripeGateway_CreateCheckoutReusesTaggedCustomer(t *testing.T) {
	t.Parallel()
	gw, fake := newStripe(t)

	_, err := gw.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{UserID: "user_known", Tier: plan.Basic})
	require.NoError(t, err)
	assert.Equal(t, "cus_known", fake.forms["checkout"].Get("customer"))
	assert.NotContains(t, fake.forms, "customer")
}

func TestStripeGateway_VerifyCheckoutSession(t *testing.T) {
	t.Parallel()
	gw, _ := newStripe(t)
	ctx := context.Background()

	co, err := gw.VerifyCheckoutSession(ctx, "cs_paid")
	require.NoError(t, err)
	assert.Equal(t, plan.Basic, co.Tier)
	assert.Equal(t, "user_1", co.UserID)
	assert.Equal(t, "cus_1", co.CustomerID)
	assert.Equal(t, "sub_1", co.SubscriptionID)
	assert.Equal(t, plan.Price{Amount: 500, Currency: "USD"}, co.Amount)

	_, err = gw.VerifyCheckoutSession(ctx, "cs_tampered")
	require.ErrorIs(t, err, billing.ErrUnknownPriceAmount)

	_, err = gw.VerifyCheckoutSession(ctx, "cs_unpaid")
	require.ErrorIs(t, err, billing.ErrPaymentNotCompleted)

	_, err = gw.VerifyCheckoutSession(ctx, "cs_missing")
	require.ErrorIs(t, err, billing.ErrNotFound)

	_, err = gw.VerifyCheckoutSession(ctx, "")
	require.ErrorIs(t, err, billing.ErrInvalidArgument)
}

func TestStripeGateway_Subscriptions(t *testing.T) {
	t.Parallel()
	gw, _ := newStripe(t)
	ctx := context.Background()

	subs, err := gw.ListSubscriptions(ctx, "cus_1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub_1", subs[0].ID)
	assert.Equal(t, billing.StatusActive, subs[0].Status)
	assert.Equal(t, plan.Basic, subs[0].Tier)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), subs[0].CurrentPeriodEnd)

	subs, err = gw.ListSubscriptions(ctx, "cus_other")
	require.NoError(t, err)
	assert.Empty(t, subs)

	_, err = gw.GetSubscription(ctx, "sub_missing")
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func TestStripeGateway_CancelSubscription(t *testing.T) {
	t.Parallel()

	t.Run("owner cancels at period end", func(t *testing.T) {
		t.Parallel()
		gw, fake := newStripe(t)

		sub, err := gw.CancelSubscription(context.Background(), "sub_1", "cus_1")
		require.NoError(t, err)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, "true", fake.forms["cancel"].Get("cancel_at_period_end"))

		_, err = gw.CancelSubscription(context.Background(), "sub_1", "cus_1")
		require.NoError(t, err)
		assert.Equal(t, 1, fake.updates, "repeated cancel is a no-op")
	})

	t.Run("other customer is forbidden", func(t *testing.T) {
		t.Parallel()
		gw, fake := newStripe(t)

		_, err := gw.CancelSubscription(context.Background(), "sub_1", "cus_intruder")
		require.ErrorIs(t, err, billing.ErrForbidden)
		_, err = gw.CancelSubscription(context.Background(), "sub_1", "")
		require.ErrorIs(t, err, billing.ErrForbidden)
		assert.Zero(t, fake.updates)
	})

	t.Run("missing subscription", func(t *testing.T) {
		t.Parallel()
		gw, fake := newStripe(t)

		_, err := gw.CancelSubscription(context.Background(), "sub_missing", "cus_1")
		require.ErrorIs(t, err, billing.ErrNotFound)
		assert.Zero(t, fake.updates)
	})
}

func TestStripeGateway_FindCustomerByUser(t *testing.T) {
	t.Parallel()
	gw, _ := newStripe(t)

	id, err := gw.FindCustomerByUser(context.Background(), "user_known")
	require.NoError(t, err)
	assert.Equal(t, "cus_known", id)

	_, err = gw.FindCustomerByUser(context.Background(), "user_unknown")
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	t.Parallel()
	gw, _ := newStripe(t)

	sign := func(payload string) http.Header {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: "whsec_test"})
		h := http.Header{}
		h.Set("Stripe-Signature", signed.Header)
		return h
	}

	tests := []struct {
		name    string
		payload string
		want    billing.Event
	}{
		{
			name:    "checkout completed",
			payload: `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"user_1","customer":"cus_1","subscription":"sub_1"}}}`,
			want: billing.Event{ID: "evt_1", Type: billing.EventCheckoutCompleted, ProviderEvent: "checkout.session.completed",
				Provider: plan.ProviderStripe, SessionID: "cs_1", UserID: "user_1", CustomerID: "cus_1", SubscriptionID: "sub_1"},
		},
		{
			name:    "subscription deleted",
			payload: `{"id":"evt_2","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","object":"subscription","status":"canceled","customer":"cus_1","metadata":{"user_id":"user_1"}}}}`,
			want: billing.Event{ID: "evt_2", Type: billing.EventSubscriptionCanceled, ProviderEvent: "customer.subscription.deleted",
				Provider: plan.ProviderStripe, UserID: "user_1", CustomerID: "cus_1", SubscriptionID: "sub_1", Status: billing.StatusCanceled},
		},
		{
			name:    "invoice payment failed",
			payload: `{"id":"evt_3","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","customer":"cus_1","subscription":"sub_1"}}}`,
			want: billing.Event{ID: "evt_3", Type: billing.EventPaymentFailed, ProviderEvent: "invoice.payment_failed",
				Provider: plan.ProviderStripe, CustomerID: "cus_1", SubscriptionID: "sub_1"},
		},
		{
			name:    "unrelated event",
			payload: `{"id":"evt_4","object":"event","type":"product.created","data":{"object":{"id":"prod_1","object":"product"}}}`,
			want:    billing.Event{ID: "evt_4", Type: billing.EventIgnored, ProviderEvent: "product.created", Provider: plan.ProviderStripe},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt, err := gw.ParseWebhook(context.Background(), []byte(tt.payload), sign(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *evt)
		})
	}

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		h := http.Header{}
		h.Set("Stripe-Signature", "t=1,v1=deadbeef")
		_, err := gw.ParseWebhook(context.Background(), []byte(`{}`), h)
		require.ErrorIs(t, err, billing.ErrInvalidSignature)
	})
}
