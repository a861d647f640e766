package entitlement_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/entitlement"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

var errStoreDown = errors.New("store down")

// flakyCredentials fails selected operations while the matching counter is
// positive.
type flakyCredentials struct {
	*credential.MemoryStore
	upsertFailures atomic.Int32
	deleteFailures atomic.Int32
}

func (f *flakyCredentials) Upsert(ctx context.Context, userID string, tier plan.Tier, key string) (*credential.Credential, error) {
	if f.upsertFailures.Load() > 0 {
		f.upsertFailures.Add(-1)
		return nil, errors.Join(credential.ErrStore, errStoreDown)
	}
	return f.MemoryStore.Upsert(ctx, userID, tier, key)
}

func (f *flakyCredentials) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	if f.deleteFailures.Load() > 0 {
		f.deleteFailures.Add(-1)
		return 0, errors.Join(credential.ErrStore, errStoreDown)
	}
	return f.MemoryStore.DeleteAllForUser(ctx, userID)
}

type notification struct {
	kind      string
	userID    string
	from, to  plan.Tier
	sessionID string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Downgraded(_ context.Context, userID string, from, to plan.Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{kind: "downgraded", userID: userID, from: from, to: to})
}

func (r *recordingNotifier) SetupIncomplete(_ context.Context, userID string, tier plan.Tier, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{kind: "setup_incomplete", userID: userID, to: tier, sessionID: sessionID})
}

func (r *recordingNotifier) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.sent...)
}

type fixture struct {
	catalog  *plan.Catalog
	gateway  *billing.MemoryGateway
	store    *flakyCredentials
	creds    *credential.Service
	meta     *identity.MemoryStore
	ids      *identity.Adapter
	guard    *entitlement.MemoryGuard
	notifier *recordingNotifier
	svc      *entitlement.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog, err := plan.New(plan.Defaults()...)
	require.NoError(t, err)

	f := &fixture{
		catalog:  catalog,
		gateway:  billing.NewMemoryGateway(catalog, "whsec_test"),
		store:    &flakyCredentials{MemoryStore: credential.NewMemoryStore()},
		meta:     identity.NewMemoryStore(),
		guard:    entitlement.NewMemoryGuard(),
		notifier: &recordingNotifier{},
	}
	f.creds = credential.NewService(f.store)
	f.ids = identity.NewAdapter(f.meta)

	f.svc, err = entitlement.NewService(entitlement.Config{
		SuccessURL:           "https://app.test/success",
		CancelURL:            "https://app.test/pricing",
		SelectionTTL:         time.Minute,
		ProviderTimeout:      time.Second,
		VerifyTimeout:        5 * time.Second,
		StepAttempts:         3,
		StepBackoff:          time.Millisecond,
		ReconcileConcurrency: 2,
	}, entitlement.Deps{
		Catalog:     catalog,
		Credentials: f.creds,
		Identity:    f.ids,
		Billing:     f.gateway,
		Binding:     binding.NewMetadata(f.ids, f.gateway, nil),
		Guard:       f.guard,
		Notifier:    f.notifier,
	})
	require.NoError(t, err)
	return f
}

// subscribe runs a paid checkout for userID up to a verified payment.
func (f *fixture) subscribe(t *testing.T, userID string, tier plan.Tier) (*entitlement.Verification, *billing.Subscription) {
	t.Helper()
	ctx := context.Background()

	sel, err := f.svc.SelectPlan(ctx, userID, string(tier))
	require.NoError(t, err)
	sub, err := f.gateway.CompleteCheckout(sel.SessionID, plan.Price{})
	require.NoError(t, err)
	v, err := f.svc.VerifyPayment(ctx, userID, sel.SessionID)
	require.NoError(t, err)
	return v, sub
}

func (f *fixture) plan(t *testing.T, userID string) plan.Tier {
	t.Helper()
	tier, _, err := f.ids.GetPlan(context.Background(), userID)
	require.NoError(t, err)
	return tier
}

func (f *fixture) credentials(t *testing.T, userID string) map[plan.Tier]credential.Credential {
	t.Helper()
	list, err := f.creds.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	out := make(map[plan.Tier]credential.Credential, len(list))
	for _, c := range list {
		_, dup := out[c.Tier]
		require.False(t, dup, "duplicate %s credential", c.Tier)
		out[c.Tier] = c
	}
	return out
}
