package entitlement_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/pkg/email"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/credential"
	"github.com/dmitrymomot/keytier/svc/entitlement"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

func TestMemoryGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("exclusive until released", func(t *testing.T) {
		t.Parallel()
		g := entitlement.NewMemoryGuard()

		release, ok, err := g.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = g.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		release()
		_, ok, err = g.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired holder does not clear a newer one", func(t *testing.T) {
		t.Parallel()
		g := entitlement.NewMemoryGuard()

		stale, ok, err := g.TryAcquire(ctx, "k", 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		time.Sleep(30 * time.Millisecond)

		_, ok, err = g.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		stale()
		_, ok, err = g.TryAcquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

type brokenGuard struct{}

func (brokenGuard) TryAcquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, errors.New("redis unreachable")
}

func TestSelectPlan_GuardUnavailable(t *testing.T) {
	t.Parallel()
	svc, _ := newServiceWith(t, entitlement.Deps{Guard: brokenGuard{}})

	sel, err := svc.SelectPlan(context.Background(), "user_1", "Free")
	require.NoError(t, err)
	assert.Equal(t, plan.Free, sel.Plan)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want entitlement.Kind
	}{
		{nil, ""},
		{entitlement.ErrInvalidInput, entitlement.KindInvalidInput},
		{fmt.Errorf("wrap: %w", entitlement.ErrForbidden), entitlement.KindForbidden},
		{errors.Join(entitlement.ErrSetupIncomplete, entitlement.ErrProvider), entitlement.KindSetupIncomplete},
		{entitlement.ErrSelectionInProgress, entitlement.KindConflict},
		{entitlement.ErrNotFound, entitlement.KindNotFound},
		{entitlement.ErrPaymentNotCompleted, entitlement.KindPaymentNotComplete},
		{entitlement.ErrUnknownPriceAmount, entitlement.KindUnknownPriceAmount},
		{errors.New("boom"), entitlement.KindInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, entitlement.KindOf(tt.err))
		})
	}

	assert.True(t, entitlement.KindProvider.Retryable())
	assert.True(t, entitlement.KindSetupIncomplete.Retryable())
	assert.False(t, entitlement.KindForbidden.Retryable())
	assert.False(t, entitlement.KindInvalidInput.Retryable())
}

func TestStepError(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("flow: %w", &entitlement.StepError{Step: entitlement.StepBind, Err: entitlement.ErrProvider})

	step, ok := entitlement.StepOf(err)
	require.True(t, ok)
	assert.Equal(t, entitlement.StepBind, step)
	assert.ErrorIs(t, err, entitlement.ErrProvider)
	assert.Contains(t, err.Error(), "bind_customer")

	_, ok = entitlement.StepOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := entitlement.NewMetrics(reg)
	require.NoError(t, err)

	_, err = entitlement.NewMetrics(reg)
	require.Error(t, err, "collectors register once")

	svc, _ := newServiceWith(t, entitlement.Deps{Metrics: m})
	_, err = svc.SelectPlan(context.Background(), "user_1", "Free")
	require.NoError(t, err)
	_, err = svc.SelectPlan(context.Background(), "user_1", "Gold")
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["keytier_entitlement_flow_total"])
	assert.True(t, names["keytier_entitlement_plan_transitions_total"])
}

type captureSender struct {
	mu   sync.Mutex
	sent []email.SendEmailParams
	err  error
}

func (c *captureSender) SendEmail(_ context.Context, p email.SendEmailParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, p)
	return nil
}

func TestEmailNotifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	catalog, err := plan.New(plan.Defaults()...)
	require.NoError(t, err)
	cfg := entitlement.NotifyConfig{
		BillingURL:   "https://app.test/pricing",
		RetryURL:     "https://app.test/success",
		SupportEmail: "help@app.test",
	}

	t.Run("downgrade and setup messages", func(t *testing.T) {
		t.Parallel()
		meta := identity.NewMemoryStore()
		require.NoError(t, meta.Merge(ctx, "user_1", map[string]any{identity.KeyEmail: "ada@example.com"}))
		sender := &captureSender{}
		n := entitlement.NewEmailNotifier(sender, identity.NewAdapter(meta), catalog, cfg, nil)

		n.Downgraded(ctx, "user_1", plan.Pro, plan.Free)
		n.SetupIncomplete(ctx, "user_1", plan.Basic, "cs_42")

		require.Len(t, sender.sent, 2)
		assert.Equal(t, "ada@example.com", sender.sent[0].SendTo)
		assert.Equal(t, "downgraded", sender.sent[0].Tag)
		assert.Contains(t, sender.sent[0].BodyHTML, "10 requests per day")
		assert.Contains(t, sender.sent[0].BodyHTML, cfg.BillingURL)
		assert.Equal(t, "setup-incomplete", sender.sent[1].Tag)
		assert.Contains(t, sender.sent[1].BodyHTML, "cs_42")
		assert.Contains(t, sender.sent[1].BodyHTML, cfg.SupportEmail)
	})

	t.Run("no address, no mail", func(t *testing.T) {
		t.Parallel()
		sender := &captureSender{}
		n := entitlement.NewEmailNotifier(sender, identity.NewAdapter(identity.NewMemoryStore()), catalog, cfg, nil)

		n.Downgraded(ctx, "user_1", plan.Basic, plan.Free)
		assert.Empty(t, sender.sent)
	})

	t.Run("send failure is swallowed", func(t *testing.T) {
		t.Parallel()
		meta := identity.NewMemoryStore()
		require.NoError(t, meta.Merge(ctx, "user_1", map[string]any{identity.KeyEmail: "ada@example.com"}))
		sender := &captureSender{err: errors.New("smtp down")}
		n := entitlement.NewEmailNotifier(sender, identity.NewAdapter(meta), catalog, cfg, nil)

		assert.NotPanics(t, func() { n.SetupIncomplete(ctx, "user_1", plan.Pro, "cs_1") })
	})
}

func TestNewService_RequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := entitlement.NewService(entitlement.Config{}, entitlement.Deps{})
	require.Error(t, err)
}

// newServiceWith builds a Service over memory adapters, filling the required
// dependencies missing from deps.
func newServiceWith(t *testing.T, deps entitlement.Deps) (*entitlement.Service, *billing.MemoryGateway) {
	t.Helper()
	catalog, err := plan.New(plan.Defaults()...)
	require.NoError(t, err)
	gw := billing.NewMemoryGateway(catalog, "")
	ids := identity.NewAdapter(identity.NewMemoryStore())

	deps.Catalog = catalog
	deps.Credentials = credential.NewService(credential.NewMemoryStore())
	deps.Identity = ids
	deps.Billing = gw
	deps.Binding = binding.NewMetadata(ids, gw, nil)

	svc, err := entitlement.NewService(entitlement.Config{StepAttempts: 1}, deps)
	require.NoError(t, err)
	return svc, gw
}
