package binding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/binding"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

type fakeCustomers struct {
	provider plan.Provider
	byUser   map[string]string
	err      error
	calls    int
}

func (f *fakeCustomers) Provider() plan.Provider { return f.provider }

func (f *fakeCustomers) FindCustomerByUser(_ context.Context, userID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.byUser[userID]; ok {
		return id, nil
	}
	return "", billing.ErrNotFound
}

func TestMetadata_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("metadata first", func(t *testing.T) {
		t.Parallel()
		ids := identity.NewAdapter(identity.NewMemoryStore())
		require.NoError(t, ids.Bind(ctx, "user_1", identity.Binding{CustomerID: "cus_meta", Provider: plan.ProviderStripe}))
		customers := &fakeCustomers{provider: plan.ProviderStripe, byUser: map[string]string{"user_1": "cus_search"}}

		s := binding.NewMetadata(ids, customers, nil)
		id, err := s.Resolve(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "cus_meta", id)
		assert.Zero(t, customers.calls)
	})

	t.Run("search fallback is cached", func(t *testing.T) {
		t.Parallel()
		ids := identity.NewAdapter(identity.NewMemoryStore())
		customers := &fakeCustomers{provider: plan.ProviderStripe, byUser: map[string]string{"user_1": "cus_search"}}

		s := binding.NewMetadata(ids, customers, nil)
		id, err := s.Resolve(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "cus_search", id)

		id, err = s.Resolve(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, "cus_search", id)
		assert.Equal(t, 1, customers.calls)

		b, err := ids.Binding(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, identity.Binding{CustomerID: "cus_search", Provider: plan.ProviderStripe}, b)
	})

	t.Run("binding of another provider is ignored", func(t *testing.T) {
		t.Parallel()
		ids := identity.NewAdapter(identity.NewMemoryStore())
		require.NoError(t, ids.Bind(ctx, "user_1", identity.Binding{CustomerID: "ctm_paddle", Provider: plan.ProviderPaddle}))
		customers := &fakeCustomers{provider: plan.ProviderStripe}

		_, err := binding.NewMetadata(ids, customers, nil).Resolve(ctx, "user_1")
		require.ErrorIs(t, err, binding.ErrUnbound)
	})

	t.Run("unbound", func(t *testing.T) {
		t.Parallel()
		s := binding.NewMetadata(identity.NewAdapter(identity.NewMemoryStore()), &fakeCustomers{provider: plan.ProviderStripe}, nil)

		_, err := s.Resolve(ctx, "user_1")
		require.ErrorIs(t, err, binding.ErrUnbound)
		_, err = s.Resolve(ctx, "")
		require.ErrorIs(t, err, binding.ErrUnbound)
	})

	t.Run("provider failure surfaces", func(t *testing.T) {
		t.Parallel()
		boom := errors.Join(billing.ErrProvider, errors.New("503"))
		s := binding.NewMetadata(identity.NewAdapter(identity.NewMemoryStore()), &fakeCustomers{provider: plan.ProviderStripe, err: boom}, nil)

		_, err := s.Resolve(ctx, "user_1")
		require.ErrorIs(t, err, billing.ErrProvider)
		assert.NotErrorIs(t, err, binding.ErrUnbound)
	})
}

func TestMetadata_Bind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ids := identity.NewAdapter(identity.NewMemoryStore())
	s := binding.NewMetadata(ids, &fakeCustomers{provider: plan.ProviderPaddle}, nil)

	assert.Equal(t, binding.MetadataVersion, s.Version())
	require.NoError(t, s.Bind(ctx, "user_1", "ctm_1"))

	id, err := s.Resolve(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, "ctm_1", id)
}
