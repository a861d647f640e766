package plan_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/dmitrymomot/keytier/svc/plan"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want plan.Tier
		ok   bool
	}{
		{"Free", plan.Free, true},
		{"basic", plan.Basic, true},
		{" PRO ", plan.Pro, true},
		{"enterprise", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := plan.Parse(tt.in)
			if !tt.ok {
				require.ErrorIs(t, err, plan.ErrInvalidPlan)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func defaultCatalog(t *testing.T) *plan.Catalog {
	t.Helper()
	c, err := plan.Load(plan.Config{StripePriceBasic: "price_basic", StripePricePro: "price_pro"})
	require.NoError(t, err)
	return c
}

func TestCatalog_ByAmount(t *testing.T) {
	t.Parallel()
	c := defaultCatalog(t)

	tier, err := c.ByAmount(500, "usd")
	require.NoError(t, err)
	assert.Equal(t, plan.Basic, tier)

	tier, err = c.ByAmount(1500, "USD")
	require.NoError(t, err)
	assert.Equal(t, plan.Pro, tier)

	for _, amount := range []int64{0, 1, 499, 501, 1000, 15000} {
		_, err := c.ByAmount(amount, "USD")
		require.ErrorIs(t, err, plan.ErrUnknownPriceAmount, "amount %d", amount)
	}

	_, err = c.ByAmount(500, "EUR")
	require.ErrorIs(t, err, plan.ErrUnknownPriceAmount)
}

func TestCatalog_PriceID(t *testing.T) {
	t.Parallel()
	c := defaultCatalog(t)

	id, err := c.PriceID(plan.ProviderStripe, plan.Basic)
	require.NoError(t, err)
	assert.Equal(t, "price_basic", id)

	_, err = c.PriceID(plan.ProviderStripe, plan.Free)
	require.ErrorIs(t, err, plan.ErrInvalidPlan)

	_, err = c.PriceID(plan.ProviderPaddle, plan.Pro)
	require.ErrorIs(t, err, plan.ErrPriceNotConfigured)

	tier, ok := c.TierByPriceID(plan.ProviderStripe, "price_pro")
	assert.True(t, ok)
	assert.Equal(t, plan.Pro, tier)

	_, ok = c.TierByPriceID(plan.ProviderStripe, "")
	assert.False(t, ok)
}

func TestCatalog_Limits(t *testing.T) {
	t.Parallel()
	c := defaultCatalog(t)

	assert.Equal(t, 10, c.Limit(plan.Free))
	assert.Equal(t, 100, c.Limit(plan.Basic))
	assert.Equal(t, plan.Unlimited, c.Limit(plan.Pro))
	assert.Equal(t, 10, c.Limit("unknown"))

	tiers := c.Tiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, []plan.Tier{plan.Free, plan.Basic, plan.Pro}, []plan.Tier{tiers[0].Tier, tiers[1].Tier, tiers[2].Tier})
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	base := plan.Defaults()

	t.Run("duplicate paid amount", func(t *testing.T) {
		t.Parallel()
		defs := plan.Defaults()
		defs[2].Price.Amount = defs[1].Price.Amount
		_, err := plan.New(defs...)
		require.ErrorIs(t, err, plan.ErrInvalidConfiguration)
	})

	t.Run("priced free tier", func(t *testing.T) {
		t.Parallel()
		defs := plan.Defaults()
		defs[0].Price.Amount = 100
		_, err := plan.New(defs...)
		require.ErrorIs(t, err, plan.ErrInvalidConfiguration)
	})

	t.Run("missing tier", func(t *testing.T) {
		t.Parallel()
		_, err := plan.New(base[0], base[1])
		require.ErrorIs(t, err, plan.ErrInvalidConfiguration)
	})

	t.Run("zero limit", func(t *testing.T) {
		t.Parallel()
		defs := plan.Defaults()
		defs[1].DailyLimit = 0
		_, err := plan.New(defs...)
		require.ErrorIs(t, err, plan.ErrInvalidConfiguration)
	})
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - tier: free
    price: {amount: 0, currency: eur}
    daily_limit: 5
  - tier: basic
    price: {amount: 900, currency: eur}
    daily_limit: 200
    price_ids: {stripe: price_file_basic}
  - tier: pro
    price: {amount: 2900, currency: eur}
    daily_limit: -1
`), 0o600))

	c, err := plan.Load(plan.Config{File: path, StripePricePro: "price_env_pro"})
	require.NoError(t, err)

	tier, err := c.ByAmount(900, "EUR")
	require.NoError(t, err)
	assert.Equal(t, plan.Basic, tier)
	assert.Equal(t, 5, c.Limit(plan.Free))

	id, err := c.PriceID(plan.ProviderStripe, plan.Basic)
	require.NoError(t, err)
	assert.Equal(t, "price_file_basic", id)

	id, err = c.PriceID(plan.ProviderStripe, plan.Pro)
	require.NoError(t, err)
	assert.Equal(t, "price_env_pro", id)

	_, err = plan.Load(plan.Config{File: filepath.Join(t.TempDir(), "missing.yaml")})
	require.ErrorIs(t, err, plan.ErrInvalidConfiguration)
}

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	assert.Contains(t, plan.FormatPrice(plan.Price{Amount: 500, Currency: "USD"}, language.AmericanEnglish), "5.00")
	assert.Contains(t, plan.FormatPrice(plan.Price{Amount: 1500, Currency: "USD"}, language.AmericanEnglish), "$")
	assert.Equal(t, "42 XXZ", plan.FormatPrice(plan.Price{Amount: 42, Currency: "XXZ"}, language.English))
	assert.Equal(t, "unlimited requests", plan.FormatLimit(plan.Unlimited, language.English))
	assert.Equal(t, "100 requests per day", plan.FormatLimit(100, language.English))
}
