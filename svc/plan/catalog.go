package plan

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config points the catalog at an optional YAML file and provider price ids.
type Config struct {
	File             string `env:"PLANS_FILE"`
	StripePriceBasic string `env:"STRIPE_PRICE_BASIC"`
	StripePricePro   string `env:"STRIPE_PRICE_PRO"`
	PaddlePriceBasic string `env:"PADDLE_PRICE_BASIC"`
	PaddlePricePro   string `env:"PADDLE_PRICE_PRO"`
}

// Catalog is the immutable set of tier definitions.
type Catalog struct {
	defs map[Tier]Definition
}

// New validates definitions and builds a catalog. Free must cost nothing and
// no two paid tiers may share an amount in the same currency, since payments
// are mapped back to tiers by amount.
func New(defs ...Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[Tier]Definition, len(defs))}
	amounts := make(map[Price]Tier)

	for _, d := range defs {
		tier, err := Parse(string(d.Tier))
		if err != nil {
			return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidConfiguration, d.Tier)
		}
		d.Tier = tier
		d.Price.Currency = strings.ToUpper(d.Price.Currency)

		if _, dup := c.defs[tier]; dup {
			return nil, fmt.Errorf("%w: tier %s defined twice", ErrInvalidConfiguration, tier)
		}
		switch {
		case tier == Free && d.Price.Amount != 0:
			return nil, fmt.Errorf("%w: free tier must cost 0", ErrInvalidConfiguration)
		case tier.IsPaid() && d.Price.Amount <= 0:
			return nil, fmt.Errorf("%w: tier %s must have a positive price", ErrInvalidConfiguration, tier)
		case d.DailyLimit == 0 || d.DailyLimit < Unlimited:
			return nil, fmt.Errorf("%w: tier %s has invalid daily limit %d", ErrInvalidConfiguration, tier, d.DailyLimit)
		}
		if tier.IsPaid() {
			if other, dup := amounts[d.Price]; dup {
				return nil, fmt.Errorf("%w: tiers %s and %s share price %d %s", ErrInvalidConfiguration, other, tier, d.Price.Amount, d.Price.Currency)
			}
			amounts[d.Price] = tier
		}
		if d.PriceIDs == nil {
			d.PriceIDs = make(map[Provider]string)
		}
		c.defs[tier] = d
	}

	for _, t := range []Tier{Free, Basic, Pro} {
		if _, ok := c.defs[t]; !ok {
			return nil, fmt.Errorf("%w: tier %s missing", ErrInvalidConfiguration, t)
		}
	}
	return c, nil
}

// Load builds the catalog from defaults, then the YAML file (if any), then
// price ids from the environment.
func Load(cfg Config) (*Catalog, error) {
	defs := Defaults()

	if cfg.File != "" {
		raw, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfiguration, cfg.File, err)
		}
		var file struct {
			Plans []Definition `yaml:"plans"`
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfiguration, cfg.File, err)
		}
		if len(file.Plans) > 0 {
			defs = file.Plans
		}
	}

	overrides := map[Tier]map[Provider]string{
		Basic: {ProviderStripe: cfg.StripePriceBasic, ProviderPaddle: cfg.PaddlePriceBasic},
		Pro:   {ProviderStripe: cfg.StripePricePro, ProviderPaddle: cfg.PaddlePricePro},
	}
	for i := range defs {
		tier, _ := Parse(string(defs[i].Tier))
		for p, id := range overrides[tier] {
			if id == "" {
				continue
			}
			if defs[i].PriceIDs == nil {
				defs[i].PriceIDs = make(map[Provider]string)
			}
			defs[i].PriceIDs[p] = id
		}
	}

	return New(defs...)
}

// Get returns the definition of t.
func (c *Catalog) Get(t Tier) (Definition, error) {
	d, ok := c.defs[t]
	if !ok {
		return Definition{}, ErrInvalidPlan
	}
	return d, nil
}

// Tiers lists definitions from cheapest to most expensive.
func (c *Catalog) Tiers() []Definition {
	defs := slices.Collect(maps.Values(c.defs))
	slices.SortFunc(defs, func(a, b Definition) int {
		return int(a.Price.Amount - b.Price.Amount)
	})
	return defs
}

// ByAmount maps a captured payment back to the paid tier it buys. The amount
// is authoritative; plan names supplied by clients are never consulted.
func (c *Catalog) ByAmount(amount int64, currency string) (Tier, error) {
	currency = strings.ToUpper(currency)
	for _, d := range c.defs {
		if d.Tier.IsPaid() && d.Price.Amount == amount && d.Price.Currency == currency {
			return d.Tier, nil
		}
	}
	return "", fmt.Errorf("%w: %d %s", ErrUnknownPriceAmount, amount, currency)
}

// PriceID returns the provider price identifier used at checkout.
func (c *Catalog) PriceID(p Provider, t Tier) (string, error) {
	d, ok := c.defs[t]
	if !ok || !t.IsPaid() {
		return "", ErrInvalidPlan
	}
	id := d.PriceIDs[p]
	if id == "" {
		return "", fmt.Errorf("%w: %s %s", ErrPriceNotConfigured, p, t)
	}
	return id, nil
}

// TierByPriceID resolves a provider price id back to its tier.
func (c *Catalog) TierByPriceID(p Provider, priceID string) (Tier, bool) {
	for _, d := range c.defs {
		if priceID != "" && d.PriceIDs[p] == priceID {
			return d.Tier, true
		}
	}
	return "", false
}

// Limit returns the daily request quota of t, or Unlimited.
func (c *Catalog) Limit(t Tier) int {
	if d, ok := c.defs[t]; ok {
		return d.DailyLimit
	}
	return c.defs[Free].DailyLimit
}
