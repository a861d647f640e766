package plan

import (
	"strings"
)

// Tier is a named pricing level.
type Tier string

const (
	Free  Tier = "Free"
	Basic Tier = "Basic"
	Pro   Tier = "Pro"
)

// Unlimited marks a tier without a daily request quota.
const Unlimited = -1

// Parse resolves a tier name case-insensitively.
func Parse(name string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "free":
		return Free, nil
	case "basic":
		return Basic, nil
	case "pro":
		return Pro, nil
	}
	return "", ErrInvalidPlan
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == Free || t == Basic || t == Pro
}

// IsPaid reports whether the tier is billed.
func (t Tier) IsPaid() bool {
	return t == Basic || t == Pro
}

func (t Tier) String() string { return string(t) }

// Provider names a billing provider whose price ids the catalog tracks.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPaddle Provider = "paddle"
)

// Price is an amount in the currency's minor units.
type Price struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"`
}

// Definition describes one tier.
type Definition struct {
	Tier        Tier                `yaml:"tier"`
	Description string              `yaml:"description"`
	Price       Price               `yaml:"price"`
	DailyLimit  int                 `yaml:"daily_limit"`
	PriceIDs    map[Provider]string `yaml:"price_ids"`
}

// Defaults is the built-in catalog.
func Defaults() []Definition {
	return []Definition{
		{Tier: Free, Description: "Try the API", Price: Price{Amount: 0, Currency: "USD"}, DailyLimit: 10},
		{Tier: Basic, Description: "For side projects", Price: Price{Amount: 500, Currency: "USD"}, DailyLimit: 100},
		{Tier: Pro, Description: "For production traffic", Price: Price{Amount: 1500, Currency: "USD"}, DailyLimit: Unlimited},
	}
}
