package billing

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// Config selects and configures the billing provider.
type Config struct {
	// Provider is stripe, paddle or memory.
	Provider string `env:"BILLING_PROVIDER" envDefault:"stripe"`
	// MemoryWebhookSecret authenticates webhooks sent to the memory provider.
	MemoryWebhookSecret string `env:"BILLING_MEMORY_WEBHOOK_SECRET"`

	Stripe StripeConfig
	Paddle PaddleConfig
}

// New builds the configured gateway.
func New(cfg Config, catalog *plan.Catalog) (Gateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case "stripe", "":
		return NewStripeGateway(cfg.Stripe, catalog)
	case "paddle":
		return NewPaddleGateway(cfg.Paddle, catalog)
	case "memory":
		return NewMemoryGateway(catalog, cfg.MemoryWebhookSecret), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}
