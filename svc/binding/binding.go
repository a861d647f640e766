package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/billing"
	"github.com/dmitrymomot/keytier/svc/identity"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// ErrUnbound means no billing customer is associated with the user.
var ErrUnbound = errors.New("binding: user has no billing customer")

// Strategy associates local users with billing customers. Every read and
// write path that checks subscription ownership resolves customers through the
// same Strategy value.
type Strategy interface {
	// Version identifies the strategy in logs and metrics.
	Version() string
	// Resolve returns the customer id bound to userID, or ErrUnbound.
	Resolve(ctx context.Context, userID string) (string, error)
	// Bind records customerID as the user's customer.
	Bind(ctx context.Context, userID, customerID string) error
}

// Customers is the part of billing.Gateway used for lookups by tag.
type Customers interface {
	Provider() plan.Provider
	FindCustomerByUser(ctx context.Context, userID string) (string, error)
}

// MetadataVersion is the tagged-metadata strategy.
const MetadataVersion = "v3-metadata"

// Metadata reads the customer cached in identity metadata and falls back to
// searching provider customers tagged with the user id. A match found by the
// search is cached back into metadata.
type Metadata struct {
	identity  *identity.Adapter
	customers Customers
	log       *slog.Logger
}

var _ Strategy = (*Metadata)(nil)

func NewMetadata(ids *identity.Adapter, customers Customers, log *slog.Logger) *Metadata {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Metadata{
		identity:  ids,
		customers: customers,
		log:       log.With(logger.Component("binding"), slog.String("strategy", MetadataVersion)),
	}
}

func (m *Metadata) Version() string { return MetadataVersion }

func (m *Metadata) Resolve(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUnbound
	}

	b, err := m.identity.Binding(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve binding: %w", err)
	}
	if b.CustomerID != "" && (b.Provider == "" || b.Provider == m.customers.Provider()) {
		return b.CustomerID, nil
	}

	id, err := m.customers.FindCustomerByUser(ctx, userID)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return "", ErrUnbound
	case err != nil:
		return "", fmt.Errorf("search customer: %w", err)
	}

	if err := m.Bind(ctx, userID, id); err != nil {
		m.log.WarnContext(ctx, "failed to cache customer binding",
			logger.UserID(userID), logger.CustomerID(id), logger.Error(err))
	}
	return id, nil
}

func (m *Metadata) Bind(ctx context.Context, userID, customerID string) error {
	return m.identity.Bind(ctx, userID, identity.Binding{
		CustomerID: customerID,
		Provider:   m.customers.Provider(),
	})
}
