package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// Extra carries optional fields written together with the plan.
type Extra struct {
	CustomerID string
	Provider   plan.Provider
}

// Binding is the billing customer recorded for a user.
type Binding struct {
	CustomerID string
	Provider   plan.Provider
}

// Adapter reads and writes the plan fields of identity metadata.
type Adapter struct {
	store MetadataStore
	log   *slog.Logger
}

type AdapterOption func(*Adapter)

func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

func NewAdapter(store MetadataStore, opts ...AdapterOption) *Adapter {
	a := &Adapter{store: store, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(logger.Component("identity"))
	return a
}

// GetPlan returns the recorded tier. ok is false when no plan is recorded or
// the recorded value is not a known tier.
func (a *Adapter) GetPlan(ctx context.Context, userID string) (tier plan.Tier, ok bool, err error) {
	md, err := a.get(ctx, userID)
	if err != nil {
		return "", false, err
	}
	raw, _ := md[KeyPricingPlan].(string)
	if raw == "" {
		return "", false, nil
	}
	t, err := plan.Parse(raw)
	if err != nil {
		a.log.WarnContext(ctx, "ignoring unknown pricing plan in metadata",
			logger.UserID(userID), slog.String("value", raw))
		return "", false, nil
	}
	return t, true, nil
}

// SetPlan records tier and, when given, the billing customer. Unrelated
// metadata keys are preserved.
func (a *Adapter) SetPlan(ctx context.Context, userID string, tier plan.Tier, extra Extra) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidArgument, tier)
	}

	patch := map[string]any{KeyPricingPlan: string(tier)}
	if extra.CustomerID != "" {
		patch[KeyCustomerID] = extra.CustomerID
	}
	if extra.Provider != "" {
		patch[KeyProvider] = string(extra.Provider)
	}
	if err := a.store.Merge(ctx, userID, patch); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	a.log.InfoContext(ctx, "pricing plan recorded", logger.UserID(userID), logger.Tier(string(tier)))
	return nil
}

// Binding returns the recorded billing customer. An empty CustomerID means
// none is recorded.
func (a *Adapter) Binding(ctx context.Context, userID string) (Binding, error) {
	md, err := a.get(ctx, userID)
	if err != nil {
		return Binding{}, err
	}
	id, _ := md[KeyCustomerID].(string)
	provider, _ := md[KeyProvider].(string)
	return Binding{CustomerID: id, Provider: plan.Provider(provider)}, nil
}

// Bind records the billing customer of userID without touching the plan.
func (a *Adapter) Bind(ctx context.Context, userID string, b Binding) error {
	if userID == "" || b.CustomerID == "" {
		return fmt.Errorf("%w: user id and customer id are required", ErrInvalidArgument)
	}
	patch := map[string]any{KeyCustomerID: b.CustomerID}
	if b.Provider != "" {
		patch[KeyProvider] = string(b.Provider)
	}
	if err := a.store.Merge(ctx, userID, patch); err != nil {
		return fmt.Errorf("bind customer: %w", err)
	}
	a.log.InfoContext(ctx, "billing customer bound", logger.UserID(userID), logger.CustomerID(b.CustomerID))
	return nil
}

// Email returns the user's address for notifications, or "" when unknown.
func (a *Adapter) Email(ctx context.Context, userID string) (string, error) {
	if r, ok := a.store.(EmailResolver); ok {
		addr, err := r.PrimaryEmail(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("read email: %w", err)
		}
		return addr, nil
	}
	md, err := a.get(ctx, userID)
	if err != nil {
		return "", err
	}
	addr, _ := md[KeyEmail].(string)
	return addr, nil
}

// DeleteUser removes the identity record.
func (a *Adapter) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if err := a.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	a.log.InfoContext(ctx, "identity user deleted", logger.UserID(userID))
	return nil
}

func (a *Adapter) get(ctx context.Context, userID string) (map[string]any, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	md, err := a.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return md, nil
}
