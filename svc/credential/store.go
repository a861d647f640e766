package credential

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// Store persists credentials. Every write is a single atomic statement so
// concurrent provisioning of the same (user, tier) converges on one row.
type Store interface {
	// Upsert inserts the (user, tier) row or replaces its key and reactivates it.
	Upsert(ctx context.Context, userID string, tier plan.Tier, apiKey string) (*Credential, error)
	// Rotate replaces the key of an existing (user, tier) row. ErrNotFound if absent.
	Rotate(ctx context.Context, userID string, tier plan.Tier, apiKey string) (*Credential, error)
	// RotateByID replaces the key of the row id owned by userID.
	RotateByID(ctx context.Context, userID string, id uuid.UUID, apiKey string) (*Credential, error)
	// SetActive toggles the row id owned by userID.
	SetActive(ctx context.Context, userID string, id uuid.UUID, active bool) (*Credential, error)
	// SetActiveByTier toggles the (user, tier) row, reporting whether it existed.
	SetActiveByTier(ctx context.Context, userID string, tier plan.Tier, active bool) (bool, error)
	// DeactivateTiers deactivates the user's rows for the given tiers.
	DeactivateTiers(ctx context.Context, userID string, tiers []plan.Tier) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]Credential, error)
	GetByKey(ctx context.Context, apiKey string) (*Credential, error)
	// ListUserIDs returns distinct users holding an active row in any of tiers.
	ListUserIDs(ctx context.Context, tiers []plan.Tier) ([]string, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}
