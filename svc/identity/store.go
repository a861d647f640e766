package identity

import "context"

// Metadata keys written by this service. Any other key belongs to someone else
// and is preserved on every write.
const (
	KeyPricingPlan = "pricing_plan"
	KeyCustomerID  = "billing_customer_id"
	KeyProvider    = "billing_provider"
	KeyEmail       = "email"
)

// MetadataStore is the per-user key/value capability of the identity provider.
type MetadataStore interface {
	// Get returns the user's metadata. A user without metadata yields an
	// empty map.
	Get(ctx context.Context, userID string) (map[string]any, error)
	// Merge sets the given top-level keys and leaves the rest untouched.
	// A nil value removes the key.
	Merge(ctx context.Context, userID string, patch map[string]any) error
	// DeleteUser removes the user record.
	DeleteUser(ctx context.Context, userID string) error
}

// EmailResolver is implemented by stores whose provider owns the user's
// primary email address.
type EmailResolver interface {
	PrimaryEmail(ctx context.Context, userID string) (string, error)
}
