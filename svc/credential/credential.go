package credential

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/keytier/svc/plan"
)

// KeyPrefix starts every issued API key.
const KeyPrefix = "kt_"

// Credential is an API key scoped to one user and one tier.
// At most one row exists per (UserID, Tier).
type Credential struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Tier      plan.Tier `json:"tier"`
	APIKey    string    `json:"api_key"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Masked returns a copy with the key shortened for listings.
func (c Credential) Masked() Credential {
	if len(c.APIKey) > len(KeyPrefix)+4 {
		c.APIKey = c.APIKey[:len(KeyPrefix)+4] + "…" + c.APIKey[len(c.APIKey)-4:]
	}
	return c
}

// KeyGenerator produces new API key values.
type KeyGenerator func() (string, error)

// GenerateKey returns KeyPrefix followed by 256 random bits, base64url encoded.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}
