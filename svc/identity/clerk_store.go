package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"
)

// ClerkUsers is the part of the Clerk user API used by ClerkStore.
// *user.Client satisfies it.
type ClerkUsers interface {
	Get(ctx context.Context, id string) (*clerk.User, error)
	UpdateMetadata(ctx context.Context, id string, params *user.UpdateMetadataParams) (*clerk.User, error)
	Delete(ctx context.Context, id string) (*clerk.DeletedResource, error)
}

// ClerkConfig configures the Clerk backend client.
type ClerkConfig struct {
	SecretKey string `env:"CLERK_SECRET_KEY"`
}

// ClerkStore keeps metadata in the Clerk user's public metadata. Clerk merges
// metadata updates server side and removes keys set to null.
type ClerkStore struct {
	users ClerkUsers
}

var (
	_ MetadataStore = (*ClerkStore)(nil)
	_ EmailResolver = (*ClerkStore)(nil)
)

// NewClerkClient returns the Clerk user API client for cfg.
func NewClerkClient(cfg ClerkConfig) *user.Client {
	return user.NewClient(&clerk.ClientConfig{
		BackendConfig: clerk.BackendConfig{Key: clerk.String(cfg.SecretKey)},
	})
}

func NewClerkStore(users ClerkUsers) *ClerkStore {
	return &ClerkStore{users: users}
}

func (s *ClerkStore) Get(ctx context.Context, userID string) (map[string]any, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, clerkError(err)
	}
	md := map[string]any{}
	if len(u.PublicMetadata) > 0 && string(u.PublicMetadata) != "null" {
		if err := json.Unmarshal(u.PublicMetadata, &md); err != nil {
			return nil, errors.Join(ErrMalformed, err)
		}
	}
	return md, nil
}

func (s *ClerkStore) Merge(ctx context.Context, userID string, patch map[string]any) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return errors.Join(ErrInvalidArgument, err)
	}
	msg := json.RawMessage(raw)
	if _, err := s.users.UpdateMetadata(ctx, userID, &user.UpdateMetadataParams{PublicMetadata: &msg}); err != nil {
		return clerkError(err)
	}
	return nil
}

func (s *ClerkStore) PrimaryEmail(ctx context.Context, userID string) (string, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return "", clerkError(err)
	}
	for _, addr := range u.EmailAddresses {
		if addr != nil && u.PrimaryEmailAddressID != nil && addr.ID == *u.PrimaryEmailAddressID {
			return addr.EmailAddress, nil
		}
	}
	return "", nil
}

func (s *ClerkStore) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.users.Delete(ctx, userID); err != nil {
		return clerkError(err)
	}
	return nil
}

func clerkError(err error) error {
	var apiErr *clerk.APIErrorResponse
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return errors.Join(ErrUserNotFound, err)
	}
	return errors.Join(ErrProvider, err)
}
