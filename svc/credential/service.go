package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/keytier/pkg/logger"
	"github.com/dmitrymomot/keytier/svc/plan"
)

// maxKeyAttempts bounds regeneration when a freshly generated key collides.
const maxKeyAttempts = 3

// Service issues, rotates and checks API credentials.
type Service struct {
	store  Store
	newKey KeyGenerator
	log    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithKeyGenerator overrides key generation.
func WithKeyGenerator(gen KeyGenerator) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.newKey = gen
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService creates a credential service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		newKey: GenerateKey,
		log:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("credential"))
	return s
}

// Upsert provisions the (user, tier) credential with a fresh key. Calling it
// again rotates the key of the same row; only the latest key is valid.
func (s *Service) Upsert(ctx context.Context, userID string, tier plan.Tier) (*Credential, error) {
	if err := validate(userID, tier); err != nil {
		return nil, err
	}
	c, err := s.withFreshKey(func(key string) (*Credential, error) {
		return s.store.Upsert(ctx, userID, tier, key)
	})
	if err != nil {
		return nil, fmt.Errorf("upsert %s credential: %w", tier, err)
	}
	s.log.InfoContext(ctx, "credential provisioned",
		logger.UserID(userID), logger.Tier(string(tier)), logger.CredentialID(c.ID))
	return c, nil
}

// Rotate replaces the key of an existing (user, tier) credential.
func (s *Service) Rotate(ctx context.Context, userID string, tier plan.Tier) (*Credential, error) {
	if err := validate(userID, tier); err != nil {
		return nil, err
	}
	c, err := s.withFreshKey(func(key string) (*Credential, error) {
		return s.store.Rotate(ctx, userID, tier, key)
	})
	if err != nil {
		return nil, fmt.Errorf("rotate %s credential: %w", tier, err)
	}
	s.log.InfoContext(ctx, "credential rotated",
		logger.UserID(userID), logger.Tier(string(tier)), logger.CredentialID(c.ID))
	return c, nil
}

// Regenerate rotates the key of credential id owned by userID.
func (s *Service) Regenerate(ctx context.Context, userID string, id uuid.UUID) (*Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	c, err := s.withFreshKey(func(key string) (*Credential, error) {
		return s.store.RotateByID(ctx, userID, id, key)
	})
	if err != nil {
		return nil, fmt.Errorf("regenerate credential %s: %w", id, err)
	}
	s.log.InfoContext(ctx, "credential regenerated", logger.UserID(userID), logger.CredentialID(id))
	return c, nil
}

// SetActive toggles credential id owned by userID without touching its key.
func (s *Service) SetActive(ctx context.Context, userID string, id uuid.UUID, active bool) (*Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	c, err := s.store.SetActive(ctx, userID, id, active)
	if err != nil {
		return nil, fmt.Errorf("set credential %s active=%t: %w", id, active, err)
	}
	s.log.InfoContext(ctx, "credential toggled",
		logger.UserID(userID), logger.CredentialID(id), slog.Bool("active", active))
	return c, nil
}

// Activate marks the (user, tier) credential active, reporting whether it exists.
func (s *Service) Activate(ctx context.Context, userID string, tier plan.Tier) (bool, error) {
	if err := validate(userID, tier); err != nil {
		return false, err
	}
	ok, err := s.store.SetActiveByTier(ctx, userID, tier, true)
	if err != nil {
		return false, fmt.Errorf("activate %s credential: %w", tier, err)
	}
	return ok, nil
}

// DeactivateTiers deactivates the user's credentials for tiers and returns how
// many were switched off.
func (s *Service) DeactivateTiers(ctx context.Context, userID string, tiers ...plan.Tier) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	n, err := s.store.DeactivateTiers(ctx, userID, tiers)
	if err != nil {
		return 0, fmt.Errorf("deactivate credentials: %w", err)
	}
	if n > 0 {
		s.log.InfoContext(ctx, "credentials deactivated", logger.UserID(userID), slog.Int64("count", n))
	}
	return n, nil
}

// ListByUser returns every credential of userID, active or not.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	list, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return list, nil
}

// DeleteAllForUser removes every credential of userID. It is only used by
// account deletion.
func (s *Service) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	n, err := s.store.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete credentials: %w", err)
	}
	s.log.InfoContext(ctx, "credentials deleted", logger.UserID(userID), slog.Int64("count", n))
	return n, nil
}

// UsersWithActive lists users holding an active credential in any of tiers.
func (s *Service) UsersWithActive(ctx context.Context, tiers ...plan.Tier) ([]string, error) {
	ids, err := s.store.ListUserIDs(ctx, tiers)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return ids, nil
}

// Authenticate resolves an API key to its active credential.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*Credential, error) {
	if !strings.HasPrefix(apiKey, KeyPrefix) {
		return nil, ErrInvalidKey
	}
	c, err := s.store.GetByKey(ctx, apiKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrInvalidKey
	case err != nil:
		return nil, fmt.Errorf("authenticate: %w", err)
	case !c.IsActive:
		return nil, ErrInactiveKey
	}
	return c, nil
}

func (s *Service) withFreshKey(write func(key string) (*Credential, error)) (*Credential, error) {
	var lastErr error
	for range maxKeyAttempts {
		key, err := s.newKey()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		c, err := write(key)
		if !errors.Is(err, ErrKeyCollision) {
			return c, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func validate(userID string, tier plan.Tier) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if !tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidArgument, tier)
	}
	return nil
}
