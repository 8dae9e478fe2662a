package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/signin/internal/auth"
	"go.uber.org/zap"
)

const defaultProvider = "google"

// Repository is the persistence boundary consumed by Service.
type Repository interface {
	FindByExternalID(ctx context.Context, externalID string) (*User, error)
	FindByInternalID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, input NewUser) (User, error)
	UpdateProfile(ctx context.Context, user User, profile Profile) (User, error)
	SetPhone(ctx context.Context, id string, phone string) (*User, error)
}

// ServiceConfig describes the dependencies required for login and phone updates.
type ServiceConfig struct {
	Repository Repository
	Provider   string
	Logger     *zap.Logger
}

// Service upserts users from verified claims and attaches phone numbers.
type Service struct {
	repository Repository
	provider   string
	logger     *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("users: repository required")
	}
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = defaultProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repository: cfg.Repository,
		provider:   provider,
		logger:     logger,
	}, nil
}

// Provider returns the tag stamped on users created by this service.
func (s *Service) Provider() string {
	return s.provider
}

// Login creates the user for a first-seen subject or refreshes the mirrored profile of an existing one.
// The lookup and the write are not wrapped in a transaction; a concurrent first login for the same
// subject surfaces ErrDuplicateKey from the store.
func (s *Service) Login(ctx context.Context, claims auth.Claims) (User, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return User{}, ErrInvalidIdentity
	}
	profile := Profile{
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		PictureURL:  claims.PictureURL,
	}

	existing, err := s.repository.FindByExternalID(ctx, subject)
	if err != nil {
		return User{}, err
	}
	if existing == nil {
		user, err := s.repository.Create(ctx, NewUser{
			ExternalID: subject,
			Provider:   s.provider,
			Profile:    profile,
		})
		if err != nil {
			return User{}, err
		}
		s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("provider", s.provider))
		return user, nil
	}

	return s.repository.UpdateProfile(ctx, *existing, profile)
}

// AddPhone attaches a phone number to the user with the given internal id.
// A nil phone leaves the record unchanged. A nil user is returned when the id does not resolve.
func (s *Service) AddPhone(ctx context.Context, id string, phone *string) (*User, error) {
	if phone == nil {
		return s.repository.FindByInternalID(ctx, id)
	}
	return s.repository.SetPhone(ctx, id, *phone)
}
