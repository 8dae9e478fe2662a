package users

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateKey reports an insert rejected by the unique index on external_id.
	ErrDuplicateKey = errors.New("users: duplicate external id")
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
)

// Store reads and writes user records through GORM.
type Store struct {
	db  *gorm.DB
	ids IDProvider
}

// NewStore constructs a Store over an already migrated connection.
func NewStore(db *gorm.DB, ids IDProvider) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &Store{db: db, ids: ids}, nil
}

// FindByExternalID returns the user bound to the provider subject, or nil when none exists.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*User, error) {
	return s.findOne(ctx, "external_id = ?", externalID)
}

// FindByInternalID returns the user with the given internal id, or nil when none exists.
func (s *Store) FindByInternalID(ctx context.Context, id string) (*User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) findOne(ctx context.Context, query string, value string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(query, value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new user. A concurrent insert for the same external id surfaces as ErrDuplicateKey.
func (s *Store) Create(ctx context.Context, input NewUser) (User, error) {
	externalID := normalize(input.ExternalID)
	if externalID == "" {
		return User{}, ErrInvalidIdentity
	}
	id, err := s.ids.NewID()
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:          id,
		ExternalID:  externalID,
		Email:       input.Profile.Email,
		DisplayName: input.Profile.DisplayName,
		PictureURL:  input.Profile.PictureURL,
		Provider:    input.Provider,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, fmt.Errorf("%w: %s", ErrDuplicateKey, externalID)
		}
		return User{}, err
	}
	return user, nil
}

// UpdateProfile overwrites the mirrored profile fields. Phone and ids are left untouched.
func (s *Store) UpdateProfile(ctx context.Context, user User, profile Profile) (User, error) {
	err := s.db.WithContext(ctx).
		Model(&user).
		Updates(map[string]interface{}{
			"email":        profile.Email,
			"display_name": profile.DisplayName,
			"picture_url":  profile.PictureURL,
		}).
		Error
	if err != nil {
		return User{}, err
	}
	user.Email = profile.Email
	user.DisplayName = profile.DisplayName
	user.PictureURL = profile.PictureURL
	return user, nil
}

// SetPhone writes the phone number without validation and returns the updated record.
// It returns nil when the id does not resolve; no record is ever created.
func (s *Store) SetPhone(ctx context.Context, id string, phone string) (*User, error) {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", id).
		Update("phone", phone)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.FindByInternalID(ctx, id)
}
