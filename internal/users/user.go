package users

import (
	"strings"
	"time"
)

// User is the local record mirrored from a provider identity, keyed by the provider subject.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	ExternalID  string    `gorm:"column:external_id;size:190;not null;uniqueIndex"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	PictureURL  string    `gorm:"column:picture_url;size:512"`
	Phone       *string   `gorm:"column:phone;size:64"`
	Provider    string    `gorm:"column:provider;size:32;not null;default:''"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// Profile holds the fields refreshed from the provider on every login.
type Profile struct {
	Email       string
	DisplayName string
	PictureURL  string
}

// NewUser describes a user record about to be created.
type NewUser struct {
	ExternalID string
	Provider   string
	Profile    Profile
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
