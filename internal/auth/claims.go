package auth

import (
	"errors"
	"time"
)

var (
	// ErrMissingToken is returned before any verification work when the token is empty.
	ErrMissingToken = errors.New("auth: id token must not be empty")
	// ErrInvalidToken covers every signature, expiry, issuer, audience and transport failure.
	ErrInvalidToken = errors.New("auth: invalid id token")
	// ErrInvalidVerifierConfig reports a verifier constructed with unusable settings.
	ErrInvalidVerifierConfig = errors.New("auth: invalid verifier config")
)

// Claims exposes the verified identity token payload consumed by the user store.
type Claims struct {
	Subject     string
	Email       string
	DisplayName string
	PictureURL  string
	Issuer      string
	Audience    string
	Expiry      time.Time
	IssuedAt    time.Time
}

// profileClaims lists the provider-specific profile fields carried next to the registered claims.
type profileClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}
