package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
)

var errMissingIssuerURL = errors.New("issuer url configuration required")

// OIDCVerifierConfig configures discovery-based verification.
type OIDCVerifierConfig struct {
	IssuerURL  string
	Audience   string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Clock      func() time.Time
}

// OIDCVerifier verifies ID tokens through the provider's OpenID Connect discovery document.
type OIDCVerifier struct {
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOIDCVerifier fetches the discovery document for the issuer and prepares a verifier bound to the audience.
func NewOIDCVerifier(ctx context.Context, cfg OIDCVerifierConfig) (*OIDCVerifier, error) {
	issuerURL := strings.TrimSpace(cfg.IssuerURL)
	if issuerURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingIssuerURL)
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), issuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: oidc discovery failed: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{
			ClientID: audience,
			Now:      cfg.Clock,
		}),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Verify validates the token signature, expiry, issuer and audience, returning ErrInvalidToken on any failure.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	if rawToken == "" {
		return Claims{}, ErrMissingToken
	}

	idToken, err := v.verifier.Verify(oidc.ClientContext(ctx, v.httpClient), rawToken)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var profile profileClaims
	if err := idToken.Claims(&profile); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, errMissingSubject)
	}

	audience := ""
	if len(idToken.Audience) > 0 {
		audience = idToken.Audience[0]
	}

	v.logger.Debug("oidc token verified",
		zap.String("issuer", idToken.Issuer),
		zap.Time("expiry", idToken.Expiry),
	)

	return Claims{
		Subject:     idToken.Subject,
		Email:       profile.Email,
		DisplayName: profile.Name,
		PictureURL:  profile.Picture,
		Issuer:      idToken.Issuer,
		Audience:    audience,
		Expiry:      idToken.Expiry,
		IssuedAt:    idToken.IssuedAt,
	}, nil
}
