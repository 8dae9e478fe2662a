package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultJWKSCacheTTL = 10 * time.Minute
	defaultIssuerGoogle = "https://accounts.google.com"
	defaultIssuerAlt    = "accounts.google.com"
)

var (
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")
)

// JWKSVerifierConfig bundles configuration required to instantiate a JWKSVerifier.
type JWKSVerifierConfig struct {
	Audience       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

// JWKSVerifier verifies provider ID tokens offline using a cached JWKS document.
type JWKSVerifier struct {
	parser  *jwt.Parser
	keys    *remoteKeySet
	issuers map[string]struct{}
}

// NewJWKSVerifier constructs a verifier with validated configuration.
func NewJWKSVerifier(cfg JWKSVerifierConfig) (*JWKSVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}
	issuers, err := allowedIssuers(cfg.AllowedIssuers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, err)
	}

	keys := &remoteKeySet{
		url:    jwksURL,
		client: cfg.HTTPClient,
		ttl:    cfg.CacheTTL,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if keys.client == nil {
		keys.client = http.DefaultClient
	}
	if keys.ttl <= 0 {
		keys.ttl = defaultJWKSCacheTTL
	}
	if keys.clock == nil {
		keys.clock = time.Now
	}
	if keys.logger == nil {
		keys.logger = zap.NewNop()
	}

	return &JWKSVerifier{
		parser: jwt.NewParser(
			jwt.WithAudience(audience),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(keys.clock),
		),
		keys:    keys,
		issuers: issuers,
	}, nil
}

func allowedIssuers(configured []string) (map[string]struct{}, error) {
	if len(configured) == 0 {
		return map[string]struct{}{defaultIssuerGoogle: {}, defaultIssuerAlt: {}}, nil
	}
	issuers := make(map[string]struct{}, len(configured))
	for _, issuer := range configured {
		if normalized := strings.TrimSpace(issuer); normalized != "" {
			issuers[normalized] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, errNoAllowedIssuers
	}
	return issuers, nil
}

type idTokenClaims struct {
	profileClaims
	jwt.RegisteredClaims
}

// Verify validates the provided ID token against the configured audience and returns its claims.
// All verification failures are reported as ErrInvalidToken.
func (v *JWKSVerifier) Verify(ctx context.Context, rawToken string) (Claims, error) {
	if rawToken == "" {
		return Claims{}, ErrMissingToken
	}

	claims := &idTokenClaims{}
	if _, err := v.parser.ParseWithClaims(rawToken, claims, v.keyFunc(ctx)); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return Claims{}, fmt.Errorf("%w: %v %q", ErrInvalidToken, errUntrustedIssuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, errMissingSubject)
	}

	verified := Claims{
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		PictureURL:  claims.Picture,
		Issuer:      claims.Issuer,
		Audience:    claims.Audience[0],
		Expiry:      claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Time
	}
	return verified, nil
}

func (v *JWKSVerifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		keyID, _ := token.Header["kid"].(string)
		if keyID == "" {
			return nil, errMissingKeyIdentifier
		}
		return v.keys.publicKey(ctx, keyID)
	}
}
