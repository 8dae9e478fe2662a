package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "SIGNIN"
	defaultHTTPAddress = "0.0.0.0:5000"
	defaultDatabaseDSN = "signin.db"
	defaultLogLevel    = "info"
	defaultJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	defaultIssuerURL   = "https://accounts.google.com"
	defaultProvider    = "google"
	defaultStaticDir   = "web"
	defaultJWKSTTL     = 10 * time.Minute

	// VerifierJWKS verifies tokens offline against the configured JWKS URL.
	VerifierJWKS = "jwks"
	// VerifierOIDC verifies tokens through OpenID Connect discovery on the issuer URL.
	VerifierOIDC = "oidc"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabaseDSN    string
	GoogleClientID string
	GoogleJWKSURL  string
	GoogleIssuer   string
	VerifierMode   string
	JWKSCacheTTL   time.Duration
	ProviderName   string
	StaticDir      string
	LogLevel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("google.jwks_url", defaultJWKSURL)
	configViper.SetDefault("google.issuer", defaultIssuerURL)
	configViper.SetDefault("google.verifier", VerifierJWKS)
	configViper.SetDefault("google.jwks_cache_ttl", defaultJWKSTTL)
	configViper.SetDefault("provider.name", defaultProvider)
	configViper.SetDefault("static.dir", defaultStaticDir)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    strings.TrimSpace(configViper.GetString("http.address")),
		DatabaseDSN:    strings.TrimSpace(configViper.GetString("database.dsn")),
		GoogleClientID: strings.TrimSpace(configViper.GetString("google.client_id")),
		GoogleJWKSURL:  strings.TrimSpace(configViper.GetString("google.jwks_url")),
		GoogleIssuer:   strings.TrimSpace(configViper.GetString("google.issuer")),
		VerifierMode:   strings.ToLower(strings.TrimSpace(configViper.GetString("google.verifier"))),
		JWKSCacheTTL:   configViper.GetDuration("google.jwks_cache_ttl"),
		ProviderName:   strings.ToLower(strings.TrimSpace(configViper.GetString("provider.name"))),
		StaticDir:      strings.TrimSpace(configViper.GetString("static.dir")),
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.GoogleClientID == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.ProviderName == "" || strings.ContainsAny(c.ProviderName, "/ ") {
		return fmt.Errorf("provider.name must be a single path segment")
	}
	switch c.VerifierMode {
	case VerifierJWKS:
		if c.GoogleJWKSURL == "" {
			return fmt.Errorf("google.jwks_url is required for the %s verifier", VerifierJWKS)
		}
	case VerifierOIDC:
		if c.GoogleIssuer == "" {
			return fmt.Errorf("google.issuer is required for the %s verifier", VerifierOIDC)
		}
	default:
		return fmt.Errorf("google.verifier must be %q or %q, got %q", VerifierJWKS, VerifierOIDC, c.VerifierMode)
	}
	return nil
}
