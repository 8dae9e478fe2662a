package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/signin/internal/auth"
	"github.com/MarcoPoloResearchLab/signin/internal/config"
	"github.com/MarcoPoloResearchLab/signin/internal/database"
	"github.com/MarcoPoloResearchLab/signin/internal/logging"
	"github.com/MarcoPoloResearchLab/signin/internal/server"
	"github.com/MarcoPoloResearchLab/signin/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "signin-api",
		Short: "ID token sign-in service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "SQLite path or postgres:// connection URL")
	cmd.PersistentFlags().String("google-client-id", "", "Google OAuth client ID (token audience)")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("google-issuer", defaults.GetString("google.issuer"), "OIDC issuer URL used by the oidc verifier")
	cmd.PersistentFlags().String("google-verifier", defaults.GetString("google.verifier"), "Token verifier (jwks, oidc)")
	cmd.PersistentFlags().String("provider-name", defaults.GetString("provider.name"), "Provider tag and login route segment")
	cmd.PersistentFlags().String("static-dir", defaults.GetString("static.dir"), "Directory holding the static entry document")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "google.issuer", "google-issuer")
	bindFlag(cmd, "google.verifier", "google-verifier")
	bindFlag(cmd, "provider.name", "provider-name")
	bindFlag(cmd, "static.dir", "static-dir")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDSN, appConfig.ProviderName, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	verifier, err := newVerifier(ctx, appConfig, logger)
	if err != nil {
		return err
	}

	store, err := users.NewStore(db, users.NewUUIDProvider())
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{
		Repository: store,
		Provider:   appConfig.ProviderName,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:    verifier,
		UserService: userService,
		Provider:    appConfig.ProviderName,
		StaticDir:   appConfig.StaticDir,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("verifier", appConfig.VerifierMode))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newVerifier(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (server.TokenVerifier, error) {
	switch appConfig.VerifierMode {
	case config.VerifierOIDC:
		return auth.NewOIDCVerifier(ctx, auth.OIDCVerifierConfig{
			IssuerURL: appConfig.GoogleIssuer,
			Audience:  appConfig.GoogleClientID,
			Logger:    logger,
		})
	case config.VerifierJWKS:
		return auth.NewJWKSVerifier(auth.JWKSVerifierConfig{
			Audience: appConfig.GoogleClientID,
			JWKSURL:  appConfig.GoogleJWKSURL,
			CacheTTL: appConfig.JWKSCacheTTL,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unsupported verifier %q", appConfig.VerifierMode)
	}
}
