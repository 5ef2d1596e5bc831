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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mprlab/gsession/internal/authkit"
	"github.com/mprlab/gsession/internal/users"
	"github.com/mprlab/gsession/internal/web"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (authkit.GoogleTokenValidator, error) {
	return authkit.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "gsession",
		Short:   "Session service with Google Sign-In verification, versioned JWT access tokens, and refresh cookies",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret (min 32 chars)")
	rootCmd.Flags().String("jwt_issuer", "gsession", "Issuer embedded in minted tokens")
	rootCmd.Flags().Duration("access_ttl", authkit.DefaultAccessTTL, "Access token TTL")
	rootCmd.Flags().Duration("refresh_ttl", authkit.DefaultRefreshTTL, "Refresh token TTL")
	rootCmd.Flags().Duration("nonce_ttl", 5*time.Minute, "Nonce lifetime for sign-in exchanges")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "", "Database URL for users (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().StringSlice("admin_emails", []string{}, "Emails granted the administrator flag")
	rootCmd.Flags().StringSlice("required_paths", []string{"/api/**"}, "Path patterns requiring authentication")
	rootCmd.Flags().StringSlice("optional_paths", []string{}, "Path patterns where authentication is optional")
	rootCmd.Flags().StringSlice("public_paths", []string{"/", "/health", "/auth/**"}, "Path patterns skipping authentication")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")

	for _, flagName := range []string{
		"listen_addr", "cookie_domain", "google_web_client_id", "jwt_signing_key",
		"jwt_issuer", "access_ttl", "refresh_ttl", "nonce_ttl", "dev_insecure_http",
		"database_url", "admin_emails", "required_paths", "optional_paths",
		"public_paths", "enable_cors", "cors_allowed_origins",
	} {
		_ = viper.BindPFlag(flagName, rootCmd.Flags().Lookup(flagName))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	refreshCookieName = "app_refresh"

	configCodeMissingGoogleClientID   = "config.missing_google_web_client_id"
	configCodeShortJWTSigningKey      = "config.jwt_signing_key_too_short"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads configuration from viper and fails closed on any
// invalid security-relevant setting.
func LoadServerConfig() (authkit.ServerConfig, error) {
	googleWebClientID := viper.GetString("google_web_client_id")
	if googleWebClientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_web_client_id must be provided")
	}

	jwtSigningKey := viper.GetString("jwt_signing_key")
	if len(jwtSigningKey) < authkit.MinimumSigningKeyLength {
		return authkit.ServerConfig{}, configError(configCodeShortJWTSigningKey,
			fmt.Sprintf("jwt_signing_key must be at least %d characters", authkit.MinimumSigningKeyLength))
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	nonceTTL := 5 * time.Minute
	if configuredNonceTTL := viper.GetDuration("nonce_ttl"); configuredNonceTTL > 0 {
		nonceTTL = configuredNonceTTL
	}

	return authkit.ServerConfig{
		GoogleWebClientID: googleWebClientID,
		SigningKey:        []byte(jwtSigningKey),
		Issuer:            viper.GetString("jwt_issuer"),
		CookieDomain:      viper.GetString("cookie_domain"),
		RefreshCookieName: refreshCookieName,
		AccessTTL:         accessTTL,
		RefreshTTL:        refreshTTL,
		NonceTTL:          nonceTTL,
		AdminEmails:       viper.GetStringSlice("admin_emails"),
		Routes: authkit.RoutePolicy{
			Public:   viper.GetStringSlice("public_paths"),
			Required: viper.GetStringSlice("required_paths"),
			Optional: viper.GetStringSlice("optional_paths"),
		},
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	serverConfig.AllowInsecureHTTP = viper.GetBool("dev_insecure_http")
	serverConfig.SameSiteMode = http.SameSiteLaxMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	var userStore users.Store
	if databaseURL != "" {
		databaseStore, storeErr := users.NewDatabaseStore(context.Background(), databaseURL)
		if storeErr != nil {
			return storeErr
		}
		userStore = databaseStore
		logger.Info("using persistent user store", zap.String("driver", databaseStore.Driver()))
	} else {
		userStore = users.NewMemoryStore()
		logger.Info("using in-memory user store")
	}

	clock := authkit.NewSystemClock()
	metricsRecorder := authkit.NewCounterMetrics()

	tokenService, tokenErr := authkit.NewTokenService(serverConfig.SigningKey, serverConfig.Issuer, serverConfig.AccessTTL, serverConfig.RefreshTTL, clock, logger)
	if tokenErr != nil {
		return tokenErr
	}

	validator, validatorErr := buildGoogleTokenValidator(command.Context())
	if validatorErr != nil {
		return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
	}

	nonceStore := authkit.NewMemoryNonceStore(serverConfig.NonceTTL, clock)

	router.Use(authkit.Authenticate(serverConfig, tokenService, userStore, logger, metricsRecorder))

	authkit.MountAuthRoutes(router, serverConfig, authkit.RouteDependencies{
		Users:   userStore,
		Google:  validator,
		Tokens:  tokenService,
		Nonces:  nonceStore,
		Clock:   clock,
		Logger:  logger,
		Metrics: metricsRecorder,
	})

	router.GET("/health", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
