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
	"github.com/tyemirov/storefront/internal/mockbackend"
	"go.uber.org/zap"
)

const (
	configCodeMissingJWTSigningKey     = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL         = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL        = "config.invalid_refresh_ttl"
	configCodeIncompleteSeedUser       = "config.incomplete_seed_user"
	configCodeUninitializedBackendConf = "config.uninitialized_backend_config"
)

const backendConfigContextKey contextKey = "backendConfig"

// BackendConfig configures the mock-backend command.
type BackendConfig struct {
	ListenAddr   string
	Server       mockbackend.Config
	SeedEmail    string
	SeedPassword string
}

func newMockBackendCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "mock-backend",
		Short:   "Serve the storefront API from memory for local development",
		Args:    cobra.NoArgs,
		PreRunE: prepareBackendConfig,
		RunE:    runMockBackend,
	}

	command.Flags().String("listen_addr", ":8080", "HTTP listen address")
	command.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	command.Flags().Duration("access_ttl", mockbackend.DefaultAccessTTL, "Access token TTL")
	command.Flags().Duration("refresh_ttl", mockbackend.DefaultRefreshTTL, "Refresh token TTL")
	command.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed CORS origins; empty disables CORS, * allows any")
	command.Flags().String("seed_email", "", "Email of a customer account created at startup")
	command.Flags().String("seed_password", "", "Password of the seeded customer account")

	_ = viper.BindPFlag("listen_addr", command.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", command.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("access_ttl", command.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", command.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("cors_allowed_origins", command.Flags().Lookup("cors_allowed_origins"))
	_ = viper.BindPFlag("seed_email", command.Flags().Lookup("seed_email"))
	_ = viper.BindPFlag("seed_password", command.Flags().Lookup("seed_password"))

	return command
}

func LoadBackendConfig() (BackendConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return BackendConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return BackendConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= 0 {
		return BackendConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than zero")
	}

	seedEmail := viper.GetString("seed_email")
	seedPassword := viper.GetString("seed_password")
	if (seedEmail == "") != (seedPassword == "") {
		return BackendConfig{}, configError(configCodeIncompleteSeedUser, "seed_email and seed_password must be provided together")
	}

	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return BackendConfig{
		ListenAddr: listenAddr,
		Server: mockbackend.Config{
			SigningKey:     []byte(jwtSigningKey),
			Issuer:         mockbackend.DefaultIssuer,
			AccessTTL:      accessTTL,
			RefreshTTL:     refreshTTL,
			BasePath:       mockbackend.DefaultBasePath,
			AllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
		},
		SeedEmail:    seedEmail,
		SeedPassword: seedPassword,
	}, nil
}

func prepareBackendConfig(command *cobra.Command, arguments []string) error {
	backendConfig, loadErr := LoadBackendConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), backendConfigContextKey, backendConfig))
	return nil
}

func runMockBackend(command *cobra.Command, arguments []string) error {
	backendConfig, ok := commandContext(command).Value(backendConfigContextKey).(BackendConfig)
	if !ok {
		return configError(configCodeUninitializedBackendConf, "backend configuration not prepared; PreRunE must execute before RunE")
	}

	logger, loggerErr := buildLogger(viper.GetBool("debug"))
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	backendConfig.Server.Logger = logger
	backend, backendErr := mockbackend.NewServer(backendConfig.Server)
	if backendErr != nil {
		return backendErr
	}
	if backendConfig.SeedEmail != "" {
		seeded, seedErr := backend.Users().Register(commandContext(command), "Demo Customer", backendConfig.SeedEmail, backendConfig.SeedPassword, mockbackend.RoleCustomer)
		if seedErr != nil {
			return fmt.Errorf("mockbackend.seed_user: %w", seedErr)
		}
		logger.Info("seeded user", zap.Int64("user_id", seeded.ID), zap.String("email", seeded.Email))
	}

	server := &http.Server{
		Addr:              backendConfig.ListenAddr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", backendConfig.ListenAddr), zap.String("base_path", backendConfig.Server.BasePath))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
