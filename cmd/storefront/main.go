package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/storefront/internal/storefront"
	"github.com/tyemirov/storefront/internal/tokenstore"
	"github.com/tyemirov/storefront/pkg/pipeline"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildLogger = func(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

var userConfigDir = os.UserConfigDir

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "storefront",
		Short:        "Storefront API client with schema-checked requests and transparent session refresh",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("api_url", "http://localhost:8080/api", "Storefront API base URL")
	rootCmd.PersistentFlags().String("storage_url", "", "Session storage URL (sqlite://, postgres://, redis:// or memory://; empty uses a SQLite file in the user config directory)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "HTTP request timeout")
	rootCmd.PersistentFlags().Duration("preemptive_refresh", 0, "Refresh the access token before a request when it expires within this window; zero disables")
	rootCmd.PersistentFlags().Bool("debug", false, "Development logging")

	_ = viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api_url"))
	_ = viper.BindPFlag("storage_url", rootCmd.PersistentFlags().Lookup("storage_url"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("preemptive_refresh", rootCmd.PersistentFlags().Lookup("preemptive_refresh"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(
		newLoginCommand(),
		newRegisterCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newRefreshCommand(),
		newSweetsCommand(),
		newPurchaseCommand(),
		newRestockCommand(),
		newCategoriesCommand(),
		newRequestCommand(),
		newWatchCommand(),
		newMockBackendCommand(),
	)

	viper.SetEnvPrefix("STOREFRONT")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingAPIURL           = "config.missing_api_url"
	configCodeInvalidAPIURL           = "config.invalid_api_url"
	configCodeInvalidTimeout          = "config.invalid_timeout"
	configCodeInvalidPreemptive       = "config.invalid_preemptive_refresh"
	configCodeMissingStorageURL       = "config.missing_storage_url"
	configCodeUninitializedClientConf = "config.uninitialized_client_config"
)

type contextKey string

const clientConfigContextKey contextKey = "clientConfig"

// ClientConfig is the resolved configuration shared by the client commands.
type ClientConfig struct {
	APIURL            string
	StorageURL        string
	Timeout           time.Duration
	PreemptiveRefresh time.Duration
	Debug             bool

	storageDirectory string
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadClientConfig() (ClientConfig, error) {
	apiURL := strings.TrimSpace(viper.GetString("api_url"))
	if apiURL == "" {
		return ClientConfig{}, configError(configCodeMissingAPIURL, "api_url must be provided")
	}
	parsedURL, parseErr := url.Parse(apiURL)
	if parseErr != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		return ClientConfig{}, configError(configCodeInvalidAPIURL, "api_url must be an absolute http or https URL")
	}

	timeout := viper.GetDuration("timeout")
	if timeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidTimeout, "timeout must be greater than zero")
	}

	preemptiveRefresh := viper.GetDuration("preemptive_refresh")
	if preemptiveRefresh < 0 {
		return ClientConfig{}, configError(configCodeInvalidPreemptive, "preemptive_refresh must not be negative")
	}

	configuration := ClientConfig{
		APIURL:            apiURL,
		StorageURL:        strings.TrimSpace(viper.GetString("storage_url")),
		Timeout:           timeout,
		PreemptiveRefresh: preemptiveRefresh,
		Debug:             viper.GetBool("debug"),
	}
	if configuration.StorageURL == "" {
		baseDirectory, dirErr := userConfigDir()
		if dirErr != nil || baseDirectory == "" {
			return ClientConfig{}, configError(configCodeMissingStorageURL, "storage_url must be provided when no user config directory is available")
		}
		configuration.storageDirectory = filepath.Join(baseDirectory, "storefront")
		configuration.StorageURL = "sqlite://" + filepath.ToSlash(filepath.Join(configuration.storageDirectory, "session.db"))
	}
	return configuration, nil
}

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	command.SetContext(context.WithValue(commandContext(command), clientConfigContextKey, clientConfig))
	return nil
}

func commandContext(command *cobra.Command) context.Context {
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	return existingContext
}

func clientConfigFromCommand(command *cobra.Command) (ClientConfig, error) {
	clientConfig, ok := commandContext(command).Value(clientConfigContextKey).(ClientConfig)
	if !ok {
		return ClientConfig{}, configError(configCodeUninitializedClientConf, "client configuration not prepared; PreRunE must execute before RunE")
	}
	return clientConfig, nil
}

// session bundles what one client command needs and releases it on Close.
type session struct {
	client  *storefront.Client
	store   *tokenstore.Store
	storage tokenstore.Storage
	metrics *pipeline.CounterMetrics
	logger  *zap.Logger
}

func openSession(command *cobra.Command) (*session, error) {
	clientConfig, configErr := clientConfigFromCommand(command)
	if configErr != nil {
		return nil, configErr
	}
	logger, loggerErr := buildLogger(clientConfig.Debug)
	if loggerErr != nil {
		return nil, loggerErr
	}
	if clientConfig.storageDirectory != "" {
		if mkdirErr := os.MkdirAll(clientConfig.storageDirectory, 0o700); mkdirErr != nil {
			return nil, fmt.Errorf("storefront.cli.storage_directory: %w", mkdirErr)
		}
	}
	storage, storageErr := tokenstore.OpenStorage(commandContext(command), clientConfig.StorageURL)
	if storageErr != nil {
		return nil, storageErr
	}
	store := tokenstore.New(storage, tokenstore.Config{Logger: logger})
	metrics := pipeline.NewCounterMetrics()
	client, clientErr := storefront.New(storefront.Config{
		BaseURL:               clientConfig.APIURL,
		HTTPClient:            &http.Client{Timeout: clientConfig.Timeout},
		Store:                 store,
		Logger:                logger,
		Metrics:               metrics,
		PreemptiveRefreshSkew: clientConfig.PreemptiveRefresh,
	})
	if clientErr != nil {
		_ = storage.Close()
		return nil, clientErr
	}
	return &session{client: client, store: store, storage: storage, metrics: metrics, logger: logger}, nil
}

func (current *session) Close() {
	current.logger.Debug("pipeline counters", zap.String("code", "storefront.cli.metrics"), zap.Any("counters", current.metrics.Snapshot()))
	if closeErr := current.storage.Close(); closeErr != nil {
		current.logger.Warn("storage close failed", zap.String("code", "storefront.cli.storage_close"), zap.Error(closeErr))
	}
	_ = current.logger.Sync()
}
