package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/storefront/internal/mockbackend"
	"github.com/tyemirov/storefront/pkg/pipeline"
	"go.uber.org/zap"
)

const (
	cliTestEmail    = "asha@example.com"
	cliTestPassword = "Sup3r$ecret"
)

func withServeHTTPStub(stub func(server *http.Server) error) func() {
	previous := serveHTTP
	serveHTTP = stub
	return func() {
		serveHTTP = previous
	}
}

func withQuietLogger() func() {
	previous := buildLogger
	buildLogger = func(bool) (*zap.Logger, error) {
		return zap.NewNop(), nil
	}
	return func() {
		buildLogger = previous
	}
}

func withUserConfigDirStub(stub func() (string, error)) func() {
	previous := userConfigDir
	userConfigDir = stub
	return func() {
		userConfigDir = previous
	}
}

func TestLoadClientConfigRequiresAPIURL(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("timeout", time.Second)

	_, err := LoadClientConfig()
	if err == nil {
		t.Fatalf("expected error when api_url is missing")
	}
	expectedMessage := "config.missing_api_url: api_url must be provided"
	if err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %q", expectedMessage, err.Error())
	}
}

func TestLoadClientConfigValidatesValues(t *testing.T) {
	testCases := []struct {
		name            string
		values          map[string]any
		expectedMessage string
	}{
		{
			name:            "relative api url",
			values:          map[string]any{"api_url": "/api", "timeout": time.Second},
			expectedMessage: "config.invalid_api_url: api_url must be an absolute http or https URL",
		},
		{
			name:            "unsupported scheme",
			values:          map[string]any{"api_url": "ftp://example.com/api", "timeout": time.Second},
			expectedMessage: "config.invalid_api_url: api_url must be an absolute http or https URL",
		},
		{
			name:            "zero timeout",
			values:          map[string]any{"api_url": "http://localhost:8080/api", "timeout": 0},
			expectedMessage: "config.invalid_timeout: timeout must be greater than zero",
		},
		{
			name:            "negative preemptive refresh",
			values:          map[string]any{"api_url": "http://localhost:8080/api", "timeout": time.Second, "preemptive_refresh": -time.Second},
			expectedMessage: "config.invalid_preemptive_refresh: preemptive_refresh must not be negative",
		},
	}

	for _, testCase := range testCases {
		viper.Reset()
		for key, value := range testCase.values {
			viper.Set(key, value)
		}
		_, err := LoadClientConfig()
		if err == nil || err.Error() != testCase.expectedMessage {
			t.Fatalf("%s: expected error %q, got %v", testCase.name, testCase.expectedMessage, err)
		}
	}
	viper.Reset()
}

func TestLoadClientConfigDefaultsStorageToUserConfigDir(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	configDirectory := t.TempDir()
	restoreDir := withUserConfigDirStub(func() (string, error) { return configDirectory, nil })
	defer restoreDir()

	viper.Set("api_url", "http://localhost:8080/api")
	viper.Set("timeout", time.Second)

	clientConfig, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	expectedURL := "sqlite://" + filepath.ToSlash(filepath.Join(configDirectory, "storefront", "session.db"))
	if clientConfig.StorageURL != expectedURL {
		t.Fatalf("expected storage url %q, got %q", expectedURL, clientConfig.StorageURL)
	}
	if clientConfig.storageDirectory != filepath.Join(configDirectory, "storefront") {
		t.Fatalf("unexpected storage directory %q", clientConfig.storageDirectory)
	}

	viper.Set("storage_url", "memory://")
	explicitConfig, err := LoadClientConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	if explicitConfig.StorageURL != "memory://" || explicitConfig.storageDirectory != "" {
		t.Fatalf("explicit storage url must be kept, got %+v", explicitConfig)
	}
}

func TestLoadClientConfigWithoutUserConfigDir(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	restoreDir := withUserConfigDirStub(func() (string, error) { return "", errors.New("no home") })
	defer restoreDir()

	viper.Set("api_url", "http://localhost:8080/api")
	viper.Set("timeout", time.Second)

	_, err := LoadClientConfig()
	expectedMessage := "config.missing_storage_url: storage_url must be provided when no user config directory is available"
	if err == nil || err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %v", expectedMessage, err)
	}
}

func TestClientCommandWithoutPreparedConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	run := withSession(func(command *cobra.Command, arguments []string, current *session) error {
		t.Fatalf("action must not run without configuration")
		return nil
	})
	err := run(&cobra.Command{}, nil)
	expectedMessage := "config.uninitialized_client_config: client configuration not prepared; PreRunE must execute before RunE"
	if err == nil || err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %v", expectedMessage, err)
	}
}

func TestLoadBackendConfigValidatesValues(t *testing.T) {
	testCases := []struct {
		name            string
		values          map[string]any
		expectedMessage string
	}{
		{
			name:            "missing signing key",
			values:          map[string]any{"access_ttl": time.Minute, "refresh_ttl": time.Hour},
			expectedMessage: "config.missing_jwt_signing_key: jwt_signing_key must be provided",
		},
		{
			name:            "zero access ttl",
			values:          map[string]any{"jwt_signing_key": "secret", "access_ttl": 0, "refresh_ttl": time.Hour},
			expectedMessage: "config.invalid_access_ttl: access_ttl must be greater than zero",
		},
		{
			name:            "zero refresh ttl",
			values:          map[string]any{"jwt_signing_key": "secret", "access_ttl": time.Minute, "refresh_ttl": 0},
			expectedMessage: "config.invalid_refresh_ttl: refresh_ttl must be greater than zero",
		},
		{
			name:            "seed email without password",
			values:          map[string]any{"jwt_signing_key": "secret", "access_ttl": time.Minute, "refresh_ttl": time.Hour, "seed_email": cliTestEmail},
			expectedMessage: "config.incomplete_seed_user: seed_email and seed_password must be provided together",
		},
	}

	for _, testCase := range testCases {
		viper.Reset()
		for key, value := range testCase.values {
			viper.Set(key, value)
		}
		_, err := LoadBackendConfig()
		if err == nil || err.Error() != testCase.expectedMessage {
			t.Fatalf("%s: expected error %q, got %v", testCase.name, testCase.expectedMessage, err)
		}
	}
	viper.Reset()
}

func TestRunMockBackendMissingConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	err := runMockBackend(&cobra.Command{}, nil)
	expectedMessage := "config.uninitialized_backend_config: backend configuration not prepared; PreRunE must execute before RunE"
	if err == nil || err.Error() != expectedMessage {
		t.Fatalf("expected error %q, got %v", expectedMessage, err)
	}
}

func TestRunMockBackendServesSeededUser(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	defer gin.SetMode(gin.TestMode)

	restoreLogger := withQuietLogger()
	defer restoreLogger()

	var loginStatus int
	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		if server.Addr != ":0" {
			t.Fatalf("unexpected listen address %q", server.Addr)
		}
		body := strings.NewReader(`{"email":"` + cliTestEmail + `","password":"` + cliTestPassword + `"}`)
		request := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
		request.Header.Set("Content-Type", "application/json")
		recorder := httptest.NewRecorder()
		server.Handler.ServeHTTP(recorder, request)
		loginStatus = recorder.Code
		return http.ErrServerClosed
	})
	defer restoreServe()

	viper.Set("listen_addr", ":0")
	viper.Set("jwt_signing_key", "signing-secret")
	viper.Set("access_ttl", time.Minute)
	viper.Set("refresh_ttl", time.Hour)
	viper.Set("seed_email", cliTestEmail)
	viper.Set("seed_password", cliTestPassword)

	backendConfig, err := LoadBackendConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), backendConfigContextKey, backendConfig))

	if err := runMockBackend(command, nil); err != nil {
		t.Fatalf("expected runMockBackend to succeed, got %v", err)
	}
	if loginStatus != http.StatusOK {
		t.Fatalf("expected seeded user to log in, got status %d", loginStatus)
	}
}

func TestRunMockBackendReportsListenError(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	defer gin.SetMode(gin.TestMode)

	restoreLogger := withQuietLogger()
	defer restoreLogger()
	restoreServe := withServeHTTPStub(func(server *http.Server) error {
		return errors.New("address in use")
	})
	defer restoreServe()

	viper.Set("jwt_signing_key", "signing-secret")
	viper.Set("access_ttl", time.Minute)
	viper.Set("refresh_ttl", time.Hour)
	backendConfig, err := LoadBackendConfig()
	if err != nil {
		t.Fatalf("expected configuration load to succeed, got %v", err)
	}
	command := &cobra.Command{}
	command.SetContext(context.WithValue(context.Background(), backendConfigContextKey, backendConfig))

	if err := runMockBackend(command, nil); err == nil || err.Error() != "listen error: address in use" {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestNewRootCommandHelp(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cmd := newRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--help"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected help execution to succeed: %v", err)
	}
}

type cliHarness struct {
	apiURL     string
	storageURL string
}

func newCLIHarness(t *testing.T, handler http.Handler) *cliHarness {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &cliHarness{
		apiURL:     server.URL + "/api",
		storageURL: "sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "session.db")),
	}
}

func newMockBackend(t *testing.T) *mockbackend.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend, err := mockbackend.NewServer(mockbackend.Config{SigningKey: []byte("cli-signing-key")})
	if err != nil {
		t.Fatalf("new mock backend: %v", err)
	}
	if _, err := backend.Users().Register(context.Background(), "Asha Rao", cliTestEmail, cliTestPassword, ""); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return backend
}

func (harness *cliHarness) run(arguments ...string) (string, error) {
	viper.Reset()
	cmd := newRootCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(arguments, "--api_url", harness.apiURL, "--storage_url", harness.storageURL))
	err := cmd.Execute()
	return output.String(), err
}

func TestCLISessionLifecycle(t *testing.T) {
	defer viper.Reset()
	restoreLogger := withQuietLogger()
	defer restoreLogger()

	harness := newCLIHarness(t, newMockBackend(t).Handler())

	output, err := harness.run("login", "--email", cliTestEmail, "--password", cliTestPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(output, `"email": "asha@example.com"`) {
		t.Fatalf("login must print the stored user, got %s", output)
	}

	output, err = harness.run("whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(output, `"account"`) || !strings.Contains(output, `"name": "Asha Rao"`) {
		t.Fatalf("unexpected whoami output %s", output)
	}

	output, err = harness.run("sweets", "--in_stock", "--sort_by", "price")
	if err != nil {
		t.Fatalf("sweets: %v", err)
	}
	if !strings.Contains(output, "Peppermint Swirl") || strings.Contains(output, "Sour Worms") {
		t.Fatalf("unexpected sweets output %s", output)
	}

	output, err = harness.run("purchase", "1", "--quantity", "2")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if !strings.Contains(output, `"totalPrice": 9`) {
		t.Fatalf("unexpected purchase output %s", output)
	}

	if _, err := harness.run("restock", "3", "--quantity", "5"); err == nil || !strings.Contains(err.Error(), "(FORBIDDEN)") {
		t.Fatalf("expected customer restock to be forbidden, got %v", err)
	}

	output, err = harness.run("categories")
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if !strings.Contains(output, "Chocolate") || strings.Contains(output, "Seasonal") {
		t.Fatalf("unexpected categories output %s", output)
	}

	output, err = harness.run("request", "get", "/auth/me")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !strings.Contains(output, `"success": true`) {
		t.Fatalf("unexpected raw response %s", output)
	}

	output, err = harness.run("refresh")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.HasPrefix(output, "access token valid until ") {
		t.Fatalf("unexpected refresh output %s", output)
	}

	output, err = harness.run("logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	if strings.TrimSpace(output) != "logged out" {
		t.Fatalf("unexpected logout output %s", output)
	}

	if _, err := harness.run("whoami"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected not logged in after logout, got %v", err)
	}
	if _, err := harness.run("watch"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("watch must refuse an empty session, got %v", err)
	}
}

func TestCLIValidationNeverReachesBackend(t *testing.T) {
	defer viper.Reset()
	restoreLogger := withQuietLogger()
	defer restoreLogger()

	harness := newCLIHarness(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		t.Errorf("backend must not be called, got %s %s", request.Method, request.URL.Path)
		writer.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := harness.run("login", "--email", "not-an-email", "--password", "short")
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	normalized, ok := pipeline.AsError(err)
	if !ok || normalized.Kind != pipeline.KindValidation {
		t.Fatalf("expected normalized validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "\n  email: Invalid email format") {
		t.Fatalf("expected rendered field errors, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "\n  password: Password must be at least 8 characters") {
		t.Fatalf("expected rendered password error, got %q", err.Error())
	}
}

func TestCLIRejectsBadArguments(t *testing.T) {
	defer viper.Reset()
	restoreLogger := withQuietLogger()
	defer restoreLogger()

	harness := newCLIHarness(t, newMockBackend(t).Handler())

	if _, err := harness.run("purchase", "abc"); err == nil || !strings.HasPrefix(err.Error(), "storefront.cli.invalid_sweet_id") {
		t.Fatalf("expected invalid sweet id error, got %v", err)
	}
	if _, err := harness.run("request", "POST", "/auth/login", "--data", "{not json"); err == nil || !strings.HasPrefix(err.Error(), "storefront.cli.invalid_data") {
		t.Fatalf("expected invalid data error, got %v", err)
	}
	if _, err := harness.run("watch", "--interval", "0s"); err == nil || err.Error() != "config.invalid_interval: interval must be greater than zero" {
		t.Fatalf("expected invalid interval error, got %v", err)
	}
}
