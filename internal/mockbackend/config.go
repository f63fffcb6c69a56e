package mockbackend

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultIssuer     = "storefront-mock"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultBasePath   = "/api"
)

var errMissingSigningKey = errors.New("mockbackend.config.missing_signing_key")

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures issuers, token lifetimes and CORS.
type Config struct {
	SigningKey     []byte
	Issuer         string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	BasePath       string
	AllowedOrigins []string
	Clock          Clock
	Logger         *zap.Logger
}

func (configuration Config) withDefaults() (Config, error) {
	if len(configuration.SigningKey) == 0 {
		return Config{}, fmt.Errorf("mockbackend.config: %w", errMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		configuration.Issuer = DefaultIssuer
	}
	if configuration.AccessTTL <= 0 {
		configuration.AccessTTL = DefaultAccessTTL
	}
	if configuration.RefreshTTL <= 0 {
		configuration.RefreshTTL = DefaultRefreshTTL
	}
	if strings.TrimSpace(configuration.BasePath) == "" {
		configuration.BasePath = DefaultBasePath
	}
	if configuration.Clock == nil {
		configuration.Clock = systemClock{}
	}
	if configuration.Logger == nil {
		configuration.Logger = zap.NewNop()
	}
	return configuration, nil
}
