// Package mockbackend serves the storefront REST contract in memory. It backs
// the client tests and the CLI's local development server.
package mockbackend

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/storefront/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "storefront_claims"

// Server owns the mock backend state and router.
type Server struct {
	configuration Config
	users         *UserStore
	refreshTokens *RefreshTokenStore
	catalog       *Catalog
	validator     *sessionvalidator.Validator
	engine        *gin.Engine
}

// NewServer builds the router with every storefront route mounted under BasePath.
func NewServer(configuration Config) (*Server, error) {
	resolved, configErr := configuration.withDefaults()
	if configErr != nil {
		return nil, configErr
	}
	validator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: resolved.SigningKey,
		Issuer:     resolved.Issuer,
		Clock:      resolved.Clock,
	})
	if validatorErr != nil {
		return nil, fmt.Errorf("mockbackend.new_server: %w", validatorErr)
	}

	server := &Server{
		configuration: resolved,
		users:         NewUserStore(resolved.Clock, 0),
		refreshTokens: NewRefreshTokenStore(resolved.Clock),
		catalog:       NewCatalog(resolved.Clock),
		validator:     validator,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(zapLoggerMiddleware(resolved.Logger))
	if len(resolved.AllowedOrigins) > 0 {
		corsMiddleware, corsErr := ConfigureCORS(resolved.Logger, resolved.AllowedOrigins)
		if corsErr != nil {
			return nil, fmt.Errorf("mockbackend.new_server: %w", corsErr)
		}
		engine.Use(corsMiddleware)
	}
	server.mountRoutes(engine.Group(resolved.BasePath))
	server.engine = engine
	return server, nil
}

// Handler returns the HTTP handler.
func (server *Server) Handler() http.Handler {
	return server.engine
}

// Users exposes the user store for seeding.
func (server *Server) Users() *UserStore {
	return server.users
}

// Catalog exposes the catalog for inspection.
func (server *Server) Catalog() *Catalog {
	return server.catalog
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("request_id", contextGin.GetHeader("X-Request-Id")),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}
