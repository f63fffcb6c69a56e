package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tyemirov/storefront/pkg/schema"
)

// Default endpoints that never trigger refresh recovery.
var DefaultAuthEndpoints = []string{"/auth/login", "/auth/register", DefaultRefreshEndpoint}

type settings struct {
	registry       *schema.Registry
	logger         *zap.Logger
	metrics        MetricsRecorder
	presenter      Presenter
	refresher      Refresher
	authEndpoints  []string
	refreshPath    string
	fallback       ResponseFallback
	preemptiveSkew time.Duration
}

// Option configures a Pipeline.
type Option func(*settings)

// WithSchemas sets the registry consulted for request and response schemas.
func WithSchemas(registry *schema.Registry) Option {
	return func(target *settings) { target.registry = registry }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(target *settings) { target.logger = logger }
}

// WithMetrics sets the counter sink.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(target *settings) { target.metrics = metrics }
}

// WithPresenter replaces the default logging presenter.
func WithPresenter(presenter Presenter) Option {
	return func(target *settings) { target.presenter = presenter }
}

// WithRefresher replaces the default EndpointRefresher.
func WithRefresher(refresher Refresher) Option {
	return func(target *settings) { target.refresher = refresher }
}

// WithAuthEndpoints replaces the URL substrings exempt from refresh recovery.
func WithAuthEndpoints(endpoints ...string) Option {
	return func(target *settings) { target.authEndpoints = append([]string(nil), endpoints...) }
}

// WithRefreshEndpoint sets the path the default refresher posts to.
func WithRefreshEndpoint(path string) Option {
	return func(target *settings) { target.refreshPath = path }
}

// WithResponseFallback sets the policy for responses that fail their schema.
func WithResponseFallback(fallback ResponseFallback) Option {
	return func(target *settings) { target.fallback = fallback }
}

// WithPreemptiveRefresh refreshes before dispatch when the stored access token
// expires within skew.
func WithPreemptiveRefresh(skew time.Duration) Option {
	return func(target *settings) { target.preemptiveSkew = skew }
}

// Pipeline is the single entry point for storefront API calls.
type Pipeline struct {
	handler     Handler
	credentials Credentials
	presenter   Presenter
	recovery    *recovery
	logger      *zap.Logger
}

// New composes normalize, recovery, response and request stages around
// transport, in that order.
func New(transport Transport, credentials Credentials, options ...Option) *Pipeline {
	config := settings{
		authEndpoints: DefaultAuthEndpoints,
		refreshPath:   DefaultRefreshEndpoint,
		fallback:      KeepOriginalBody,
	}
	for _, option := range options {
		option(&config)
	}
	if config.logger == nil {
		config.logger = zap.NewNop()
	}
	if config.metrics == nil {
		config.metrics = discardMetrics{}
	}
	if config.presenter == nil {
		config.presenter = NewLogPresenter(config.logger)
	}
	if config.refresher == nil {
		config.refresher = EndpointRefresher{Transport: transport, Endpoint: config.refreshPath}
	}
	if config.fallback == nil {
		config.fallback = KeepOriginalBody
	}

	recoveryState := &recovery{
		credentials:   credentials,
		refresher:     config.refresher,
		authEndpoints: config.authEndpoints,
		metrics:       config.metrics,
		logger:        config.logger,
	}
	requestMiddleware := &requestStage{
		credentials:    credentials,
		registry:       config.registry,
		recovery:       recoveryState,
		preemptiveSkew: config.preemptiveSkew,
		metrics:        config.metrics,
		logger:         config.logger,
	}
	responseMiddleware := &responseStage{
		registry: config.registry,
		fallback: config.fallback,
		metrics:  config.metrics,
		logger:   config.logger,
	}

	pipeline := &Pipeline{
		credentials: credentials,
		presenter:   config.presenter,
		recovery:    recoveryState,
		logger:      config.logger,
	}
	pipeline.handler = Chain(transport.RoundTrip,
		pipeline.normalizeStage,
		recoveryState.middleware,
		responseMiddleware.middleware,
		requestMiddleware.middleware,
	)
	return pipeline
}

func (pipeline *Pipeline) normalizeStage(next Handler) Handler {
	return func(ctx context.Context, request Request) (Response, error) {
		response, err := next(ctx, request)
		if err == nil {
			return response, nil
		}
		normalized := Normalize(err)
		if normalized.Kind != KindSessionExpired && normalized.StatusCode == http.StatusUnauthorized && !pipeline.recovery.isAuthEndpoint(request.URL) {
			if clearErr := pipeline.credentials.ClearAuthData(ctx); clearErr != nil {
				pipeline.logger.Error("clear auth data failed", zap.String("code", "pipeline.normalize.clear_failed"), zap.Error(clearErr))
			}
		}
		pipeline.presenter.Present(ctx, request, normalized)
		return Response{}, normalized
	}
}

// Send runs request through the pipeline. Every returned error is an *Error.
func (pipeline *Pipeline) Send(ctx context.Context, request Request) (Response, error) {
	return pipeline.handler(ctx, request)
}

// Get sends a GET request.
func (pipeline *Pipeline) Get(ctx context.Context, url string) (Response, error) {
	return pipeline.Send(ctx, Request{Method: http.MethodGet, URL: url})
}

// Post sends a POST request with a JSON body.
func (pipeline *Pipeline) Post(ctx context.Context, url string, body any) (Response, error) {
	return pipeline.Send(ctx, Request{Method: http.MethodPost, URL: url, Body: body})
}

// Put sends a PUT request with a JSON body.
func (pipeline *Pipeline) Put(ctx context.Context, url string, body any) (Response, error) {
	return pipeline.Send(ctx, Request{Method: http.MethodPut, URL: url, Body: body})
}

// Patch sends a PATCH request with a JSON body.
func (pipeline *Pipeline) Patch(ctx context.Context, url string, body any) (Response, error) {
	return pipeline.Send(ctx, Request{Method: http.MethodPatch, URL: url, Body: body})
}

// Delete sends a DELETE request.
func (pipeline *Pipeline) Delete(ctx context.Context, url string) (Response, error) {
	return pipeline.Send(ctx, Request{Method: http.MethodDelete, URL: url})
}

// Refresh exchanges the stored refresh token for a new access token through
// the shared refresh state, joining a refresh already in flight. Without a
// refresh token the stored session is cleared.
func (pipeline *Pipeline) Refresh(ctx context.Context) error {
	if _, hasRefresh := pipeline.credentials.RefreshToken(ctx); !hasRefresh {
		if clearErr := pipeline.credentials.ClearAuthData(ctx); clearErr != nil {
			pipeline.logger.Error("clear auth data failed", zap.String("code", "pipeline.refresh.clear_failed"), zap.Error(clearErr))
		}
		return SessionExpired(errMissingRefreshToken)
	}
	if refreshErr := pipeline.recovery.refreshNow(ctx); refreshErr != nil {
		return Normalize(refreshErr)
	}
	return nil
}

// AsError extracts the normalized error from err.
func AsError(err error) (*Error, bool) {
	var normalized *Error
	if errors.As(err, &normalized) {
		return normalized, true
	}
	return nil, false
}
