package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tyemirov/storefront/pkg/schema"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerRequestID     = "X-Request-Id"
	contentTypeJSON     = "application/json"
)

type requestStage struct {
	credentials    Credentials
	registry       *schema.Registry
	recovery       *recovery
	preemptiveSkew time.Duration
	metrics        MetricsRecorder
	logger         *zap.Logger
}

// Augment attaches the stored bearer token and a request id. Headers are set,
// never appended, so augmenting twice yields the same request.
func Augment(ctx context.Context, credentials Credentials, request Request) Request {
	augmented := request.Clone()
	if accessToken, ok := credentials.AccessToken(ctx); ok {
		augmented.Header.Set(headerAuthorization, "Bearer "+accessToken)
		augmented.Header.Set(headerContentType, contentTypeJSON)
	}
	if augmented.Header.Get(headerRequestID) == "" {
		augmented.Header.Set(headerRequestID, uuid.NewString())
	}
	return augmented
}

func (stage *requestStage) middleware(next Handler) Handler {
	return func(ctx context.Context, request Request) (Response, error) {
		if stage.preemptiveSkew > 0 && !stage.recovery.isAuthEndpoint(request.URL) {
			if _, hasToken := stage.credentials.AccessToken(ctx); hasToken && stage.credentials.IsTokenExpiringSoon(ctx, stage.preemptiveSkew) {
				if refreshErr := stage.recovery.refreshNow(ctx); refreshErr != nil {
					return Response{}, refreshErr
				}
			}
		}
		augmented := Augment(ctx, stage.credentials, request)
		if gateErr := stage.gate(augmented); gateErr != nil {
			return Response{}, gateErr
		}
		return next(ctx, augmented)
	}
}

func (stage *requestStage) gate(request Request) error {
	if !requiresValidation(request.Method) || isEmptyBody(request.Body) {
		return nil
	}
	requestSchema, found := stage.registry.RequestSchema(request.Method, request.URL)
	if !found {
		return nil
	}
	validateErr := schema.ValidateOrError(request.Body, requestSchema)
	if validateErr == nil {
		return nil
	}
	stage.metrics.Increment(EventRequestValidationRejected)
	stage.logger.Debug("request rejected by schema",
		zap.String("code", "pipeline.request.validation_rejected"),
		zap.String("method", request.Method),
		zap.String("url", request.URL),
	)
	return validateErr
}

func requiresValidation(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func isEmptyBody(body any) bool {
	switch typed := body.(type) {
	case nil:
		return true
	case []byte:
		return len(typed) == 0
	case json.RawMessage:
		return len(typed) == 0
	case string:
		return typed == ""
	default:
		return false
	}
}
