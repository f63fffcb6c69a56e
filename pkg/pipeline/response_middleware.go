package pipeline

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tyemirov/storefront/pkg/schema"
)

// ResponseFallback produces the body returned to the caller when a successful
// response does not match its schema.
type ResponseFallback func(request Request, body []byte, issues schema.Issues) []byte

// KeepOriginalBody returns the body unchanged.
func KeepOriginalBody(_ Request, body []byte, _ schema.Issues) []byte {
	return body
}

type responseStage struct {
	registry *schema.Registry
	fallback ResponseFallback
	metrics  MetricsRecorder
	logger   *zap.Logger
}

func (stage *responseStage) middleware(next Handler) Handler {
	return func(ctx context.Context, request Request) (Response, error) {
		response, err := next(ctx, request)
		if err != nil {
			return response, err
		}
		responseSchema, found := stage.registry.ResponseSchema(request.Method, request.URL)
		if !found {
			return response, nil
		}
		issues := stage.check(response.Body, responseSchema)
		if len(issues) == 0 {
			return response, nil
		}
		stage.metrics.Increment(EventResponseSchemaMismatch)
		stage.logger.Warn("response does not match schema",
			zap.String("code", "pipeline.response.schema_mismatch"),
			zap.String("method", request.Method),
			zap.String("url", request.URL),
			zap.Any("issues", issues),
		)
		substituted := response
		substituted.Body = stage.fallback(request, response.Body, issues)
		return substituted, nil
	}
}

func (stage *responseStage) check(body []byte, responseSchema schema.Schema) schema.Issues {
	if !json.Valid(body) {
		return schema.Issues{{Path: schema.Path{}, Message: "Response body is not valid JSON", Code: schema.CodeInvalidType}}
	}
	result := schema.Validate(json.RawMessage(body), responseSchema)
	if result.Success {
		return nil
	}
	return result.Errors
}
