package pipeline

import (
	"context"

	"go.uber.org/zap"
)

// Presenter surfaces normalized failures to the user.
type Presenter interface {
	Present(ctx context.Context, request Request, failure *Error)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, request Request, failure *Error)

// Present calls presenterFunc.
func (presenterFunc PresenterFunc) Present(ctx context.Context, request Request, failure *Error) {
	presenterFunc(ctx, request, failure)
}

// LogPresenter writes one log line per failure, keyed by category.
type LogPresenter struct {
	logger *zap.Logger
}

// NewLogPresenter constructs a LogPresenter. A nil logger discards output.
func NewLogPresenter(logger *zap.Logger) *LogPresenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPresenter{logger: logger}
}

// Present implements Presenter.
func (presenter *LogPresenter) Present(ctx context.Context, request Request, failure *Error) {
	fields := []zap.Field{
		zap.String("code", "pipeline.present."+string(failure.Category)),
		zap.String("method", request.Method),
		zap.String("url", request.URL),
		zap.Int("status", failure.StatusCode),
		zap.String("error_code", failure.ErrorCode),
	}
	switch failure.Category {
	case CategorySessionExpired:
		presenter.logger.Warn("session expired, please log in again", fields...)
	case CategoryPermission:
		presenter.logger.Warn("permission denied", fields...)
	case CategoryNotFound:
		presenter.logger.Info("resource not found", fields...)
	case CategoryValidation:
		presenter.logger.Warn(failure.Message, append(fields, zap.Any("errors", failure.Errors))...)
	case CategoryServerError:
		presenter.logger.Error("server error, please try again later", fields...)
	default:
		presenter.logger.Error(failure.Message, fields...)
	}
}
