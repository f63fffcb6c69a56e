package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var errMissingRefreshToken = errors.New("pipeline.refresh.missing_refresh_token")

// refreshCall is one in-flight refresh shared by every request that observed a
// 401 while it ran.
type refreshCall struct {
	done       chan struct{}
	staleToken string
	err        error
}

// recovery is the Idle/Refreshing state machine. inflight != nil means
// Refreshing.
type recovery struct {
	credentials   Credentials
	refresher     Refresher
	authEndpoints []string
	metrics       MetricsRecorder
	logger        *zap.Logger

	mutex      sync.Mutex
	inflight   *refreshCall
	lastFailed *refreshCall
}

func (state *recovery) middleware(next Handler) Handler {
	return func(ctx context.Context, request Request) (Response, error) {
		sentToken, _ := state.credentials.AccessToken(ctx)
		response, err := next(ctx, request)
		if err == nil || !state.recoverable(request, err) {
			return response, err
		}
		if recoverErr := state.recover(ctx, sentToken); recoverErr != nil {
			return Response{}, recoverErr
		}
		state.metrics.Increment(EventRefreshReplay)
		return next(ctx, request)
	}
}

func (state *recovery) recoverable(request Request, err error) bool {
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.StatusCode != http.StatusUnauthorized {
		return false
	}
	return !state.isAuthEndpoint(request.URL)
}

func (state *recovery) isAuthEndpoint(rawURL string) bool {
	for _, endpoint := range state.authEndpoints {
		if endpoint != "" && strings.Contains(rawURL, endpoint) {
			return true
		}
	}
	return false
}

// recover returns nil when the caller should replay with the stored token.
func (state *recovery) recover(ctx context.Context, sentToken string) error {
	state.mutex.Lock()
	currentToken, hasCurrent := state.credentials.AccessToken(ctx)
	if hasCurrent && currentToken != sentToken {
		state.mutex.Unlock()
		return nil
	}
	call := state.inflight
	if call != nil {
		state.metrics.Increment(EventRefreshJoined)
	} else if failed := state.lastFailed; failed != nil && !hasCurrent && failed.staleToken == sentToken {
		state.mutex.Unlock()
		return failed.err
	} else {
		refreshToken, hasRefresh := state.credentials.RefreshToken(ctx)
		if !hasRefresh {
			state.mutex.Unlock()
			if clearErr := state.credentials.ClearAuthData(ctx); clearErr != nil {
				state.logger.Error("clear auth data failed", zap.String("code", "pipeline.recovery.clear_failed"), zap.Error(clearErr))
			}
			return SessionExpired(errMissingRefreshToken)
		}
		call = &refreshCall{done: make(chan struct{}), staleToken: sentToken}
		state.inflight = call
		state.lastFailed = nil
		go state.run(context.WithoutCancel(ctx), call, refreshToken)
	}
	state.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.done:
		return call.err
	}
}

// refreshNow starts or joins a refresh regardless of the token the caller
// holds. Used for preemptive refresh.
func (state *recovery) refreshNow(ctx context.Context) error {
	state.mutex.Lock()
	call := state.inflight
	if call != nil {
		state.metrics.Increment(EventRefreshJoined)
	} else {
		refreshToken, hasRefresh := state.credentials.RefreshToken(ctx)
		if !hasRefresh {
			state.mutex.Unlock()
			return nil
		}
		currentToken, _ := state.credentials.AccessToken(ctx)
		call = &refreshCall{done: make(chan struct{}), staleToken: currentToken}
		state.inflight = call
		state.lastFailed = nil
		go state.run(context.WithoutCancel(ctx), call, refreshToken)
	}
	state.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-call.done:
		return call.err
	}
}

func (state *recovery) run(ctx context.Context, call *refreshCall, refreshToken string) {
	state.metrics.Increment(EventRefreshAttempt)
	accessToken, refreshErr := state.refresher.Refresh(ctx, refreshToken)

	state.mutex.Lock()
	defer state.mutex.Unlock()
	if refreshErr == nil {
		refreshErr = state.credentials.UpdateAccessToken(ctx, accessToken)
	}
	if refreshErr != nil {
		state.metrics.Increment(EventRefreshFailure)
		state.logger.Warn("token refresh failed", zap.String("code", "pipeline.recovery.refresh_failed"), zap.Error(refreshErr))
		if clearErr := state.credentials.ClearAuthData(ctx); clearErr != nil {
			state.logger.Error("clear auth data failed", zap.String("code", "pipeline.recovery.clear_failed"), zap.Error(clearErr))
		}
		call.err = SessionExpired(refreshErr)
		state.lastFailed = call
	} else {
		state.metrics.Increment(EventRefreshSuccess)
	}
	state.inflight = nil
	close(call.done)
}
