package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultExpirySkew is the window treated as "expiring soon".
const DefaultExpirySkew = 5 * time.Minute

// DefaultWatchInterval is how often the expiry watcher sweeps.
const DefaultWatchInterval = 5 * time.Minute

var errMissingExpiry = errors.New("token_store.missing_exp")

// ExpiryInfo describes the stored access token's lifetime.
type ExpiryInfo struct {
	Expired   bool
	Remaining time.Duration
	ExpiresAt time.Time
}

// IsTokenExpiringSoon reports whether the stored access token is absent,
// malformed, lacks exp, or expires within skew. skew <= 0 uses DefaultExpirySkew.
func (store *Store) IsTokenExpiringSoon(ctx context.Context, skew time.Duration) bool {
	if skew <= 0 {
		skew = DefaultExpirySkew
	}
	accessToken, found := store.AccessToken(ctx)
	if !found {
		return true
	}
	expiresAt, err := tokenExpiry(accessToken)
	if err != nil {
		return true
	}
	return !expiresAt.After(store.clock.Now().Add(skew))
}

// TokenExpiry reports the stored access token's expiry. Absent and malformed
// tokens are reported as expired.
func (store *Store) TokenExpiry(ctx context.Context) ExpiryInfo {
	accessToken, found := store.AccessToken(ctx)
	if !found {
		return ExpiryInfo{Expired: true}
	}
	expiresAt, err := tokenExpiry(accessToken)
	if err != nil {
		return ExpiryInfo{Expired: true}
	}
	remaining := expiresAt.Sub(store.clock.Now())
	if remaining <= 0 {
		return ExpiryInfo{Expired: true, ExpiresAt: expiresAt}
	}
	return ExpiryInfo{Remaining: remaining, ExpiresAt: expiresAt}
}

// CheckStoredToken clears the session when the stored access token is expired
// or unparsable. It reports whether the session was cleared.
func (store *Store) CheckStoredToken(ctx context.Context) (bool, error) {
	accessToken, found := store.AccessToken(ctx)
	if !found || !store.isExpired(accessToken) {
		return false, nil
	}
	if clearErr := store.ClearAuthData(ctx); clearErr != nil {
		return false, fmt.Errorf("token_store.check_stored_token: %w", clearErr)
	}
	store.logger.Info("stored access token expired, session cleared", zap.String("code", "token_store.watcher.cleared"))
	return true, nil
}

// RunExpiryWatcher calls CheckStoredToken immediately and then every interval
// until ctx is done. interval <= 0 uses DefaultWatchInterval.
func (store *Store) RunExpiryWatcher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, checkErr := store.CheckStoredToken(ctx); checkErr != nil {
			store.logger.Error("expiry sweep failed", zap.String("code", "token_store.watcher.failed"), zap.Error(checkErr))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (store *Store) isExpired(accessToken string) bool {
	expiresAt, err := tokenExpiry(accessToken)
	if err != nil {
		return true
	}
	return !expiresAt.After(store.clock.Now())
}

// tokenExpiry decodes exp without verifying the signature.
func tokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, parseErr := jwt.NewParser().ParseUnverified(accessToken, claims); parseErr != nil {
		return time.Time{}, fmt.Errorf("token_store.parse_token: %w", parseErr)
	}
	expiresAt, expErr := claims.GetExpirationTime()
	if expErr != nil {
		return time.Time{}, fmt.Errorf("token_store.parse_token: %w", expErr)
	}
	if expiresAt == nil {
		return time.Time{}, errMissingExpiry
	}
	return expiresAt.Time, nil
}
