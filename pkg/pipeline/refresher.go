package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultRefreshEndpoint is the path refresh tokens are exchanged at.
const DefaultRefreshEndpoint = "/auth/refresh"

var errMissingAccessToken = errors.New("pipeline.refresh.missing_access_token")

// Credentials is the token store view the pipeline needs.
type Credentials interface {
	AccessToken(ctx context.Context) (string, bool)
	RefreshToken(ctx context.Context) (string, bool)
	UpdateAccessToken(ctx context.Context, accessToken string) error
	ClearAuthData(ctx context.Context) error
	IsTokenExpiringSoon(ctx context.Context, skew time.Duration) bool
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, error)

// Refresh calls refresherFunc.
func (refresherFunc RefresherFunc) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return refresherFunc(ctx, refreshToken)
}

// EndpointRefresher posts {"refreshToken": ...} to Endpoint directly on the
// transport, so a rejected refresh never re-enters recovery.
type EndpointRefresher struct {
	Transport Transport
	Endpoint  string
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
	Data        *struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

// Refresh implements Refresher.
func (refresher EndpointRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	endpoint := refresher.Endpoint
	if endpoint == "" {
		endpoint = DefaultRefreshEndpoint
	}
	request := Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   map[string]string{"refreshToken": refreshToken},
	}
	response, sendErr := refresher.Transport.RoundTrip(ctx, request)
	if sendErr != nil {
		return "", fmt.Errorf("pipeline.refresh.request: %w", sendErr)
	}
	var decoded refreshResponse
	if decodeErr := json.Unmarshal(response.Body, &decoded); decodeErr != nil {
		return "", fmt.Errorf("pipeline.refresh.decode: %w", decodeErr)
	}
	accessToken := decoded.AccessToken
	if decoded.Data != nil && decoded.Data.AccessToken != "" {
		accessToken = decoded.Data.AccessToken
	}
	if accessToken == "" {
		return "", errMissingAccessToken
	}
	return accessToken, nil
}
