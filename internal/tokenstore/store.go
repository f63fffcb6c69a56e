// Package tokenstore holds the storefront session: the access and refresh
// tokens and the authenticated user, persisted in durable key-value storage.
package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Storage keys.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUserData     = "userData"
)

var sessionKeys = []string{KeyUserData, KeyAccessToken, KeyRefreshToken}

// Sentinel errors exposed by the store.
var (
	ErrEmptyAccessToken  = errors.New("token_store.empty_access_token")
	ErrEmptyRefreshToken = errors.New("token_store.empty_refresh_token")
	ErrNotAuthenticated  = errors.New("token_store.not_authenticated")
	ErrStorage           = errors.New("token_store.storage")
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// User is the authenticated storefront user.
type User struct {
	UserID   int64          `json:"userId"`
	UserName string         `json:"userName"`
	Email    string         `json:"email"`
	Role     string         `json:"role"`
	Profile  map[string]any `json:"profile,omitempty"`
}

// TokenPair is the credential pair issued at login.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// State is delivered to listeners after every session change.
type State struct {
	Authenticated bool
	User          *User
}

// Config configures the Store.
type Config struct {
	Logger *zap.Logger
	Clock  Clock
}

// Store owns the session. Mutations are serialized; reads go to storage.
type Store struct {
	storage Storage
	logger  *zap.Logger
	clock   Clock

	mutex     sync.Mutex
	listeners []func(State)
}

// New constructs a Store over storage.
func New(storage Storage, configuration Config) *Store {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Store{storage: storage, logger: logger, clock: clock}
}

// OnChange registers a listener called after each set or clear.
func (store *Store) OnChange(listener func(State)) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.listeners = append(store.listeners, listener)
}

// AccessToken returns the stored access token.
func (store *Store) AccessToken(ctx context.Context) (string, bool) {
	return store.read(ctx, KeyAccessToken)
}

// RefreshToken returns the stored refresh token.
func (store *Store) RefreshToken(ctx context.Context) (string, bool) {
	return store.read(ctx, KeyRefreshToken)
}

// CurrentUser returns the stored user.
func (store *Store) CurrentUser(ctx context.Context) (*User, bool) {
	encoded, found := store.read(ctx, KeyUserData)
	if !found {
		return nil, false
	}
	var user User
	if decodeErr := json.Unmarshal([]byte(encoded), &user); decodeErr != nil {
		store.logger.Warn("stored user is not valid json", zap.String("code", "token_store.user_decode"), zap.Error(decodeErr))
		return nil, false
	}
	return &user, true
}

// IsAuthenticated reports whether a full session is stored.
func (store *Store) IsAuthenticated(ctx context.Context) bool {
	_, hasAccess := store.AccessToken(ctx)
	_, hasUser := store.CurrentUser(ctx)
	return hasAccess && hasUser
}

// SetAuthData stores the user and both tokens in one write.
func (store *Store) SetAuthData(ctx context.Context, user User, tokens TokenPair) error {
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return fmt.Errorf("token_store.set_auth_data: %w", ErrEmptyAccessToken)
	}
	if strings.TrimSpace(tokens.RefreshToken) == "" {
		return fmt.Errorf("token_store.set_auth_data: %w", ErrEmptyRefreshToken)
	}
	encodedUser, encodeErr := json.Marshal(user)
	if encodeErr != nil {
		return fmt.Errorf("token_store.set_auth_data: %w", encodeErr)
	}

	store.mutex.Lock()
	writeErr := store.storage.SetMany(ctx, map[string]string{
		KeyUserData:     string(encodedUser),
		KeyAccessToken:  tokens.AccessToken,
		KeyRefreshToken: tokens.RefreshToken,
	})
	listeners := store.snapshotListeners()
	store.mutex.Unlock()
	if writeErr != nil {
		return fmt.Errorf("token_store.set_auth_data: %w: %w", ErrStorage, writeErr)
	}
	notify(listeners, State{Authenticated: true, User: &user})
	return nil
}

// UpdateAccessToken replaces only the access token of the stored session.
func (store *Store) UpdateAccessToken(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("token_store.update_access_token: %w", ErrEmptyAccessToken)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, hasRefresh := store.read(ctx, KeyRefreshToken); !hasRefresh {
		return fmt.Errorf("token_store.update_access_token: %w", ErrNotAuthenticated)
	}
	if writeErr := store.storage.SetMany(ctx, map[string]string{KeyAccessToken: accessToken}); writeErr != nil {
		return fmt.Errorf("token_store.update_access_token: %w: %w", ErrStorage, writeErr)
	}
	return nil
}

// ClearAuthData removes the user and both tokens in one write.
func (store *Store) ClearAuthData(ctx context.Context) error {
	store.mutex.Lock()
	removeErr := store.storage.RemoveMany(ctx, sessionKeys...)
	listeners := store.snapshotListeners()
	store.mutex.Unlock()
	if removeErr != nil {
		return fmt.Errorf("token_store.clear_auth_data: %w: %w", ErrStorage, removeErr)
	}
	notify(listeners, State{})
	return nil
}

// Load validates the persisted session at startup. A partial session, an
// undecodable user or an expired access token is cleared.
func (store *Store) Load(ctx context.Context) (State, error) {
	accessToken, hasAccess := store.AccessToken(ctx)
	_, hasRefresh := store.RefreshToken(ctx)
	user, hasUser := store.CurrentUser(ctx)
	if !hasAccess && !hasRefresh && !hasUser {
		return State{}, nil
	}
	complete := hasAccess && hasRefresh && hasUser
	if complete && !store.isExpired(accessToken) {
		state := State{Authenticated: true, User: user}
		store.mutex.Lock()
		listeners := store.snapshotListeners()
		store.mutex.Unlock()
		notify(listeners, state)
		return state, nil
	}
	store.logger.Info("discarding stored session",
		zap.String("code", "token_store.load.discarded"),
		zap.Bool("complete", complete),
	)
	if clearErr := store.ClearAuthData(ctx); clearErr != nil {
		return State{}, fmt.Errorf("token_store.load: %w", clearErr)
	}
	return State{}, nil
}

func (store *Store) read(ctx context.Context, key string) (string, bool) {
	value, found, err := store.storage.Get(ctx, key)
	if err != nil {
		store.logger.Warn("storage read failed", zap.String("code", "token_store.read"), zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !found || value == "" {
		return "", false
	}
	return value, true
}

func (store *Store) snapshotListeners() []func(State) {
	return append([]func(State){}, store.listeners...)
}

func notify(listeners []func(State), state State) {
	for _, listener := range listeners {
		listener(state)
	}
}
