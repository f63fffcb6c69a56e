package mockbackend

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const refreshOpaqueByteLength = 32

var (
	// ErrRefreshTokenNotFound indicates no refresh token matched the provided value.
	ErrRefreshTokenNotFound = errors.New("refresh_store.not_found")
	// ErrRefreshTokenRevoked indicates the refresh token has been revoked.
	ErrRefreshTokenRevoked = errors.New("refresh_store.revoked")
	// ErrRefreshTokenExpired indicates the refresh token has exceeded its expiry.
	ErrRefreshTokenExpired = errors.New("refresh_store.expired")
	// ErrRefreshTokenEmptyOpaque indicates that the provided opaque token text is empty.
	ErrRefreshTokenEmptyOpaque = errors.New("refresh_store.empty_token")
)

// RefreshTokenStore keeps opaque refresh tokens in memory, indexed by hash.
type RefreshTokenStore struct {
	clock  Clock
	mutex  sync.Mutex
	byID   map[string]*refreshRecord
	byHash map[string]string
}

type refreshRecord struct {
	TokenID       string
	UserID        int64
	ExpiresUnix   int64
	RevokedAtUnix int64
	IssuedAtUnix  int64
}

// NewRefreshTokenStore creates an empty store.
func NewRefreshTokenStore(clock Clock) *RefreshTokenStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &RefreshTokenStore{
		clock:  clock,
		byID:   make(map[string]*refreshRecord),
		byHash: make(map[string]string),
	}
}

// Issue creates a new token for userID and returns its id and opaque value.
func (store *RefreshTokenStore) Issue(ctx context.Context, userID int64, ttl time.Duration) (string, string, error) {
	opaque, hashValue, err := generateRefreshOpaque()
	if err != nil {
		return "", "", err
	}
	now := store.clock.Now()

	store.mutex.Lock()
	defer store.mutex.Unlock()
	tokenID := uuid.NewString()
	store.byID[tokenID] = &refreshRecord{
		TokenID:      tokenID,
		UserID:       userID,
		ExpiresUnix:  now.Add(ttl).Unix(),
		IssuedAtUnix: now.Unix(),
	}
	store.byHash[hashValue] = tokenID
	return tokenID, opaque, nil
}

// Validate checks the opaque token and returns its user and token id.
func (store *RefreshTokenStore) Validate(ctx context.Context, tokenOpaque string) (int64, string, error) {
	if strings.TrimSpace(tokenOpaque) == "" {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenEmptyOpaque)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	tokenID, ok := store.byHash[hashOpaque(tokenOpaque)]
	if !ok {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenNotFound)
	}
	record := store.byID[tokenID]
	if record == nil {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenNotFound)
	}
	if record.RevokedAtUnix != 0 {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenRevoked)
	}
	if !time.Unix(record.ExpiresUnix, 0).After(store.clock.Now()) {
		return 0, "", fmt.Errorf("refresh_store.validate: %w", ErrRefreshTokenExpired)
	}
	return record.UserID, record.TokenID, nil
}

// RevokeUser revokes every live token of userID and reports how many were revoked.
func (store *RefreshTokenStore) RevokeUser(ctx context.Context, userID int64) int {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	revokedAt := store.clock.Now().Unix()
	revoked := 0
	for _, record := range store.byID {
		if record.UserID != userID || record.RevokedAtUnix != 0 {
			continue
		}
		record.RevokedAtUnix = revokedAt
		revoked++
	}
	return revoked
}

func generateRefreshOpaque() (string, string, error) {
	randomBytes := make([]byte, refreshOpaqueByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("refresh_store.random: %w", err)
	}
	opaque := base64.RawURLEncoding.EncodeToString(randomBytes)
	return opaque, hashOpaque(opaque), nil
}

func hashOpaque(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
