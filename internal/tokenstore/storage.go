package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrUnsupportedScheme indicates that no storage backend handles the URL scheme.
	ErrUnsupportedScheme = errors.New("storage.unsupported_scheme")

	errEmptyStorageKey = errors.New("storage.empty_key")
)

// Storage is the durable key-value collaborator behind the Store. SetMany and
// RemoveMany apply all keys or none.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetMany(ctx context.Context, values map[string]string) error
	RemoveMany(ctx context.Context, keys ...string) error
	Close() error
}

// OpenStorage selects a backend by URL scheme: memory://, sqlite://,
// postgres://, redis:// or rediss://. An empty URL yields memory storage.
func OpenStorage(ctx context.Context, storageURL string) (Storage, error) {
	trimmed := strings.TrimSpace(storageURL)
	if trimmed == "" {
		return NewMemoryStorage(), nil
	}
	parsed, parseErr := url.Parse(trimmed)
	if parseErr != nil {
		return nil, fmt.Errorf("storage.parse_url: %w", parseErr)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite", "sqlite3", "postgres", "postgresql":
		return NewDatabaseStorage(ctx, trimmed)
	case "redis", "rediss":
		return NewRedisStorageFromURL(ctx, trimmed)
	case "":
		return nil, fmt.Errorf("storage.open: %w", errUnsupportedNoScheme)
	default:
		return nil, fmt.Errorf("storage.open.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedScheme)
	}
}

// MemoryStorage keeps values in process memory.
type MemoryStorage struct {
	mutex  sync.RWMutex
	values map[string]string
}

// NewMemoryStorage constructs an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (storage *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	storage.mutex.RLock()
	defer storage.mutex.RUnlock()
	value, found := storage.values[key]
	return value, found, nil
}

// SetMany stores every value under one lock.
func (storage *MemoryStorage) SetMany(ctx context.Context, values map[string]string) error {
	for key := range values {
		if key == "" {
			return fmt.Errorf("storage.memory.set: %w", errEmptyStorageKey)
		}
	}
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	for key, value := range values {
		storage.values[key] = value
	}
	return nil
}

// RemoveMany deletes every key under one lock.
func (storage *MemoryStorage) RemoveMany(ctx context.Context, keys ...string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	for _, key := range keys {
		delete(storage.values, key)
	}
	return nil
}

// Close is a no-op.
func (storage *MemoryStorage) Close() error {
	return nil
}
