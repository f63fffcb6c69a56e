package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces storage keys in a shared Redis.
const DefaultRedisPrefix = "storefront:"

// RedisStorage keeps entries in Redis. Multi-key writes run in MULTI/EXEC.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage wraps an existing client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

// NewRedisStorageFromURL dials redis:// or rediss:// and verifies the connection.
func NewRedisStorageFromURL(ctx context.Context, redisURL string) (*RedisStorage, error) {
	options, parseErr := redis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("storage.redis.parse_url: %w", parseErr)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage.redis.ping: %w", pingErr)
	}
	return NewRedisStorage(client, ""), nil
}

func (storage *RedisStorage) key(name string) string {
	return storage.prefix + name
}

// Get returns the value stored under key.
func (storage *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := storage.client.Get(ctx, storage.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage.redis.get: %w", err)
	}
	return value, true, nil
}

// SetMany writes every value in one transaction.
func (storage *RedisStorage) SetMany(ctx context.Context, values map[string]string) error {
	for key := range values {
		if key == "" {
			return fmt.Errorf("storage.redis.set: %w", errEmptyStorageKey)
		}
	}
	_, err := storage.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range values {
			pipe.Set(ctx, storage.key(key), value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage.redis.set: %w", err)
	}
	return nil
}

// RemoveMany deletes every key in one command.
func (storage *RedisStorage) RemoveMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, storage.key(key))
	}
	if err := storage.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("storage.redis.remove: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (storage *RedisStorage) Close() error {
	return storage.client.Close()
}
