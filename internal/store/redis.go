package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of Redis. Value keys map to Redis
// strings and list keys to Redis lists, so ledger appends are atomic on
// the server side.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(host string, port int, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Get retrieves a value key, returning "" when the key is absent
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil // Miss
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return value, nil
}

// Set writes a value key
func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key of any kind
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Append appends an entry to a list key, creating it if absent
func (s *RedisStore) Append(ctx context.Context, key string, value string) error {
	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("failed to append to key %s: %w", key, err)
	}
	return nil
}

// Range returns all entries of a list key in append order
func (s *RedisStore) Range(ctx context.Context, key string) ([]string, error) {
	entries, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}
	return entries, nil
}

// Keys returns all keys with the given prefix
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys with prefix %s: %w", prefix, err)
	}

	return keys, nil
}

// KindOf reports how the given key is stored
func (s *RedisStore) KindOf(ctx context.Context, key string) (Kind, error) {
	keyType, err := s.client.Type(ctx, key).Result()
	if err != nil {
		return KindNone, fmt.Errorf("failed to get type of key %s: %w", key, err)
	}

	switch keyType {
	case "string":
		return KindValue, nil
	case "list":
		return KindList, nil
	case "none":
		return KindNone, nil
	default:
		return KindNone, fmt.Errorf("unsupported key type %s for key %s", keyType, key)
	}
}

// Ping verifies the Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
