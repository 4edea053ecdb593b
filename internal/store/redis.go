package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/fclairamb/pagehub/internal/apperrors"
)

// RedisStore implements Store on a Redis server. Values never expire.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis and checks the connection.
func NewRedisStore(ctx context.Context, opts *redis.Options, l *slog.Logger) (*RedisStore, error) {
	if opts == nil || opts.Addr == "" {
		return nil, fmt.Errorf("%w: redis_addr", apperrors.ErrStorageOptionRequired)
	}
	if l == nil {
		l = slog.Default()
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	l.DebugContext(ctx, "connected to redis", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client, logger: l}, nil
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.DebugContext(ctx, "key does not exist", "key", key)
		return nil, apperrors.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set writes value under key without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "wrote key", "key", key, "size", len(value))
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
