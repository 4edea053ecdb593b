package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/fclairamb/pagehub/internal/apperrors"
)

// Backend names a Store implementation.
type Backend string

const (
	// BackendLocal stores JSON files in a directory, optionally under git.
	BackendLocal Backend = "local"
	// BackendPebble stores values in a Pebble database.
	BackendPebble Backend = "pebble"
	// BackendSQLite stores values in a SQLite table.
	BackendSQLite Backend = "sqlite"
	// BackendPostgres stores values in a PostgreSQL table.
	BackendPostgres Backend = "postgres"
	// BackendRedis stores values in Redis.
	BackendRedis Backend = "redis"
	// BackendMemory keeps values in process memory.
	BackendMemory Backend = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend       Backend
	Dir           string // Data directory (local, pebble, sqlite)
	DSN           string // PostgreSQL connection string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Git           *GitConfig
	Logger        *slog.Logger
}

// Open creates the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend := Backend(strings.ToLower(string(opts.Backend)))
	if backend == "" {
		backend = BackendLocal
	}

	logger.DebugContext(ctx, "opening store", "backend", backend, "dir", opts.Dir)

	switch backend {
	case BackendLocal:
		if opts.Dir == "" {
			return nil, fmt.Errorf("%w: dir", apperrors.ErrStorageOptionRequired)
		}
		return NewLocalStore(opts.Dir, WithLogger(logger), WithGitConfig(opts.Git))
	case BackendPebble:
		if opts.Dir == "" {
			return nil, fmt.Errorf("%w: dir", apperrors.ErrStorageOptionRequired)
		}
		return NewPebbleStore(filepath.Join(opts.Dir, "pebble"), logger)
	case BackendSQLite:
		if opts.Dir == "" {
			return nil, fmt.Errorf("%w: dir", apperrors.ErrStorageOptionRequired)
		}
		if err := os.MkdirAll(opts.Dir, dirPerm); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(opts.Dir, "pagehub.db"), logger)
	case BackendPostgres:
		return NewPostgresStore(opts.DSN, logger)
	case BackendRedis:
		return NewRedisStore(ctx, &redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}, logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownStorage, opts.Backend)
	}
}
