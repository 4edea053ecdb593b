package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"

	"github.com/fclairamb/pagehub/internal/apperrors"
)

// PebbleStore implements Store on a Pebble database directory.
// Writes are synced before Set returns.
type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
}

// NewPebbleStore opens (creating if needed) the Pebble database at dir.
func NewPebbleStore(dir string, logger *slog.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}

	logger.Debug("opened pebble store", "dir", dir)
	return &PebbleStore{db: db, logger: logger}, nil
}

// Get returns the value stored under key.
func (s *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		s.logger.DebugContext(ctx, "key does not exist", "key", key)
		return nil, apperrors.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer func() { _ = closer.Close() }()

	// val is only valid until closer is closed.
	return append([]byte(nil), val...), nil
}

// Set writes value under key with a synced write.
func (s *PebbleStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "wrote key", "key", key, "size", len(value))
	return nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
