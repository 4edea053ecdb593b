package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/fclairamb/pagehub/internal/apperrors"
)

// kvEntry is one row of the key-value table.
type kvEntry struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     []byte
	UpdatedAt time.Time
}

// TableName pins the table name.
func (kvEntry) TableName() string {
	return "kv_entries"
}

// SQLStore implements Store on a single SQL table through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSQLiteStore opens the SQLite database file at path.
func NewSQLiteStore(path string, l *slog.Logger) (*SQLStore, error) {
	return newSQLStore(sqlite.Open(path), "sqlite", l)
}

// NewPostgresStore connects to the PostgreSQL database described by dsn.
func NewPostgresStore(dsn string, l *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: dsn", apperrors.ErrStorageOptionRequired)
	}
	return newSQLStore(postgres.Open(dsn), "postgres", l)
}

func newSQLStore(dialector gorm.Dialector, name string, l *slog.Logger) (*SQLStore, error) {
	if l == nil {
		l = slog.Default()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", name, err)
	}

	l.Debug("opened sql store", "driver", name)
	return &SQLStore{db: db, logger: l}, nil
}

// Get returns the value stored under key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).Where(&kvEntry{Key: key}).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.DebugContext(ctx, "key does not exist", "key", key)
		return nil, apperrors.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return entry.Value, nil
}

// Set inserts or replaces the row for key.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	entry := kvEntry{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	s.logger.DebugContext(ctx, "wrote key", "key", key, "size", len(value))
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
