// Package store provides the key-value backends the page collection is persisted in,
// and the Collection adapter that maps the collection onto one key.
package store

import (
	"context"
)

// DefaultKey is the key the page collection is stored under.
const DefaultKey = "pages"

// Store abstracts a synchronous, persistent key-value store.
type Store interface {
	// Get returns the value stored under key, or apperrors.ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites the value stored under key.
	Set(ctx context.Context, key string, value []byte) error
	// Close releases the resources held by the store.
	Close() error
}
