package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fclairamb/pagehub/internal/apperrors"
	"github.com/fclairamb/pagehub/internal/page"
)

// Collection persists the whole page collection as one JSON array under a
// single key. Every Save rewrites the entire collection.
type Collection struct {
	kv     Store
	key    string
	logger *slog.Logger
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithKey overrides the key the collection is stored under.
func WithKey(key string) CollectionOption {
	return func(c *Collection) {
		if key != "" {
			c.key = key
		}
	}
}

// WithCollectionLogger sets a custom logger for the collection.
func WithCollectionLogger(l *slog.Logger) CollectionOption {
	return func(c *Collection) {
		c.logger = l
	}
}

// NewCollection creates a collection adapter over kv.
func NewCollection(kv Store, opts ...CollectionOption) *Collection {
	c := &Collection{
		kv:     kv,
		key:    DefaultKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the key the collection is stored under.
func (c *Collection) Key() string {
	return c.key
}

// Load returns the persisted collection. A missing key yields an empty
// collection; a value that is not a JSON array of pages yields an error
// wrapping apperrors.ErrCorruptCollection.
func (c *Collection) Load(ctx context.Context) ([]page.Page, error) {
	data, err := c.kv.Get(ctx, c.key)
	if errors.Is(err, apperrors.ErrKeyNotFound) {
		c.logger.DebugContext(ctx, "no stored collection", "key", c.key)
		return []page.Page{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.key, err)
	}

	var pages []page.Page
	if err := json.Unmarshal(data, &pages); err != nil {
		c.logger.WarnContext(ctx, "stored collection is not valid JSON", "key", c.key, "error", err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCorruptCollection, err)
	}

	c.logger.DebugContext(ctx, "loaded collection", "key", c.key, "count", len(pages))
	return page.Clone(pages), nil
}

// Save serializes the full collection and overwrites the stored value.
func (c *Collection) Save(ctx context.Context, pages []page.Page) error {
	data, err := EncodeJSON(page.Clone(pages))
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key, err)
	}

	if err := c.kv.Set(ctx, c.key, data); err != nil {
		return fmt.Errorf("save %s: %w", c.key, err)
	}

	c.logger.DebugContext(ctx, "saved collection", "key", c.key, "count", len(pages), "size", len(data))
	return nil
}

// EncodeJSON encodes v as compact JSON without HTML escaping, so stored
// markup stays readable.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
