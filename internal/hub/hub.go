// Package hub implements the page store: the ordered page collection, the
// current selection, and the operations that mutate them. Every mutation is
// written through to storage before it becomes visible.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/fclairamb/pagehub/internal/apperrors"
	"github.com/fclairamb/pagehub/internal/page"
)

// Storage persists the whole page collection.
type Storage interface {
	Load(ctx context.Context) ([]page.Page, error)
	Save(ctx context.Context, pages []page.Page) error
}

// Hub holds the page collection and the selected page id.
type Hub struct {
	mu       sync.RWMutex
	storage  Storage
	pages    []page.Page
	current  string
	logger   *slog.Logger
	onChange []func()
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets a custom logger for the hub.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithOnChange registers fn to run after every successful mutation.
// Listeners run outside the hub's lock and may call back into it.
func WithOnChange(fn func()) Option {
	return func(h *Hub) {
		h.onChange = append(h.onChange, fn)
	}
}

// New creates a hub over storage. Call Init before use.
func New(storage Storage, opts ...Option) *Hub {
	h := &Hub{
		storage: storage,
		pages:   []page.Page{},
		current: page.HomeID,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Init loads the persisted collection. An empty or absent collection is
// seeded with the default pages, which are persisted immediately.
func (h *Hub) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	pages, err := h.storage.Load(ctx)
	if err != nil {
		return fmt.Errorf("load pages: %w", err)
	}

	if len(pages) == 0 {
		defaults := page.Defaults()
		if err := h.storage.Save(ctx, defaults); err != nil {
			return fmt.Errorf("seed default pages: %w", err)
		}
		h.logger.InfoContext(ctx, "seeded default pages", "count", len(defaults))
		h.pages = defaults
		return nil
	}

	h.logger.DebugContext(ctx, "loaded pages", "count", len(pages))
	h.pages = pages
	return nil
}

// Reload re-reads the persisted collection without seeding. It is used when
// the storage was changed by someone else. Listeners only run when the
// collection actually changed.
func (h *Hub) Reload(ctx context.Context) error {
	h.mu.Lock()
	pages, err := h.storage.Load(ctx)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("reload pages: %w", err)
	}
	changed := !slices.Equal(h.pages, pages)
	h.pages = pages
	h.mu.Unlock()

	if !changed {
		return nil
	}
	h.logger.InfoContext(ctx, "reloaded pages", "count", len(pages))
	h.notify()
	return nil
}

// Pages returns a copy of the collection in order.
func (h *Hub) Pages() []page.Page {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return page.Clone(h.pages)
}

// Snapshot returns a copy of the collection together with the selection,
// taken atomically.
func (h *Hub) Snapshot() ([]page.Page, string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return page.Clone(h.pages), h.current
}

// Find returns the first page with the given id.
func (h *Hub) Find(id string) (page.Page, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if i := page.Index(h.pages, id); i >= 0 {
		return h.pages[i], true
	}
	return page.Page{}, false
}

// Current returns the selected page id. The id may not exist.
func (h *Hub) Current() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Select changes the selected page id. Unknown ids are accepted and render
// as "not found".
func (h *Hub) Select(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = id
}

// AddOrUpdate appends p, or, when editing, replaces the page with p.ID in
// place. Adding an id that already exists fails with ErrDuplicatePageID;
// editing an absent id fails with ErrPageNotFound.
func (h *Hub) AddOrUpdate(ctx context.Context, p page.Page, editing bool) error {
	if p.Title == "" {
		return apperrors.ErrTitleRequired
	}
	if p.ID == "" {
		return apperrors.ErrPageIDRequired
	}

	h.mu.Lock()

	var next []page.Page
	if editing {
		if page.Index(h.pages, p.ID) < 0 {
			h.mu.Unlock()
			return fmt.Errorf("edit %q: %w", p.ID, apperrors.ErrPageNotFound)
		}
		next = page.Clone(h.pages)
		for i := range next {
			if next[i].ID == p.ID {
				next[i] = p
			}
		}
	} else {
		if page.Index(h.pages, p.ID) >= 0 {
			h.mu.Unlock()
			return fmt.Errorf("add %q: %w", p.ID, apperrors.ErrDuplicatePageID)
		}
		next = append(page.Clone(h.pages), p)
	}

	if err := h.commitLocked(ctx, next); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "page saved", "id", p.ID, "editing", editing, "html_file", p.IsHTMLFile)
	h.notify()
	return nil
}

// Submit builds a page from the form draft and saves it. editingID selects
// the page being edited; empty means add. The draft's file is read before
// anything is mutated, so a failed read leaves the collection unchanged.
func (h *Hub) Submit(ctx context.Context, draft page.Draft, editingID string) (page.Page, error) {
	var editing *page.Page
	if editingID != "" {
		existing, ok := h.Find(editingID)
		if !ok {
			return page.Page{}, fmt.Errorf("edit %q: %w", editingID, apperrors.ErrPageNotFound)
		}
		editing = &existing
	}

	p, err := draft.Build(ctx, editing)
	if err != nil {
		return page.Page{}, err
	}

	if err := h.AddOrUpdate(ctx, p, editing != nil); err != nil {
		return page.Page{}, err
	}
	return p, nil
}

// Delete removes every page with the given id. When the deleted id is the
// current selection, the selection returns to the home page whether or not
// it still exists. Deleting an absent id changes nothing.
func (h *Hub) Delete(ctx context.Context, id string) error {
	h.mu.Lock()

	next := make([]page.Page, 0, len(h.pages))
	for _, p := range h.pages {
		if p.ID != id {
			next = append(next, p)
		}
	}

	removed := len(next) != len(h.pages)
	if removed {
		if err := h.commitLocked(ctx, next); err != nil {
			h.mu.Unlock()
			return err
		}
	}

	if h.current == id {
		h.current = page.HomeID
	}
	h.mu.Unlock()

	if removed {
		h.logger.InfoContext(ctx, "page deleted", "id", id)
		h.notify()
	}
	return nil
}

// ToggleFavorite flips the favorite flag of the page with the given id and
// returns the updated page.
func (h *Hub) ToggleFavorite(ctx context.Context, id string) (page.Page, error) {
	h.mu.Lock()

	if page.Index(h.pages, id) < 0 {
		h.mu.Unlock()
		return page.Page{}, fmt.Errorf("favorite %q: %w", id, apperrors.ErrPageNotFound)
	}

	next := page.Clone(h.pages)
	var updated page.Page
	for i := range next {
		if next[i].ID == id {
			next[i].Favorite = !next[i].Favorite
			updated = next[i]
		}
	}

	if err := h.commitLocked(ctx, next); err != nil {
		h.mu.Unlock()
		return page.Page{}, err
	}
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "page favorite toggled", "id", id, "favorite", updated.Favorite)
	h.notify()
	return updated, nil
}

// Nav is the navigation list: matching favorites and the remaining matching
// pages, both in collection order.
type Nav struct {
	Favorites []page.Page
	Others    []page.Page
}

// Navigation filters the collection by a case-insensitive title substring
// and splits it into favorites and the rest.
func (h *Hub) Navigation(query string) Nav {
	h.mu.RLock()
	defer h.mu.RUnlock()

	needle := strings.ToLower(query)
	nav := Nav{Favorites: []page.Page{}, Others: []page.Page{}}
	for _, p := range h.pages {
		if !strings.Contains(strings.ToLower(p.Title), needle) {
			continue
		}
		if p.Favorite {
			nav.Favorites = append(nav.Favorites, p)
		} else {
			nav.Others = append(nav.Others, p)
		}
	}
	return nav
}

// commitLocked persists next and, on success, makes it the in-memory
// collection. The caller holds h.mu.
func (h *Hub) commitLocked(ctx context.Context, next []page.Page) error {
	if err := h.storage.Save(ctx, next); err != nil {
		h.logger.ErrorContext(ctx, "failed to persist pages", "error", err)
		return fmt.Errorf("persist pages: %w", err)
	}
	h.pages = next
	return nil
}

func (h *Hub) notify() {
	for _, fn := range h.onChange {
		fn()
	}
}
