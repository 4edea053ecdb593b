package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fclairamb/pagehub/internal/apperrors"
	"github.com/fclairamb/pagehub/internal/page"
	"github.com/fclairamb/pagehub/internal/store"
)

// ExportFilename is the suggested name of an exported document.
const ExportFilename = "personal_hub_data.json"

// Document is the export/import file format.
type Document struct {
	Pages []page.Page `json:"pages"`
}

// importDocument distinguishes a missing or null pages field from an empty one.
type importDocument struct {
	Pages *[]page.Page `json:"pages"`
}

// Export writes the collection as {"pages":[...]} to w.
func (h *Hub) Export(w io.Writer) error {
	data, err := store.EncodeJSON(Document{Pages: h.Pages()})
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Import replaces the whole collection with the pages of the document read
// from r. The document must hold a pages array whose ids are non-empty and
// unique. On any failure the collection and the selection are unchanged.
// The selection is never reset by an import.
func (h *Hub) Import(ctx context.Context, r io.Reader) error {
	data, err := page.ReadAll(ctx, r)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrReadFailed, err)
	}

	pages, err := parseDocument(data)
	if err != nil {
		h.logger.WarnContext(ctx, "rejected import", "error", err)
		return err
	}

	h.mu.Lock()
	if err := h.commitLocked(ctx, pages); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "pages imported", "count", len(pages))
	h.notify()
	return nil
}

// parseDocument decodes and validates an import document.
func parseDocument(data []byte) ([]page.Page, error) {
	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidImport, err)
	}
	if doc.Pages == nil {
		return nil, fmt.Errorf("%w: missing pages field", apperrors.ErrInvalidImport)
	}

	pages := page.Clone(*doc.Pages)
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(pages))
	for i, p := range pages {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: page %d has no id", apperrors.ErrInvalidImport, i)
		}
		if !seen.Add(p.ID) {
			return nil, fmt.Errorf("%w: duplicate page id %q", apperrors.ErrInvalidImport, p.ID)
		}
	}

	return pages, nil
}
