package page

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fclairamb/pagehub/internal/apperrors"
)

// Draft holds the values of the add/edit form before they become a Page.
type Draft struct {
	Title   string
	Content string
	File    io.Reader // Optional uploaded HTML document; takes precedence over Content
}

// Build turns the draft into a Page. When editing is non-nil the page keeps
// the id and favorite flag of the page being edited.
//
// The file, if any, is read completely before the page is produced; a failed
// read returns an error wrapping apperrors.ErrReadFailed and no page.
func (d Draft) Build(ctx context.Context, editing *Page) (Page, error) {
	if d.Title == "" {
		return Page{}, apperrors.ErrTitleRequired
	}
	if d.Content == "" && d.File == nil {
		return Page{}, apperrors.ErrContentRequired
	}

	content := d.Content
	isHTMLFile := false

	if d.File != nil {
		data, err := ReadAll(ctx, d.File)
		if err != nil {
			return Page{}, fmt.Errorf("%w: %w", apperrors.ErrReadFailed, err)
		}
		content = string(data)
		isHTMLFile = true
	} else if editing != nil && editing.IsHTMLFile && sameText(editing.Content, content) {
		// Re-saving an uploaded page unchanged keeps it sandboxed, byte for byte.
		content = editing.Content
		isHTMLFile = true
	}

	p := Page{
		ID:         Slug(d.Title),
		Title:      d.Title,
		Content:    content,
		IsHTMLFile: isHTMLFile,
	}
	if editing != nil {
		p.ID = editing.ID
		p.Favorite = editing.Favorite
	}

	return p, nil
}

// ReadAll reads r to EOF. A canceled ctx aborts the read before or after it.
func ReadAll(ctx context.Context, r io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return data, nil
}

// sameText compares two texts the way a browser round-trips a textarea:
// line endings become CRLF and a leading newline is dropped.
func sameText(stored, submitted string) bool {
	normalize := func(s string) string {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
		return strings.TrimPrefix(s, "\n")
	}
	return normalize(stored) == normalize(submitted)
}
