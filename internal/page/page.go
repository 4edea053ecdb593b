// Package page defines the Page record and the rules for building one from user input.
package page

import (
	"strings"
	"unicode"
)

// HomeID is the id of the seed page that selection falls back to.
const HomeID = "home"

// Page is a single named unit of content.
type Page struct {
	ID         string `json:"id"`                   // Stable identifier, derived from the title at creation
	Title      string `json:"title"`                // Display title
	Content    string `json:"content"`              // Authored markup or the full text of an uploaded file
	Favorite   bool   `json:"favorite"`             // Listed under favorites
	IsHTMLFile bool   `json:"isHtmlFile,omitempty"` // Content came from an uploaded HTML document
}

// Defaults returns the pages a fresh collection is seeded with.
func Defaults() []Page {
	return []Page{
		{ID: HomeID, Title: "Home", Content: "Welcome to my personal website!"},
		{ID: "about", Title: "About", Content: "This is the about page."},
		{ID: "projects", Title: "Projects", Content: "Here are my projects."},
	}
}

// Slug derives a page id from a title: the title is lowercased and every run
// of whitespace becomes a single hyphen.
func Slug(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	inSpace := false
	for _, r := range strings.ToLower(title) {
		if isSlugSpace(r) {
			if !inSpace {
				b.WriteByte('-')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}

	return b.String()
}

// isSlugSpace reports whether r separates words in a title: the Unicode
// white space set, plus the byte order mark, minus NEL (U+0085).
func isSlugSpace(r rune) bool {
	switch r {
	case '\uFEFF':
		return true
	case '\u0085':
		return false
	}
	return unicode.IsSpace(r)
}

// Index returns the position of the first page with the given id, or -1.
func Index(pages []Page, id string) int {
	for i := range pages {
		if pages[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy of pages that never aliases the input. A nil or empty
// input yields an empty, non-nil slice so it serializes as [].
func Clone(pages []Page) []Page {
	out := make([]Page, len(pages))
	copy(out, pages)
	return out
}
