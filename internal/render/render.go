// Package render picks how the selected page is displayed.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/fclairamb/pagehub/internal/page"
)

// Kind is the rendering mode of a view.
type Kind int

const (
	// NotFound means no page matches the selection.
	NotFound Kind = iota
	// Sandboxed means uploaded HTML shown in an isolated iframe.
	Sandboxed
	// Inline means content injected into the host document.
	Inline
)

func (k Kind) String() string {
	switch k {
	case Sandboxed:
		return "sandboxed"
	case Inline:
		return "inline"
	default:
		return "not_found"
	}
}

// SandboxPolicy is the iframe sandbox attribute for uploaded documents.
// Scripts run, but without same-origin access or top-level navigation.
const SandboxPolicy = "allow-scripts"

// NotFoundTitle is shown when the selection matches no page.
const NotFoundTitle = "Page not found"

// View is the content panel for one page.
type View struct {
	Kind  Kind
	ID    string
	Title string
	// Body is set for Inline views.
	Body template.HTML
	// SrcDoc is set for Sandboxed views; html/template escapes it into the
	// srcdoc attribute.
	SrcDoc string
	// Favorite mirrors the page flag.
	Favorite bool
}

// Renderer turns pages into views.
type Renderer struct {
	unsafe   bool
	markdown bool
	md       goldmark.Markdown
	policy   *bluemonday.Policy
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithUnsafe injects inline content without sanitizing it.
func WithUnsafe(unsafe bool) Option {
	return func(r *Renderer) {
		r.unsafe = unsafe
	}
}

// WithMarkdown converts inline content from markdown before display.
func WithMarkdown(enabled bool) Option {
	return func(r *Renderer) {
		r.markdown = enabled
	}
}

// New creates a renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			// Raw HTML passes through; sanitizing happens afterwards.
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		policy: bluemonday.UGCPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render returns the view for the page selected by current.
func (r *Renderer) Render(pages []page.Page, current string) (View, error) {
	i := page.Index(pages, current)
	if i < 0 {
		return View{Kind: NotFound, ID: current, Title: NotFoundTitle}, nil
	}
	p := pages[i]

	if p.IsHTMLFile {
		return View{Kind: Sandboxed, ID: p.ID, Title: p.Title, SrcDoc: p.Content, Favorite: p.Favorite}, nil
	}

	body, err := r.Inline(p.Content)
	if err != nil {
		return View{}, fmt.Errorf("render %q: %w", p.ID, err)
	}
	return View{Kind: Inline, ID: p.ID, Title: p.Title, Body: body, Favorite: p.Favorite}, nil
}

// Inline converts inline page content into markup for the host document.
func (r *Renderer) Inline(content string) (template.HTML, error) {
	out := []byte(content)

	if r.markdown {
		var buf bytes.Buffer
		if err := r.md.Convert(out, &buf); err != nil {
			return "", fmt.Errorf("markdown: %w", err)
		}
		out = buf.Bytes()
	}

	if !r.unsafe {
		out = r.policy.SanitizeBytes(out)
	}

	//nolint:gosec // content is sanitized unless explicitly configured otherwise
	return template.HTML(out), nil
}
