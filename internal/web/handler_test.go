package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fclairamb/pagehub/internal/hub"
	"github.com/fclairamb/pagehub/internal/page"
	"github.com/fclairamb/pagehub/internal/render"
	"github.com/fclairamb/pagehub/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// createTestServer returns a server over a seeded in-memory hub.
func createTestServer(t *testing.T, opts ...ServerOption) (*Server, *hub.Hub) {
	t.Helper()
	return createTestServerWithHub(t, nil, opts...)
}

func createTestServerWithHub(t *testing.T, hubOpts []hub.Option, opts ...ServerOption) (*Server, *hub.Hub) {
	t.Helper()

	logger := discardLogger()
	pages := hub.New(store.NewCollection(store.NewMemoryStore()), append([]hub.Option{hub.WithLogger(logger)}, hubOpts...)...)
	if err := pages.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	cfg := &ServerConfig{Port: DefaultPort}
	return NewServer(cfg, pages, render.New(), logger, opts...), pages
}

func do(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func postForm(t *testing.T, srv *Server, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(t, srv, req)
}

// postMultipart sends fields plus an optional "file" part.
func postMultipart(t *testing.T, srv *Server, path string, fields map[string]string, file string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if file != "" {
		fw, err := mw.CreateFormFile("file", "upload")
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		if _, err := io.WriteString(fw, file); err != nil {
			t.Fatalf("write file part failed: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(t, srv, req)
}

func assertRedirectHome(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()
	srv, _ := createTestServer(t)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Welcome to my personal website!", `href="/pages/about"`, `href="/pages/projects"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in body", want)
		}
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/about", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if pages.Current() != "about" {
		t.Errorf("expected selection about, got %q", pages.Current())
	}
	if !strings.Contains(rec.Body.String(), "This is the about page.") {
		t.Error("expected about content")
	}
}

func TestSelect_Unknown(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/ghost", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), render.NotFoundTitle) {
		t.Error("expected not found placeholder")
	}
	if pages.Current() != "ghost" {
		t.Errorf("unknown selection must be kept, got %q", pages.Current())
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	srv, _ := createTestServer(t)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/?q=PROJ", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `href="/pages/projects"`) {
		t.Error("expected projects in filtered navigation")
	}
	if strings.Contains(body, `href="/pages/about"`) {
		t.Error("about should be filtered out")
	}
}

func TestAddPage(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	rec := postForm(t, srv, "/pages", url.Values{"title": {"Contact"}, "content": {"<p>Hi</p>"}})
	assertRedirectHome(t, rec)

	all := pages.Pages()
	want := page.Page{ID: "contact", Title: "Contact", Content: "<p>Hi</p>"}
	if len(all) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(all))
	}
	if diff := cmp.Diff(want, all[3]); diff != "" {
		t.Errorf("unexpected page (-want +got):\n%s", diff)
	}
}

func TestAddPage_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values url.Values
		status int
		alert  string
	}{
		{"missing title", url.Values{"content": {"x"}}, http.StatusBadRequest, "page title required"},
		{"missing content", url.Values{"title": {"Empty"}}, http.StatusBadRequest, "page content or HTML file required"},
		{"duplicate id", url.Values{"title": {"About"}, "content": {"x"}}, http.StatusConflict, "a page with this ID already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, pages := createTestServer(t)

			rec := postForm(t, srv, "/pages", tt.values)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, `role="alert"`) || !strings.Contains(body, tt.alert) {
				t.Errorf("expected alert %q in body", tt.alert)
			}
			if len(pages.Pages()) != 3 {
				t.Error("rejected submission must not change the collection")
			}
		})
	}
}

func TestUploadHTMLFile(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	rec := postMultipart(t, srv, "/pages", map[string]string{"title": "Widget"}, "<b>w</b>")
	assertRedirectHome(t, rec)

	p, ok := pages.Find("widget")
	if !ok || !p.IsHTMLFile || p.Content != "<b>w</b>" {
		t.Fatalf("unexpected uploaded page: %+v", p)
	}

	rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/widget", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `sandbox="allow-scripts"`) {
		t.Error("expected sandboxed iframe")
	}
	if !strings.Contains(body, `srcdoc="&lt;b&gt;w&lt;/b&gt;"`) {
		t.Errorf("expected escaped srcdoc, got %s", body)
	}
}

func TestReservedCharacterIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title   string
		id      string
		escaped string
	}{
		{"What?", "what?", "what%3F"},
		{"A/B", "a/b", "a%2Fb"},
		{"Hash #1", "hash-#1", "hash-%231"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			t.Parallel()
			srv, pages := createTestServer(t)

			assertRedirectHome(t, postForm(t, srv, "/pages", url.Values{"title": {tt.title}, "content": {"body of " + tt.id}}))

			index := do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
			for _, action := range []string{"", "/edit", "/favorite", "/delete"} {
				if want := `"/pages/` + tt.escaped + action + `"`; !strings.Contains(index, want) {
					t.Errorf("expected link %s in index", want)
				}
			}

			rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/"+tt.escaped, nil))
			if rec.Code != http.StatusOK || pages.Current() != tt.id {
				t.Fatalf("select: status %d, selection %q", rec.Code, pages.Current())
			}
			if !strings.Contains(rec.Body.String(), "body of") {
				t.Error("expected the page content")
			}

			if rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/"+tt.escaped+"/edit", nil)); rec.Code != http.StatusOK ||
				!strings.Contains(rec.Body.String(), `action="/pages/`+tt.escaped+`"`) {
				t.Errorf("edit form: status %d", rec.Code)
			}

			assertRedirectHome(t, postForm(t, srv, "/pages/"+tt.escaped+"/favorite", nil))
			if p, _ := pages.Find(tt.id); !p.Favorite {
				t.Error("expected the page to be a favorite")
			}

			assertRedirectHome(t, postForm(t, srv, "/pages/"+tt.escaped+"/delete", nil))
			if _, ok := pages.Find(tt.id); ok || len(pages.Pages()) != 3 {
				t.Error("expected the page to be deleted")
			}
		})
	}
}

func TestPageTitledNew(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	assertRedirectHome(t, postForm(t, srv, "/pages", url.Values{"title": {"New"}, "content": {"fresh news"}}))

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/new", nil))
	if pages.Current() != "new" || !strings.Contains(rec.Body.String(), "fresh news") {
		t.Errorf("expected the page, got selection %q", pages.Current())
	}

	rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/new", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Add New Page") {
		t.Errorf("expected the add form, got %d", rec.Code)
	}
}

func TestEditUploadedPage_BrowserNewlines(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	doc := "<html>\n<body>\n<script>start()</script>\n</body>\n</html>\n"
	assertRedirectHome(t, postMultipart(t, srv, "/pages", map[string]string{"title": "Game"}, doc))

	// Browsers submit textarea values with CRLF line endings.
	crlf := strings.ReplaceAll(doc, "\n", "\r\n")
	assertRedirectHome(t, postForm(t, srv, "/pages/game", url.Values{"title": {"Game"}, "content": {crlf}}))

	p, _ := pages.Find("game")
	if !p.IsHTMLFile || p.Content != doc {
		t.Errorf("unchanged upload must stay sandboxed: %+v", p)
	}

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/game", nil))
	if !strings.Contains(rec.Body.String(), `sandbox="allow-scripts"`) {
		t.Error("expected sandboxed iframe after edit")
	}
}

func TestInlineContentIsSanitized(t *testing.T) {
	t.Parallel()
	srv, _ := createTestServer(t)

	postForm(t, srv, "/pages", url.Values{"title": {"Bad"}, "content": {`<p>ok</p><script>steal()</script>`}})
	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/bad", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "<p>ok</p>") {
		t.Error("expected inline markup")
	}
	if strings.Contains(body, "steal()") {
		t.Error("inline script must be stripped")
	}
}

func TestEditPage(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/about/edit", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "This is the about page.") {
		t.Fatalf("expected prefilled form, got %d", rec.Code)
	}

	rec = postForm(t, srv, "/pages/about", url.Values{"title": {"About Me"}, "content": {"updated"}})
	assertRedirectHome(t, rec)

	p, _ := pages.Find("about")
	if p.Title != "About Me" || p.Content != "updated" {
		t.Errorf("unexpected edited page: %+v", p)
	}
	if pages.Pages()[1].ID != "about" {
		t.Error("edit must keep the page position")
	}
}

func TestEditPage_Missing(t *testing.T) {
	t.Parallel()
	srv, _ := createTestServer(t)

	if rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/pages/ghost/edit", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for edit form, got %d", rec.Code)
	}
	if rec := postForm(t, srv, "/pages/ghost", url.Values{"title": {"G"}, "content": {"x"}}); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for edit, got %d", rec.Code)
	}
}

func TestFavoriteAndDelete(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	assertRedirectHome(t, postForm(t, srv, "/pages/projects/favorite", nil))
	if p, _ := pages.Find("projects"); !p.Favorite {
		t.Error("expected projects to be a favorite")
	}
	if !strings.Contains(do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String(), `id="favorites"`) {
		t.Error("expected favorites section")
	}

	if rec := postForm(t, srv, "/pages/ghost/favorite", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown favorite, got %d", rec.Code)
	}

	pages.Select("about")
	assertRedirectHome(t, postForm(t, srv, "/pages/about/delete", nil))
	if _, ok := pages.Find("about"); ok {
		t.Error("about should be deleted")
	}
	if pages.Current() != "home" {
		t.Errorf("expected selection reset to home, got %q", pages.Current())
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/export", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "personal_hub_data.json") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	var doc hub.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if diff := cmp.Diff(pages.Pages(), doc.Pages); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}
}

func TestImport(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	doc := `{"pages":[{"id":"x","title":"X","content":"c","favorite":true}]}`
	assertRedirectHome(t, postMultipart(t, srv, "/import", nil, doc))

	want := []page.Page{{ID: "x", Title: "X", Content: "c", Favorite: true}}
	if diff := cmp.Diff(want, pages.Pages()); diff != "" {
		t.Errorf("import mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		send func(t *testing.T, srv *Server) *httptest.ResponseRecorder
	}{
		{"bad json", func(t *testing.T, srv *Server) *httptest.ResponseRecorder {
			return postMultipart(t, srv, "/import", nil, "not json")
		}},
		{"no pages", func(t *testing.T, srv *Server) *httptest.ResponseRecorder {
			return postMultipart(t, srv, "/import", nil, `{"other":1}`)
		}},
		{"no file", func(t *testing.T, srv *Server) *httptest.ResponseRecorder {
			return postMultipart(t, srv, "/import", map[string]string{"x": "y"}, "")
		}},
		{"not multipart", func(t *testing.T, srv *Server) *httptest.ResponseRecorder {
			return postForm(t, srv, "/import", url.Values{"file": {"x"}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, pages := createTestServer(t)

			rec := tt.send(t, srv)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), "please check the file format") {
				t.Error("expected import alert")
			}
			if diff := cmp.Diff(page.Defaults(), pages.Pages()); diff != "" {
				t.Errorf("collection changed (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAPIEndpoints(t *testing.T) {
	t.Parallel()
	srv, pages := createTestServer(t)

	t.Run("pages", func(t *testing.T) {
		t.Parallel()
		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/pages", nil))
		var resp struct {
			Pages   []page.Page `json:"pages"`
			Current string      `json:"current"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if diff := cmp.Diff(pages.Pages(), resp.Pages); diff != "" {
			t.Errorf("pages mismatch (-want +got):\n%s", diff)
		}
		if resp.Current != "home" {
			t.Errorf("expected current home, got %q", resp.Current)
		}
	})

	t.Run("health", func(t *testing.T) {
		t.Parallel()
		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
			t.Errorf("unexpected health response %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("version", func(t *testing.T) {
		t.Parallel()
		rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/api/version", nil))
		var info map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if info["version"] == "" {
			t.Error("expected a version")
		}
	})
}

func TestRequestIDPassthrough(t *testing.T) {
	t.Parallel()
	srv, _ := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	if got := do(t, srv, req).Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("expected request id to be kept, got %q", got)
	}
}
