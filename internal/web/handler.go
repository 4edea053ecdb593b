package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/fclairamb/pagehub/internal/apperrors"
	"github.com/fclairamb/pagehub/internal/hub"
	"github.com/fclairamb/pagehub/internal/page"
	"github.com/fclairamb/pagehub/internal/render"
	"github.com/fclairamb/pagehub/internal/version"
)

// maxUploadSize bounds multipart bodies (page uploads and imports).
const maxUploadSize = 32 << 20

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"item":       newNavItem,
	"pathEscape": url.PathEscape,
}).ParseFS(templateFS, "templates/*.html"))

// navItem is one entry of the navigation list.
type navItem struct {
	Page    page.Page
	Current bool
}

func newNavItem(p page.Page, current string) navItem {
	return navItem{Page: p, Current: p.ID == current}
}

// Handler serves the page manager routes.
type Handler struct {
	hub        *hub.Hub
	renderer   *render.Renderer
	logger     *slog.Logger
	liveReload bool
}

// NewHandler creates a new handler.
func NewHandler(pages *hub.Hub, renderer *render.Renderer, logger *slog.Logger, liveReload bool) *Handler {
	return &Handler{
		hub:        pages,
		renderer:   renderer,
		logger:     logger,
		liveReload: liveReload,
	}
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.HandleIndex)
	mux.HandleFunc("GET /new", h.HandleNewForm)
	mux.HandleFunc("GET /pages/{id}", h.HandleSelect)
	mux.HandleFunc("GET /pages/{id}/edit", h.HandleEditForm)
	mux.HandleFunc("POST /pages", h.HandleAdd)
	mux.HandleFunc("POST /pages/{id}", h.HandleEdit)
	mux.HandleFunc("POST /pages/{id}/delete", h.HandleDelete)
	mux.HandleFunc("POST /pages/{id}/favorite", h.HandleFavorite)
	mux.HandleFunc("GET /export", h.HandleExport)
	mux.HandleFunc("POST /import", h.HandleImport)
	mux.HandleFunc("GET /api/pages", h.HandleAPIPages)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /api/version", h.HandleVersion)
}

type indexData struct {
	Nav           hub.Nav
	Current       string
	Query         string
	View          render.View
	SandboxPolicy string
	Alert         string
	LiveReload    bool
}

type formData struct {
	Editing    bool
	ID         string
	Title      string
	Content    string
	IsHTMLFile bool
	Alert      string
	LiveReload bool
}

// HandleIndex renders the selected page.
func (h *Handler) HandleIndex(writer http.ResponseWriter, req *http.Request) {
	h.renderIndex(writer, req, http.StatusOK, "")
}

// HandleSelect changes the selection and renders it. Unknown ids are kept
// and render as not found.
func (h *Handler) HandleSelect(writer http.ResponseWriter, req *http.Request) {
	h.hub.Select(req.PathValue("id"))
	h.renderIndex(writer, req, http.StatusOK, "")
}

// HandleNewForm renders an empty page form.
func (h *Handler) HandleNewForm(writer http.ResponseWriter, req *http.Request) {
	h.renderForm(writer, req, http.StatusOK, formData{})
}

// HandleEditForm renders the form prefilled with an existing page.
func (h *Handler) HandleEditForm(writer http.ResponseWriter, req *http.Request) {
	p, ok := h.hub.Find(req.PathValue("id"))
	if !ok {
		h.renderIndex(writer, req, http.StatusNotFound, apperrors.ErrPageNotFound.Error())
		return
	}
	h.renderForm(writer, req, http.StatusOK, formData{
		Editing:    true,
		ID:         p.ID,
		Title:      p.Title,
		Content:    p.Content,
		IsHTMLFile: p.IsHTMLFile,
	})
}

// HandleAdd creates a page from the submitted form.
func (h *Handler) HandleAdd(writer http.ResponseWriter, req *http.Request) {
	h.submit(writer, req, "")
}

// HandleEdit updates a page from the submitted form.
func (h *Handler) HandleEdit(writer http.ResponseWriter, req *http.Request) {
	h.submit(writer, req, req.PathValue("id"))
}

func (h *Handler) submit(writer http.ResponseWriter, req *http.Request, editingID string) {
	ctx := req.Context()

	draft, closeFile, err := parseDraft(writer, req)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid page form", "error", err)
		status, message := errorStatus(err)
		h.renderForm(writer, req, status, formData{
			Editing: editingID != "",
			ID:      editingID,
			Alert:   message,
		})
		return
	}
	defer closeFile()

	if _, err := h.hub.Submit(ctx, draft, editingID); err != nil {
		status, message := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "failed to save page", "error", err)
		}
		h.renderForm(writer, req, status, formData{
			Editing: editingID != "",
			ID:      editingID,
			Title:   draft.Title,
			Content: draft.Content,
			Alert:   message,
		})
		return
	}

	http.Redirect(writer, req, "/", http.StatusSeeOther)
}

// HandleDelete removes a page.
func (h *Handler) HandleDelete(writer http.ResponseWriter, req *http.Request) {
	if err := h.hub.Delete(req.Context(), req.PathValue("id")); err != nil {
		h.fail(writer, req, err)
		return
	}
	http.Redirect(writer, req, "/", http.StatusSeeOther)
}

// HandleFavorite toggles the favorite flag of a page.
func (h *Handler) HandleFavorite(writer http.ResponseWriter, req *http.Request) {
	if _, err := h.hub.ToggleFavorite(req.Context(), req.PathValue("id")); err != nil {
		h.fail(writer, req, err)
		return
	}
	http.Redirect(writer, req, "/", http.StatusSeeOther)
}

// HandleExport downloads the collection as a JSON document.
func (h *Handler) HandleExport(writer http.ResponseWriter, req *http.Request) {
	var buf bytes.Buffer
	if err := h.hub.Export(&buf); err != nil {
		h.fail(writer, req, err)
		return
	}

	writer.Header().Set("Content-Type", "application/json")
	writer.Header().Set("Content-Disposition", `attachment; filename="`+hub.ExportFilename+`"`)
	if _, err := writer.Write(buf.Bytes()); err != nil {
		h.logger.WarnContext(req.Context(), "failed to write export", "error", err)
	}
}

// HandleImport replaces the collection with an uploaded document.
func (h *Handler) HandleImport(writer http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	req.Body = http.MaxBytesReader(writer, req.Body, maxUploadSize)
	file, _, err := req.FormFile("file")
	if err != nil {
		if !isTooLarge(err) {
			err = apperrors.NewHTTPError(http.StatusBadRequest, apperrors.ErrInvalidImport.Error())
		}
		h.fail(writer, req, err)
		return
	}
	defer file.Close()

	if err := h.hub.Import(ctx, file); err != nil {
		h.fail(writer, req, err)
		return
	}
	http.Redirect(writer, req, "/", http.StatusSeeOther)
}

// HandleAPIPages returns the collection and the selection as JSON.
func (h *Handler) HandleAPIPages(writer http.ResponseWriter, req *http.Request) {
	pages, current := h.hub.Snapshot()
	response := struct {
		Pages   []page.Page `json:"pages"`
		Current string      `json:"current"`
	}{pages, current}

	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(response); err != nil {
		h.logger.ErrorContext(req.Context(), "failed to encode pages response", "error", err)
	}
}

// HandleVersion handles the /api/version endpoint.
func (h *Handler) HandleVersion(writer http.ResponseWriter, req *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(version.Info()); err != nil {
		h.logger.ErrorContext(req.Context(), "failed to encode version response", "error", err)
	}
}

// HandleHealth handles the /health endpoint for health checks.
func (h *Handler) HandleHealth(writer http.ResponseWriter, req *http.Request) {
	response := map[string]any{
		"status": "ok",
		"pages":  len(h.hub.Pages()),
	}

	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(response); err != nil {
		h.logger.ErrorContext(req.Context(), "failed to encode health response", "error", err)
	}
}

// fail re-renders the index with an alert describing err.
func (h *Handler) fail(writer http.ResponseWriter, req *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(req.Context(), "request failed", "path", req.URL.Path, "error", err)
	} else {
		h.logger.WarnContext(req.Context(), "request rejected", "path", req.URL.Path, "error", err)
	}
	h.renderIndex(writer, req, status, message)
}

func (h *Handler) renderIndex(writer http.ResponseWriter, req *http.Request, status int, alert string) {
	pages, current := h.hub.Snapshot()

	view, err := h.renderer.Render(pages, current)
	if err != nil {
		h.logger.ErrorContext(req.Context(), "failed to render page", "id", current, "error", err)
		http.Error(writer, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := indexData{
		Nav:           h.hub.Navigation(req.URL.Query().Get("q")),
		Current:       current,
		Query:         req.URL.Query().Get("q"),
		View:          view,
		SandboxPolicy: render.SandboxPolicy,
		Alert:         alert,
		LiveReload:    h.liveReload,
	}
	h.execute(writer, req, status, "index.html", data)
}

func (h *Handler) renderForm(writer http.ResponseWriter, req *http.Request, status int, data formData) {
	data.LiveReload = h.liveReload
	h.execute(writer, req, status, "form.html", data)
}

// execute renders into a buffer first so a template error never sends a
// half-written page with a success status.
func (h *Handler) execute(writer http.ResponseWriter, req *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.ErrorContext(req.Context(), "failed to execute template", "template", name, "error", err)
		http.Error(writer, "Internal server error", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	writer.WriteHeader(status)
	if _, err := buf.WriteTo(writer); err != nil {
		h.logger.DebugContext(req.Context(), "failed to write response", "error", err)
	}
}

// parseDraft reads the page form. The returned close function releases the
// uploaded file, if any.
func parseDraft(writer http.ResponseWriter, req *http.Request) (page.Draft, func(), error) {
	noop := func() {}

	req.Body = http.MaxBytesReader(writer, req.Body, maxUploadSize)
	if err := req.ParseMultipartForm(maxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if isTooLarge(err) {
			return page.Draft{}, noop, err
		}
		return page.Draft{}, noop, apperrors.NewHTTPError(http.StatusBadRequest, "Invalid form submission")
	}

	draft := page.Draft{
		Title:   strings.TrimSpace(req.FormValue("title")),
		Content: req.FormValue("content"),
	}

	file, _, err := req.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return draft, noop, nil
	case err != nil:
		return page.Draft{}, noop, apperrors.NewHTTPError(http.StatusBadRequest, "Invalid form submission")
	}

	draft.File = file
	return draft, func() { _ = file.Close() }, nil
}

// errorStatus maps an error to an HTTP status and a message fit for users.
func errorStatus(err error) (int, string) {
	var httpErr *apperrors.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, httpErr.Body
	}
	if isTooLarge(err) {
		return http.StatusRequestEntityTooLarge, "File too large"
	}

	for _, known := range []struct {
		err    error
		status int
	}{
		{apperrors.ErrInvalidImport, http.StatusBadRequest},
		{apperrors.ErrReadFailed, http.StatusBadRequest},
		{apperrors.ErrTitleRequired, http.StatusBadRequest},
		{apperrors.ErrContentRequired, http.StatusBadRequest},
		{apperrors.ErrPageIDRequired, http.StatusBadRequest},
		{apperrors.ErrPageNotFound, http.StatusNotFound},
		{apperrors.ErrDuplicatePageID, http.StatusConflict},
	} {
		if errors.Is(err, known.err) {
			return known.status, known.err.Error()
		}
	}

	return http.StatusInternalServerError, "Internal server error"
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
