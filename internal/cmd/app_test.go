package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fclairamb/pagehub/internal/apperrors"
	"github.com/fclairamb/pagehub/internal/hub"
	"github.com/fclairamb/pagehub/internal/page"
)

// runApp runs the CLI against the data directory dir and returns its output.
func runApp(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	app.ErrWriter = io.Discard

	full := append([]string{"pagehub", "--dir", dir}, args...)
	err := app.Run(context.Background(), full)
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runApp(t, dir, args...)
	if err != nil {
		t.Fatalf("%v failed: %v", args, err)
	}
	return out
}

func TestList_SeedsDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	out := mustRun(t, dir, "list")
	for _, want := range []string{"All Pages", "home", "About", "Projects"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "pages.json")); err != nil {
		t.Errorf("expected seeded collection file: %v", err)
	}
}

func TestPageLifecycle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	out := mustRun(t, dir, "add", "--title", "Contact", "--content", "<p>Hi</p>")
	if !strings.Contains(out, "Added contact (Contact)") {
		t.Errorf("unexpected add output: %s", out)
	}

	if out := mustRun(t, dir, "favorite", "contact"); !strings.Contains(out, "Starred contact") {
		t.Errorf("unexpected favorite output: %s", out)
	}
	if out := mustRun(t, dir, "list"); !strings.Contains(out, "Favorites") || !strings.Contains(out, "* contact") {
		t.Errorf("expected contact in favorites:\n%s", out)
	}

	mustRun(t, dir, "edit", "--title", "Contact Me", "contact")
	if out := mustRun(t, dir, "show", "--raw", "contact"); out != "<p>Hi</p>" {
		t.Errorf("edit without content must keep it, got %q", out)
	}
	if out := mustRun(t, dir, "show", "contact"); !strings.Contains(out, "Title:    Contact Me") || !strings.Contains(out, "Favorite: true") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	if out := mustRun(t, dir, "delete", "contact"); !strings.Contains(out, "Deleted contact") {
		t.Errorf("unexpected delete output: %s", out)
	}
	if out := mustRun(t, dir, "delete", "contact"); !strings.Contains(out, "No page with id contact") {
		t.Errorf("unexpected second delete output: %s", out)
	}
}

func TestAddHTMLFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	upload := filepath.Join(t.TempDir(), "widget.html")
	if err := os.WriteFile(upload, []byte("<script>run()</script>"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	mustRun(t, dir, "add", "--title", "My Widget", "--file", upload)
	if out := mustRun(t, dir, "list"); !strings.Contains(out, "my-widget") || !strings.Contains(out, "[html]") {
		t.Errorf("expected uploaded page in list:\n%s", out)
	}
	if out := mustRun(t, dir, "show", "--raw", "my-widget"); out != "<script>run()</script>" {
		t.Errorf("unexpected content %q", out)
	}
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	exportFile := filepath.Join(t.TempDir(), "export.json")

	mustRun(t, dir, "export", "-o", exportFile)
	data, err := os.ReadFile(exportFile)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var doc hub.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if diff := cmp.Diff(page.Defaults(), doc.Pages); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}

	importFile := filepath.Join(t.TempDir(), "import.json")
	content := `{"pages":[{"id":"notes","title":"Notes","content":"n","favorite":false}]}`
	if err := os.WriteFile(importFile, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	other := t.TempDir()
	if out := mustRun(t, other, "import", importFile); !strings.Contains(out, "Imported 1 pages") {
		t.Errorf("unexpected import output: %s", out)
	}
	if out := mustRun(t, other, "export"); out != content {
		t.Errorf("expected export to match import, got %s", out)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("nope"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name  string
		args  []string
		want  error
		usage bool
	}{
		{"show without id", []string{"show"}, apperrors.ErrPageIDRequired, true},
		{"show unknown", []string{"show", "ghost"}, apperrors.ErrPageNotFound, false},
		{"edit unknown", []string{"edit", "--title", "X", "ghost"}, apperrors.ErrPageNotFound, false},
		{"favorite unknown", []string{"favorite", "ghost"}, apperrors.ErrPageNotFound, false},
		{"add duplicate", []string{"add", "--title", "About", "--content", "x"}, apperrors.ErrDuplicatePageID, false},
		{"add without title", []string{"add", "--content", "x"}, apperrors.ErrTitleRequired, true},
		{"add content and file", []string{"add", "--title", "X", "--content", "x", "--file", bad}, apperrors.ErrContentAndFile, true},
		{"import without file", []string{"import"}, apperrors.ErrImportFileRequired, true},
		{"import invalid", []string{"import", bad}, apperrors.ErrInvalidImport, false},
		{"remote test without url", []string{"remote", "test"}, apperrors.ErrRemoteNotConfigured, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, dir, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if IsUsageError(err) != tt.usage {
				t.Errorf("IsUsageError(%v) = %v, want %v", err, !tt.usage, tt.usage)
			}
		})
	}

	// Failed commands leave the defaults untouched.
	if out := mustRun(t, dir, "export"); !strings.Contains(out, `"id":"about"`) || strings.Contains(out, "notes") {
		t.Errorf("collection changed by failed commands: %s", out)
	}
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	out := mustRun(t, dir, "--storage", "memory", "list", "--search", "proj")
	if !strings.Contains(out, "projects") || strings.Contains(out, "about") {
		t.Errorf("unexpected filtered list:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "pages.json")); !os.IsNotExist(err) {
		t.Error("memory storage must not write files")
	}
}

func TestRemoteShow(t *testing.T) {
	t.Parallel()

	out := mustRun(t, t.TempDir(), "remote", "show")
	if !strings.Contains(out, "Git disabled") {
		t.Errorf("unexpected remote output:\n%s", out)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := preview("  first line\nsecond"); got != "first line" {
		t.Errorf("unexpected preview %q", got)
	}
	long := strings.Repeat("é", previewLength+5)
	if got := preview(long); got != strings.Repeat("é", previewLength)+"..." {
		t.Errorf("unexpected long preview %q", got)
	}
}
