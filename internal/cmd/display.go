package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fclairamb/pagehub/internal/hub"
	"github.com/fclairamb/pagehub/internal/page"
	"github.com/fclairamb/pagehub/internal/store"
)

const previewLength = 60

// displayNav prints the navigation list: favorites first, then the others.
func displayNav(w io.Writer, nav hub.Nav) {
	if len(nav.Favorites) == 0 && len(nav.Others) == 0 {
		fmt.Fprintln(w, "No pages found")
		return
	}

	if len(nav.Favorites) > 0 {
		fmt.Fprintln(w, "Favorites")
		for _, p := range nav.Favorites {
			printPageLine(w, p)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "All Pages")
	for _, p := range nav.Others {
		printPageLine(w, p)
	}
}

func printPageLine(w io.Writer, p page.Page) {
	marker := " "
	if p.Favorite {
		marker = "*"
	}
	kind := ""
	if p.IsHTMLFile {
		kind = " [html]"
	}
	fmt.Fprintf(w, "  %s %-20s %s%s\n", marker, p.ID, p.Title, kind)
}

// displayPage prints a page with a preview of its content.
func displayPage(w io.Writer, p page.Page) {
	fmt.Fprintf(w, "ID:       %s\n", p.ID)
	fmt.Fprintf(w, "Title:    %s\n", p.Title)
	fmt.Fprintf(w, "Favorite: %t\n", p.Favorite)
	if p.IsHTMLFile {
		fmt.Fprintln(w, "Type:     uploaded HTML (sandboxed)")
	} else {
		fmt.Fprintln(w, "Type:     inline")
	}
	fmt.Fprintf(w, "Size:     %d bytes\n", len(p.Content))
	fmt.Fprintf(w, "Content:  %s\n", preview(p.Content))
}

// preview returns the first line of content, shortened.
func preview(content string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
	runes := []rune(line)
	if len(runes) > previewLength {
		return string(runes[:previewLength]) + "..."
	}
	return line
}

func displayDone(w io.Writer, action string, p page.Page) {
	fmt.Fprintf(w, "%s %s (%s)\n", action, p.ID, p.Title)
}

func displayMessage(w io.Writer, msg string) {
	fmt.Fprintln(w, msg)
}

// displayGitConfig prints the git settings of the local store.
func displayGitConfig(w io.Writer, cfg *store.GitConfig, dir string) {
	fmt.Fprintln(w, "Git Configuration")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Dir:      %s\n", dir)

	if !cfg.IsCommitEnabled() {
		fmt.Fprintln(w, "\nGit disabled (set PHUB_GIT_COMMIT or PHUB_GIT_URL to enable)")
		return
	}
	fmt.Fprintln(w, "Commits:  enabled")

	if cfg.URL == "" {
		fmt.Fprintln(w, "\nRemote: not configured (set PHUB_GIT_URL to enable)")
		return
	}

	fmt.Fprintf(w, "URL:      %s\n", cfg.URL)
	switch {
	case cfg.IsSSH():
		fmt.Fprintln(w, "Auth:     SSH (using ssh-agent)")
	case cfg.Password != "":
		fmt.Fprintln(w, "Auth:     HTTPS (token configured)")
	default:
		fmt.Fprintln(w, "Auth:     HTTPS (WARNING: PHUB_GIT_PASS not set)")
	}
	fmt.Fprintf(w, "Branch:   %s\n", orDefault(cfg.Branch, "main"))
	fmt.Fprintf(w, "User:     %s\n", orDefault(cfg.User, "pagehub"))
	fmt.Fprintf(w, "Email:    %s\n", orDefault(cfg.Email, "pagehub@localhost"))
	fmt.Fprintf(w, "Push:     %t\n", cfg.IsPushEnabled())
}

// displayConnectionTest tests the connection and displays the result.
func displayConnectionTest(ctx context.Context, w io.Writer, cfg *store.GitConfig) error {
	fmt.Fprintf(w, "Testing connection to %s...\n", cfg.URL)

	if err := cfg.TestConnection(ctx); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	fmt.Fprintln(w, "Connection successful!")
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
