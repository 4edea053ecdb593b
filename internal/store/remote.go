package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/fclairamb/pagehub/internal/apperrors"
)

const msgRemoteRepoEmpty = "remote repository is empty"

// GitConfig holds the git settings of the local store.
type GitConfig struct {
	Commit   bool   // Commit every write (PHUB_GIT_COMMIT)
	URL      string // Remote git repository URL (PHUB_GIT_URL)
	Password string // Password/token for HTTPS auth (PHUB_GIT_PASS)
	Branch   string // Target branch (PHUB_GIT_BRANCH)
	User     string // Commit author name (PHUB_GIT_USER)
	Email    string // Commit author email (PHUB_GIT_EMAIL)
	Push     *bool  // Push to remote after commits (PHUB_GIT_PUSH), nil means auto-detect
}

// IsRemoteEnabled returns true if a remote repository is configured.
func (c *GitConfig) IsRemoteEnabled() bool {
	return c != nil && c.URL != ""
}

// IsCommitEnabled returns true if writes are committed.
// A configured remote implies commits.
func (c *GitConfig) IsCommitEnabled() bool {
	if c == nil {
		return false
	}
	return c.Commit || c.URL != ""
}

// IsPushEnabled returns true if commits are pushed to the remote.
// When Push is not explicitly set, defaults to true if URL is set.
func (c *GitConfig) IsPushEnabled() bool {
	if c == nil {
		return false
	}
	if c.Push != nil {
		return *c.Push && c.URL != ""
	}
	return c.URL != ""
}

// IsSSH returns true if the URL is an SSH URL.
func (c *GitConfig) IsSSH() bool {
	if c == nil || c.URL == "" {
		return false
	}
	return strings.HasPrefix(c.URL, "git@") || strings.HasPrefix(c.URL, "ssh://")
}

// author returns the commit author, falling back to defaults.
func (c *GitConfig) author() (string, string) {
	name, email := "pagehub", "pagehub@localhost"
	if c != nil && c.User != "" {
		name = c.User
	}
	if c != nil && c.Email != "" {
		email = c.Email
	}
	return name, email
}

// branch returns the target branch, falling back to main.
func (c *GitConfig) branch() string {
	if c == nil || c.Branch == "" {
		return "main"
	}
	return c.Branch
}

// GetAuth returns the appropriate authentication method for the remote URL.
func (c *GitConfig) GetAuth() (transport.AuthMethod, error) {
	if !c.IsRemoteEnabled() {
		return nil, apperrors.ErrRemoteNotConfigured
	}

	if c.IsSSH() {
		auth, err := ssh.NewSSHAgentAuth("git")
		if err != nil {
			return nil, fmt.Errorf("create SSH agent auth: %w", err)
		}
		return auth, nil
	}

	// Plain HTTP(S) remotes need a token; local file remotes need nothing.
	if strings.HasPrefix(c.URL, "http://") || strings.HasPrefix(c.URL, "https://") {
		if c.Password == "" {
			return nil, apperrors.ErrHTTPSPasswordRequired
		}
		return &http.BasicAuth{
			Username: "oauth2",
			Password: c.Password,
		}, nil
	}

	return nil, nil
}

// TestConnection tests the connection to the remote repository.
func (c *GitConfig) TestConnection(ctx context.Context) error {
	if !c.IsRemoteEnabled() {
		return apperrors.ErrRemoteNotConfigured
	}

	auth, err := c.GetAuth()
	if err != nil {
		return fmt.Errorf("get auth: %w", err)
	}

	rem := git.NewRemote(nil, &config.RemoteConfig{
		Name: "origin",
		URLs: []string{c.URL},
	})

	_, err = rem.ListContext(ctx, &git.ListOptions{
		Auth: auth,
	})
	if err != nil {
		// Empty repository is a valid connection
		if err.Error() == msgRemoteRepoEmpty {
			return nil
		}
		return fmt.Errorf("list remote: %w", err)
	}

	return nil
}
