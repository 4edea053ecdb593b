package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fclairamb/pagehub/internal/apperrors"
)

const (
	// File and directory permissions.
	dirPerm  = 0750 // Directory permissions: rwxr-x---
	filePerm = 0600 // File permissions: rw-------

	valueExt = ".json"
)

// LocalStore implements Store as one JSON file per key in a directory.
// When git is enabled the directory is a repository and every write is
// committed.
type LocalStore struct {
	rootPath  string
	repo      *git.Repository
	mu        sync.RWMutex
	logger    *slog.Logger
	gitConfig *GitConfig
}

// LocalStoreOption configures LocalStore.
type LocalStoreOption func(*LocalStore)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) LocalStoreOption {
	return func(s *LocalStore) {
		s.logger = l
	}
}

// WithGitConfig sets the git configuration.
func WithGitConfig(cfg *GitConfig) LocalStoreOption {
	return func(s *LocalStore) {
		s.gitConfig = cfg
	}
}

// NewLocalStore creates a new local store at the given path.
func NewLocalStore(path string, opts ...LocalStoreOption) (*LocalStore, error) {
	store := &LocalStore{
		rootPath: path,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(store)
	}

	if !store.gitConfig.IsCommitEnabled() {
		if err := os.MkdirAll(path, dirPerm); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
		return store, nil
	}

	// Initialize repository (clone from remote or init locally)
	repo, err := store.initializeRepository(path)
	if err != nil {
		return nil, err
	}

	store.repo = repo
	return store, nil
}

// Dir returns the directory holding the store's files.
func (s *LocalStore) Dir() string {
	return s.rootPath
}

// PathFor returns the file a key is stored in.
func (s *LocalStore) PathFor(key string) string {
	return filepath.Join(s.rootPath, key+valueExt)
}

// GitConfig returns the git configuration.
func (s *LocalStore) GitConfig() *GitConfig {
	return s.gitConfig
}

// Get reads the value stored under key.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.logger.DebugContext(ctx, "reading key", "key", key)

	data, err := os.ReadFile(s.PathFor(key)) //nolint:gosec // path is application controlled
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.DebugContext(ctx, "key does not exist", "key", key)
			return nil, apperrors.ErrKeyNotFound
		}
		s.logger.DebugContext(ctx, "read key failed", "key", key, "error", err)
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	s.logger.DebugContext(ctx, "read key complete", "key", key, "size", len(data))
	return data, nil
}

// Set atomically replaces the value stored under key and commits it when
// git is enabled.
func (s *LocalStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.DebugContext(ctx, "writing key", "key", key, "size", len(value))

	path := s.PathFor(key)
	previous, err := os.ReadFile(path) //nolint:gosec // path is application controlled
	existed := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", key, err)
	}

	if err := s.writeAtomic(path, value); err != nil {
		s.logger.DebugContext(ctx, "write key failed", "key", key, "error", err)
		return fmt.Errorf("write %s: %w", key, err)
	}

	if s.repo != nil {
		if err := s.commit(key+valueExt, "Update "+key); err != nil {
			// A failed Set must leave the stored value as it was.
			s.rollback(ctx, path, previous, existed)
			return err
		}
	}

	s.logger.DebugContext(ctx, "write key complete", "key", key)
	return nil
}

// Close releases the store. The local store holds no open handles.
func (s *LocalStore) Close() error {
	return nil
}

// rollback puts back the value a failed Set replaced.
func (s *LocalStore) rollback(ctx context.Context, path string, previous []byte, existed bool) {
	var err error
	if existed {
		err = s.writeAtomic(path, previous)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to roll back write", "path", path, "error", err)
	}
}

// writeAtomic writes data to a temp file in the target directory and renames
// it over path, so readers never observe a partial value.
func (s *LocalStore) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// commit stages file and creates a commit if anything changed.
// The caller holds s.mu.
func (s *LocalStore) commit(file, message string) error {
	worktree, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	if _, err := worktree.Add(file); err != nil {
		return fmt.Errorf("git add %s: %w", file, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	hasChanges := false
	for _, st := range status {
		if st.Staging != git.Unmodified && st.Staging != git.Untracked {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		return nil
	}

	name, email := s.gitConfig.author()
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  name,
			Email: email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// CommitCount returns the number of commits reachable from HEAD, or 0 when
// git is disabled or nothing was committed yet.
func (s *LocalStore) CommitCount() (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	head, err := s.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get head: %w", err)
	}

	iter, err := s.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return 0, fmt.Errorf("git log: %w", err)
	}
	defer iter.Close()

	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	return count, err
}

// Push pushes local commits to the remote repository.
func (s *LocalStore) Push(ctx context.Context) error {
	if s.repo == nil || !s.gitConfig.IsRemoteEnabled() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.gitConfig.GetAuth()
	if err != nil {
		return fmt.Errorf("get auth: %w", err)
	}

	s.logger.InfoContext(ctx, "pushing to remote", "url", s.gitConfig.URL, "branch", s.gitConfig.branch())

	err = s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			s.logger.InfoContext(ctx, "nothing to push")
			return nil
		}
		return fmt.Errorf("push: %w", err)
	}

	s.logger.InfoContext(ctx, "push complete")
	return nil
}

// validateKey rejects keys that would escape the store directory.
func validateKey(key string) error {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidKey, key)
	}
	return nil
}

// initializeRepository initializes a git repository, either by cloning from remote or creating locally.
func (s *LocalStore) initializeRepository(path string) (*git.Repository, error) {
	_, statErr := os.Stat(path)
	dirExists := statErr == nil

	// Try to clone from remote if enabled and directory doesn't exist
	if s.gitConfig.IsRemoteEnabled() && !dirExists {
		return s.cloneFromRemote(path)
	}

	return s.openOrCreateLocalRepo(path)
}

// cloneFromRemote clones a repository from the remote URL.
func (s *LocalStore) cloneFromRemote(path string) (*git.Repository, error) {
	s.logger.Info("cloning from remote", "url", s.gitConfig.URL, "branch", s.gitConfig.branch())

	auth, err := s.gitConfig.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("get auth: %w", err)
	}

	repo, err := git.PlainClone(path, false, &git.CloneOptions{
		URL:           s.gitConfig.URL,
		Auth:          auth,
		ReferenceName: plumbing.NewBranchReferenceName(s.gitConfig.branch()),
		SingleBranch:  true,
	})
	if err == nil {
		s.logger.Info("clone complete")
		return repo, nil
	}

	// Handle empty repository - init locally and add remote
	if err.Error() != msgRemoteRepoEmpty {
		return nil, fmt.Errorf("clone repository: %w", err)
	}

	s.logger.Info(msgRemoteRepoEmpty + ", initializing locally")
	return s.initNewRepo(path)
}

// openOrCreateLocalRepo opens an existing repository or creates a new one.
func (s *LocalStore) openOrCreateLocalRepo(path string) (*git.Repository, error) {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	repo, err := git.PlainOpen(path)
	if err == nil {
		return s.ensureRemoteConfigured(repo)
	}

	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open git repo: %w", err)
	}

	return s.initNewRepo(path)
}

// initNewRepo initializes a new git repository on the configured branch and
// optionally adds the remote.
func (s *LocalStore) initNewRepo(path string) (*git.Repository, error) {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	repo, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(s.gitConfig.branch()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init git repo: %w", err)
	}

	if s.gitConfig.IsRemoteEnabled() {
		if err := s.addRemoteToRepo(repo); err != nil {
			return nil, err
		}
	}

	return repo, nil
}

// ensureRemoteConfigured ensures the remote is configured in an existing repository.
func (s *LocalStore) ensureRemoteConfigured(repo *git.Repository) (*git.Repository, error) {
	if !s.gitConfig.IsRemoteEnabled() {
		return repo, nil
	}

	if _, err := repo.Remote("origin"); err == nil {
		return repo, nil
	}

	s.logger.Info("adding remote origin to existing repo", "url", s.gitConfig.URL)
	if err := s.addRemoteToRepo(repo); err != nil {
		return nil, err
	}

	return repo, nil
}

// addRemoteToRepo adds the origin remote to a repository.
func (s *LocalStore) addRemoteToRepo(repo *git.Repository) error {
	_, err := repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{s.gitConfig.URL},
	})
	if err != nil {
		return fmt.Errorf("add remote origin: %w", err)
	}
	return nil
}
