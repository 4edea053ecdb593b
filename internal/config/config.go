// Package config loads pagehub settings.
//
// Sources are layered, later ones winning: built-in defaults, a YAML file,
// .env files, PHUB_* environment variables and finally the command-line
// flags that were explicitly set.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/fclairamb/pagehub/internal/apperrors"
	"github.com/fclairamb/pagehub/internal/store"
	"github.com/fclairamb/pagehub/internal/web"
)

const (
	// EnvPrefix is the prefix of environment variables read as settings.
	EnvPrefix = "PHUB_"

	// DefaultFile is loaded when present and no file is given explicitly.
	DefaultFile = "pagehub.yaml"

	// DefaultEnvFile is the dotenv file loaded when present.
	DefaultEnvFile = ".env"

	defaultDir = "pagehub-data"
)

// Config holds every pagehub setting.
type Config struct {
	Storage       string `koanf:"storage"`        // Storage backend (PHUB_STORAGE)
	Dir           string `koanf:"dir"`            // Data directory (PHUB_DIR)
	Key           string `koanf:"key"`            // Key the collection is stored under (PHUB_KEY)
	DSN           string `koanf:"dsn"`            // PostgreSQL DSN (PHUB_DSN)
	RedisAddr     string `koanf:"redis_addr"`     // Redis address (PHUB_REDIS_ADDR)
	RedisPassword string `koanf:"redis_password"` // Redis password (PHUB_REDIS_PASSWORD)
	RedisDB       int    `koanf:"redis_db"`       // Redis database (PHUB_REDIS_DB)

	Port       int  `koanf:"port"`        // HTTP port (PHUB_PORT)
	Unsafe     bool `koanf:"unsafe"`      // Inject inline content unsanitized (PHUB_UNSAFE)
	Markdown   bool `koanf:"markdown"`    // Render inline content as markdown (PHUB_MARKDOWN)
	LiveReload bool `koanf:"live_reload"` // Reload open tabs after changes (PHUB_LIVE_RELOAD)

	GitCommit    bool          `koanf:"git_commit"`    // Commit every write (PHUB_GIT_COMMIT)
	GitURL       string        `koanf:"git_url"`       // Remote repository (PHUB_GIT_URL)
	GitPass      string        `koanf:"git_pass"`      // HTTPS token (PHUB_GIT_PASS)
	GitBranch    string        `koanf:"git_branch"`    // Branch (PHUB_GIT_BRANCH)
	GitUser      string        `koanf:"git_user"`      // Commit author (PHUB_GIT_USER)
	GitEmail     string        `koanf:"git_email"`     // Commit email (PHUB_GIT_EMAIL)
	GitPush      *bool         `koanf:"git_push"`      // Push after commits, unset means push when a URL is set (PHUB_GIT_PUSH)
	PushDelay    time.Duration `koanf:"push_delay"`    // Debounce before pushing (PHUB_PUSH_DELAY)
	PushInterval time.Duration `koanf:"push_interval"` // Minimum time between pushes (PHUB_PUSH_INTERVAL)
}

// Source describes where settings come from.
type Source struct {
	// File is an explicit YAML file; it must exist. When empty, DefaultFile
	// is used if present.
	File string
	// EnvFiles are dotenv files; missing ones are skipped.
	EnvFiles []string
	// Environ provides the environment; nil means os.Environ.
	Environ func() []string
	// Overrides are settings given on the command line.
	Overrides map[string]any
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"storage":       string(store.BackendLocal),
		"dir":           defaultDir,
		"key":           store.DefaultKey,
		"redis_db":      0,
		"port":          web.DefaultPort,
		"unsafe":        false,
		"markdown":      false,
		"live_reload":   true,
		"git_commit":    false,
		"push_delay":    "5s",
		"push_interval": "10s",
	}
}

// Load reads the configuration from src.
func Load(src Source) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path, ok := configFile(src.File); ok {
		if err := k.Load(file.Provider(path), yamlParser{}); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		slog.Debug("loaded config file", "path", path)
	}

	for _, path := range src.EnvFiles {
		values, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
		if err := k.Load(envProvider(environFromMap(values)), nil); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
		slog.Debug("loaded env file", "path", path)
	}

	if err := k.Load(envProvider(src.Environ), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(src.Overrides) > 0 {
		if err := k.Load(confmap.Provider(src.Overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that cannot be checked later.
func (c *Config) Validate() error {
	srv := web.ServerConfig{Port: c.Port}
	if !srv.IsValid() {
		return fmt.Errorf("%w: invalid port %d", apperrors.ErrInvalidConfig, c.Port)
	}
	if c.PushDelay < 0 || c.PushInterval < 0 {
		return fmt.Errorf("%w: push durations must not be negative", apperrors.ErrInvalidConfig)
	}
	return nil
}

// Git returns the git settings of the local store.
func (c *Config) Git() *store.GitConfig {
	return &store.GitConfig{
		Commit:   c.GitCommit,
		URL:      c.GitURL,
		Password: c.GitPass,
		Branch:   c.GitBranch,
		User:     c.GitUser,
		Email:    c.GitEmail,
		Push:     c.GitPush,
	}
}

// StoreOptions returns the options to open the configured store.
func (c *Config) StoreOptions(logger *slog.Logger) store.Options {
	return store.Options{
		Backend:       store.Backend(c.Storage),
		Dir:           c.Dir,
		DSN:           c.DSN,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		Git:           c.Git(),
		Logger:        logger,
	}
}

// Server returns the web server settings.
func (c *Config) Server() *web.ServerConfig {
	return &web.ServerConfig{Port: c.Port, LiveReload: c.LiveReload}
}

func configFile(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile, true
	}
	return "", false
}

// envProvider maps PHUB_GIT_URL to git_url and so on.
func envProvider(environ func() []string) *env.Env {
	return env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), v
		},
		EnvironFunc: environ,
	})
}

func environFromMap(values map[string]string) func() []string {
	return func() []string {
		out := make([]string, 0, len(values))
		for k, v := range values {
			out = append(out, k+"="+v)
		}
		return out
	}
}

// yamlParser is a koanf.Parser for YAML documents.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (yamlParser) Marshal(m map[string]any) ([]byte, error) {
	return yaml.Marshal(m)
}
