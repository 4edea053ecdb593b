// Package cmd provides the CLI commands for pagehub.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/pagehub/internal/apperrors"
	"github.com/fclairamb/pagehub/internal/config"
	"github.com/fclairamb/pagehub/internal/hub"
	"github.com/fclairamb/pagehub/internal/page"
	"github.com/fclairamb/pagehub/internal/render"
	"github.com/fclairamb/pagehub/internal/store"
	"github.com/fclairamb/pagehub/internal/version"
	"github.com/fclairamb/pagehub/internal/web"
)

// verboseFlag returns the verbose flag every command accepts. Flags keep
// their parsed value, so each command gets its own.
func verboseFlag() *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Enable verbose logging",
	}
}

// flagKeys maps command-line flags onto configuration keys. A flag only
// overrides the configuration when it was set explicitly.
var flagKeys = map[string]string{
	"storage":     "storage",
	"dir":         "dir",
	"port":        "port",
	"unsafe":      "unsafe",
	"markdown":    "markdown",
	"live-reload": "live_reload",
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"

	logFormatEnv = config.EnvPrefix + "LOG_FORMAT"
)

type configKey struct{}

// getLogFormat returns the configured log format from PHUB_LOG_FORMAT.
func getLogFormat() LogFormat {
	if strings.ToLower(os.Getenv(logFormatEnv)) == "json" {
		return LogFormatJSON
	}
	return LogFormatText
}

// setupLogging configures the global logger based on the verbose flag and PHUB_LOG_FORMAT.
func setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch getLogFormat() {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))

	envVal := strings.ToLower(os.Getenv(logFormatEnv))
	if envVal != "" && envVal != "text" && envVal != "json" {
		slog.Warn("Invalid "+logFormatEnv+" value, using text format", "value", envVal)
	}

	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
}

// before sets up logging and loads the configuration into the context.
func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	setupLogging(cmd)

	overrides := map[string]any{}
	for flag, key := range flagKeys {
		if !cmd.IsSet(flag) {
			continue
		}
		switch flag {
		case "port":
			overrides[key] = cmd.Int(flag)
		case "unsafe", "markdown", "live-reload":
			overrides[key] = cmd.Bool(flag)
		default:
			overrides[key] = cmd.String(flag)
		}
	}

	cfg, err := config.Load(config.Source{
		File:      cmd.String("config"),
		EnvFiles:  []string{config.DefaultEnvFile},
		Overrides: overrides,
	})
	if err != nil {
		return ctx, err
	}

	slog.Debug("storage", "backend", cfg.Storage, "dir", cfg.Dir, "key", cfg.Key)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

func configFrom(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "pagehub",
		Usage:   "Manage a small collection of personal pages",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file (default: " + config.DefaultFile + " when present)",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "Storage backend: local, pebble, sqlite, postgres, redis or memory",
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Data directory",
			},
			verboseFlag(),
		},
		Commands: []*cli.Command{
			serveCommand(),
			listCommand(),
			showCommand(),
			addCommand(),
			editCommand(),
			deleteCommand(),
			favoriteCommand(),
			exportCommand(),
			importCommand(),
			remoteCommand(),
		},
	}
}

// openHub opens the configured store and loads the page hub from it.
// The returned close function releases the store.
func openHub(ctx context.Context, opts ...hub.Option) (*hub.Hub, store.Store, func(), error) {
	cfg := configFrom(ctx)

	kv, err := store.Open(ctx, cfg.StoreOptions(slog.Default()))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	closeStore := func() {
		if err := kv.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}

	coll := store.NewCollection(kv, store.WithKey(cfg.Key), store.WithCollectionLogger(slog.Default()))
	pages := hub.New(coll, append([]hub.Option{hub.WithLogger(slog.Default())}, opts...)...)
	if err := pages.Init(ctx); err != nil {
		closeStore()
		return nil, nil, nil, err
	}

	return pages, kv, closeStore, nil
}

// listCommand creates the list subcommand.
func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List pages, favorites first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "search",
				Aliases: []string{"s"},
				Usage:   "Only list pages whose title contains this text",
			},
			verboseFlag(),
		},
		Before: before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			displayNav(cmd.Root().Writer, pages.Navigation(cmd.String("search")))
			return nil
		},
	}
}

// showCommand creates the show subcommand.
func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a page",
		ArgsUsage: "<page_id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print the stored content only",
			},
			verboseFlag(),
		},
		Before: before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := pageIDArg(cmd)
			if err != nil {
				return err
			}

			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			p, ok := pages.Find(id)
			if !ok {
				return fmt.Errorf("%w: %s", apperrors.ErrPageNotFound, id)
			}

			if cmd.Bool("raw") {
				_, err := io.WriteString(cmd.Root().Writer, p.Content)
				return err
			}
			displayPage(cmd.Root().Writer, p)
			return nil
		},
	}
}

func contentFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "title",
			Aliases: []string{"t"},
			Usage:   "Page title",
		},
		&cli.StringFlag{
			Name:  "content",
			Usage: "Inline HTML content",
		},
		&cli.StringFlag{
			Name:    "file",
			Aliases: []string{"f"},
			Usage:   "HTML file shown sandboxed instead of inline content",
		},
		verboseFlag(),
	}
}

// addCommand creates the add subcommand.
func addCommand() *cli.Command {
	return &cli.Command{
		Name:   "add",
		Usage:  "Add a page; its id is derived from the title",
		Flags:  contentFlags(),
		Before: before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			draft, closeFile, err := draftFromFlags(cmd, nil)
			if err != nil {
				return err
			}
			defer closeFile()

			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			p, err := pages.Submit(ctx, draft, "")
			if err != nil {
				return fmt.Errorf("add page: %w", err)
			}
			displayDone(cmd.Root().Writer, "Added", p)
			return nil
		},
	}
}

// editCommand creates the edit subcommand.
func editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Edit a page; omitted fields keep their value",
		ArgsUsage: "<page_id>",
		Flags:     contentFlags(),
		Before:    before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := pageIDArg(cmd)
			if err != nil {
				return err
			}

			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			existing, ok := pages.Find(id)
			if !ok {
				return fmt.Errorf("%w: %s", apperrors.ErrPageNotFound, id)
			}

			draft, closeFile, err := draftFromFlags(cmd, &existing)
			if err != nil {
				return err
			}
			defer closeFile()

			p, err := pages.Submit(ctx, draft, id)
			if err != nil {
				return fmt.Errorf("edit page: %w", err)
			}
			displayDone(cmd.Root().Writer, "Updated", p)
			return nil
		},
	}
}

// deleteCommand creates the delete subcommand.
func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a page",
		ArgsUsage: "<page_id>",
		Flags:     []cli.Flag{verboseFlag()},
		Before:    before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := pageIDArg(cmd)
			if err != nil {
				return err
			}

			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			p, found := pages.Find(id)
			if err := pages.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete page: %w", err)
			}
			if !found {
				displayMessage(cmd.Root().Writer, "No page with id "+id)
				return nil
			}
			displayDone(cmd.Root().Writer, "Deleted", p)
			return nil
		},
	}
}

// favoriteCommand creates the favorite subcommand.
func favoriteCommand() *cli.Command {
	return &cli.Command{
		Name:      "favorite",
		Aliases:   []string{"fav"},
		Usage:     "Toggle the favorite flag of a page",
		ArgsUsage: "<page_id>",
		Flags:     []cli.Flag{verboseFlag()},
		Before:    before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := pageIDArg(cmd)
			if err != nil {
				return err
			}

			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			p, err := pages.ToggleFavorite(ctx, id)
			if err != nil {
				return fmt.Errorf("toggle favorite: %w", err)
			}
			if p.Favorite {
				displayDone(cmd.Root().Writer, "Starred", p)
			} else {
				displayDone(cmd.Root().Writer, "Unstarred", p)
			}
			return nil
		},
	}
}

// exportCommand creates the export subcommand.
func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export all pages as a JSON document",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file (default: stdout)",
			},
			verboseFlag(),
		},
		Before: before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			output := cmd.String("output")
			if output == "" || output == "-" {
				return pages.Export(cmd.Root().Writer)
			}

			f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := pages.Export(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", output, err)
			}

			displayMessage(cmd.Root().Writer, fmt.Sprintf("Exported %d pages to %s", len(pages.Pages()), output))
			return nil
		},
	}
}

// importCommand creates the import subcommand.
func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace all pages with those of an exported document",
		ArgsUsage: "<file|->",
		Flags:     []cli.Flag{verboseFlag()},
		Before:    before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.ErrImportFileRequired
			}
			path := cmd.Args().Get(0)

			var input io.Reader = cmd.Root().Reader
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open %s: %w", path, err)
				}
				defer f.Close()
				input = f
			}

			pages, _, closeStore, err := openHub(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := pages.Import(ctx, input); err != nil {
				return err
			}
			displayMessage(cmd.Root().Writer, fmt.Sprintf("Imported %d pages", len(pages.Pages())))
			return nil
		},
	}
}

// remoteCommand creates the remote subcommand.
func remoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Inspect the git remote of the local store",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the git configuration",
				Flags:  []cli.Flag{verboseFlag()},
				Before: before,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg := configFrom(ctx)
					displayGitConfig(cmd.Root().Writer, cfg.Git(), cfg.Dir)
					return nil
				},
			},
			{
				Name:   "test",
				Usage:  "Test the connection to the remote repository",
				Flags:  []cli.Flag{verboseFlag()},
				Before: before,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					git := configFrom(ctx).Git()
					if !git.IsRemoteEnabled() {
						return apperrors.ErrRemoteNotConfigured
					}
					return displayConnectionTest(ctx, cmd.Root().Writer, git)
				},
			},
		},
	}
}

// serveCommand creates the serve subcommand for the web UI.
//
//nolint:funlen // wires every component of the server
func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web interface",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "HTTP port to listen on",
				Value:   web.DefaultPort,
			},
			&cli.BoolFlag{
				Name:  "unsafe",
				Usage: "Inject inline page content without sanitizing it",
			},
			&cli.BoolFlag{
				Name:  "markdown",
				Usage: "Render inline page content as markdown",
			},
			&cli.BoolFlag{
				Name:  "live-reload",
				Usage: "Reload open tabs after every change",
				Value: true,
			},
			verboseFlag(),
		},
		Before: before,
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg := configFrom(ctx)
			logger := slog.Default()

			reloader := web.NewReloader(logger)
			hubOpts := []hub.Option{hub.WithOnChange(reloader.Reload)}
			var serverOpts []web.ServerOption

			// The pusher needs the store, which is only known once opened;
			// notifications go through a late-bound function.
			var pusher *store.Pusher
			hubOpts = append(hubOpts, hub.WithOnChange(func() {
				if pusher != nil {
					pusher.Notify()
				}
			}))

			pages, kv, closeStore, err := openHub(ctx, hubOpts...)
			if err != nil {
				return err
			}
			defer closeStore()

			if local, ok := kv.(*store.LocalStore); ok {
				if local.GitConfig().IsPushEnabled() {
					pusher = store.NewPusher(local,
						store.WithPushDelay(cfg.PushDelay),
						store.WithMinPushInterval(cfg.PushInterval),
						store.WithPusherLogger(logger))
					serverOpts = append(serverOpts, web.WithBackground(pusher.Start))
					logger.InfoContext(ctx, "pushing changes to remote", "url", local.GitConfig().URL, "delay", cfg.PushDelay)
				}

				path := local.PathFor(cfg.Key)
				serverOpts = append(serverOpts, web.WithBackground(func(ctx context.Context) {
					if err := web.WatchFile(ctx, path, web.DefaultWatchDebounce, pages.Reload, logger); err != nil {
						logger.WarnContext(ctx, "file watcher stopped", "error", err)
					}
				}))
			}

			renderer := render.New(render.WithUnsafe(cfg.Unsafe), render.WithMarkdown(cfg.Markdown))
			if cfg.Unsafe {
				logger.WarnContext(ctx, "inline page content is injected without sanitizing")
			}

			serverOpts = append(serverOpts, web.WithReloader(reloader))
			server := web.NewServer(cfg.Server(), pages, renderer, logger, serverOpts...)

			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
}

// pageIDArg returns the first positional argument.
func pageIDArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() < 1 || cmd.Args().Get(0) == "" {
		return "", apperrors.ErrPageIDRequired
	}
	return cmd.Args().Get(0), nil
}

// draftFromFlags builds a draft from the content flags. When editing, unset
// flags keep the existing page's values.
func draftFromFlags(cmd *cli.Command, editing *page.Page) (page.Draft, func(), error) {
	noop := func() {}

	if cmd.IsSet("content") && cmd.IsSet("file") {
		return page.Draft{}, noop, apperrors.ErrContentAndFile
	}

	draft := page.Draft{
		Title:   cmd.String("title"),
		Content: cmd.String("content"),
	}
	if editing != nil {
		if !cmd.IsSet("title") {
			draft.Title = editing.Title
		}
		if !cmd.IsSet("content") && !cmd.IsSet("file") {
			draft.Content = editing.Content
		}
	}

	path := cmd.String("file")
	if path == "" {
		return draft, noop, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return page.Draft{}, noop, fmt.Errorf("%w: %w", apperrors.ErrReadFailed, err)
	}
	draft.File = f
	return draft, func() { _ = f.Close() }, nil
}

// IsUsageError reports whether err was caused by missing or invalid input
// rather than a failure.
func IsUsageError(err error) bool {
	for _, target := range []error{
		apperrors.ErrPageIDRequired,
		apperrors.ErrTitleRequired,
		apperrors.ErrContentRequired,
		apperrors.ErrContentAndFile,
		apperrors.ErrImportFileRequired,
		apperrors.ErrInvalidConfig,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
