// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring and command dispatch for echo.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/jeranaias/echo/internal/catalog"
	"github.com/jeranaias/echo/internal/cloud"
	"github.com/jeranaias/echo/internal/config"
	"github.com/jeranaias/echo/internal/logging"
	"github.com/jeranaias/echo/internal/model"
	"github.com/jeranaias/echo/internal/session"
	"github.com/jeranaias/echo/internal/storage"
)

// Version information (overridden from main at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const usageText = `echo - chat with OpenRouter models, one room per conversation

Usage:
  echo chat [room]                    Interactive chat (default command)
  echo ask <room> <prompt> [--no-stream] [--model ID]
                                      Send one message and print the reply
  echo rooms [--json]                 List rooms, newest first
  echo new <name>                     Create a room
  echo rename <room> <name>           Rename a room
  echo rm <room>                      Delete a room and its messages
  echo clear <room> [--all]           Clear a room (keeps the system prompt
                                      unless --all is given)
  echo history <room> [--json]        Print a room's messages
  echo export <room> [--format md|json] [--output PATH|-] [--no-system]
                                      Save a room's messages to a file
  echo models [--free] [--refresh] [--json]
                                      List available models
  echo ping                           Test the connection and API key
  echo doctor [--json]                Check configuration, database and API
  echo setup                          Set the API key and default model
  echo config [show|get|set|keys|path]
                                      View or change configuration
  echo version                        Show version information
  echo help                           Show this help

A room can be given by id, unique id prefix or exact name.

Environment:
  OPENROUTER_API_KEY   API key (overrides cloud.api_key)
  ECHO_HOME            Config directory (default ~/.echo)
  ECHO_MODEL           Default model
  DB_PATH              Chat database path
  NO_COLOR             Disable colors

Version: %s
`

// App holds the wired components used by the commands.
type App struct {
	Config   *config.Config
	Store    *storage.Store
	Provider cloud.Provider
	Catalog  *catalog.Catalog
	Session  *session.Manager
	Logger   *slog.Logger

	Out io.Writer
	Err io.Writer

	// markdown enables glamour rendering of complete replies.
	markdown bool
}

// NewApp opens the store and builds the provider, catalog and session
// manager described by cfg.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database %s: %w", dbPath, err)
	}
	store.WithLogger(logger.With(slog.String("component", "storage")))

	provider, err := cloud.New(cfg.Cloud, logger.With(slog.String("component", "cloud")))
	if err != nil {
		store.Close()
		return nil, err
	}

	app := newApp(cfg, store, provider, logger)
	app.markdown = IsStdoutTTY()
	return app, nil
}

// newApp wires already-built dependencies.
func newApp(cfg *config.Config, store *storage.Store, provider cloud.Provider, logger *slog.Logger) *App {
	cat := catalog.New(provider,
		catalog.WithRefreshInterval(cfg.Catalog.RefreshInterval()),
		catalog.WithLogger(logger.With(slog.String("component", "catalog"))))

	temp := cfg.Cloud.Temperature
	mgr := session.NewManager(store, provider, cat, session.Config{
		Model:        cfg.Cloud.DefaultModel,
		SystemPrompt: cfg.Chat.SystemPrompt,
		HistoryPairs: cfg.Chat.HistoryPairs,
		Streaming:    cfg.Chat.Streaming,
		Temperature:  &temp,
		MaxTokens:    cfg.Cloud.MaxTokens,
		Logger:       logger.With(slog.String("component", "session")),
	})

	return &App{
		Config:   cfg,
		Store:    store,
		Provider: provider,
		Catalog:  cat,
		Session:  mgr,
		Logger:   logger,
		Out:      os.Stdout,
		Err:      os.Stderr,
	}
}

// Close cancels in-flight requests and closes the store.
func (a *App) Close() error {
	if n := a.Session.CancelAll(); n > 0 {
		a.Logger.Info("canceled in-flight requests on exit", slog.Int("count", n))
	}
	return a.Store.Close()
}

// Run dispatches one command. args excludes the program name.
func (a *App) Run(ctx context.Context, args []string) error {
	cmd, rest := "chat", []string(nil)
	if len(args) > 0 {
		cmd, rest = strings.ToLower(args[0]), args[1:]
	}

	a.Logger.Debug("command", slog.String("name", cmd))

	switch cmd {
	case "chat":
		return a.runChat(ctx, rest)
	case "ask":
		return a.runAsk(ctx, rest)
	case "rooms", "ls":
		return a.runRooms(ctx, rest)
	case "new":
		return a.runNew(ctx, rest)
	case "rename":
		return a.runRename(ctx, rest)
	case "rm", "delete":
		return a.runDelete(ctx, rest)
	case "clear":
		return a.runClear(ctx, rest)
	case "history":
		return a.runHistory(ctx, rest)
	case "export":
		return a.runExport(ctx, rest)
	case "models":
		return a.runModels(ctx, rest)
	case "ping":
		return a.runPing(ctx)
	case "doctor":
		return a.runDoctor(ctx, rest)
	case "version", "--version", "-v":
		printVersion(a.Out)
		return nil
	case "help", "--help", "-h":
		printUsage(a.Out)
		return nil
	default:
		reason := fmt.Sprintf("unknown command %q", cmd)
		if s := SuggestCommand(cmd); s != "" {
			reason += fmt.Sprintf(" (did you mean %q?)", s)
		}
		return usageErr(cmd, "help", reason)
	}
}

// resolveRoom finds a room by exact id, unique id prefix or exact name.
func (a *App) resolveRoom(ctx context.Context, ref string) (model.Room, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.Room{}, &model.ValidationError{Field: "room", Message: "room id or name is required"}
	}

	room, err := a.Store.GetRoom(ctx, ref)
	if err == nil || !errors.Is(err, model.ErrNotFound) {
		return room, err
	}

	rooms, err := a.Store.ListRooms(ctx)
	if err != nil {
		return model.Room{}, err
	}

	var byPrefix, byName []model.Room
	for _, r := range rooms {
		if strings.HasPrefix(r.ID, ref) {
			byPrefix = append(byPrefix, r)
		}
		if strings.EqualFold(r.Name, ref) {
			byName = append(byName, r)
		}
	}
	switch {
	case len(byPrefix) == 1:
		return byPrefix[0], nil
	case len(byPrefix) > 1:
		return model.Room{}, &model.ValidationError{Field: "room", Message: fmt.Sprintf("%q matches %d rooms; use more of the id", ref, len(byPrefix))}
	case len(byName) == 1:
		return byName[0], nil
	case len(byName) > 1:
		return model.Room{}, &model.ValidationError{Field: "room", Message: fmt.Sprintf("%d rooms are named %q; use the id", len(byName), ref)}
	}
	return model.Room{}, model.RoomNotFound(ref)
}

// =============================================================================
// ENTRY POINT
// =============================================================================

// Main runs echo with args (excluding the program name) and returns the
// process exit code.
func Main(args []string) int {
	cmd := ""
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
	}

	switch cmd {
	case "version", "--version", "-v":
		printVersion(os.Stdout)
		return ExitSuccess
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return ExitSuccess
	}

	cfg, err := config.Load()
	if err != nil {
		DisplayError(os.Stderr, err)
		return ExitConfigError
	}

	logger, err := logging.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s logging disabled: %v\n", WarningStyle.Render("[WARN]"), err)
	}

	// config and setup work without the database.
	switch cmd {
	case "config":
		err := runConfig(os.Stdout, cfg, args[1:])
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	case "setup":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err := runSetup(ctx, os.Stdin, os.Stdout, logger)
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		DisplayError(os.Stderr, err)
		return GetExitCode(err)
	}
	defer app.Close()

	// The chat REPL handles Ctrl-C itself; every other command stops on it.
	ctx := context.Background()
	if cmd != "chat" && cmd != "" {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
	}

	err = app.Run(ctx, args)
	if err != nil {
		logger.Error("command failed",
			slog.String("command", cmd),
			slog.String("kind", cloud.Kind(err)),
			slog.String("error", err.Error()))
		DisplayError(os.Stderr, err)
	}
	return GetExitCode(err)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "echo version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s\n", runtime.Version())
}
