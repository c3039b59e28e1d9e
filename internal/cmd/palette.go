package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/termenv"

	"github.com/runger/xt/internal/commander"
	"github.com/runger/xt/internal/config"
	"github.com/runger/xt/internal/editor"
	"github.com/runger/xt/internal/history"
	"github.com/runger/xt/internal/ipc"
	xtlog "github.com/runger/xt/internal/log"
	"github.com/runger/xt/internal/picker"
	"github.com/runger/xt/internal/proxy"
	"github.com/runger/xt/internal/storage"
	"github.com/runger/xt/internal/window"
	"github.com/runger/xt/internal/workspace"
)

// runPalette connects to the backend and runs one command session.
func runPalette(ctx context.Context, prefix string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	paths := config.DefaultPaths()

	logger, logFile, err := openLogger(cfg, paths)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger = logger.With("session", uuid.NewString())

	tty, err := window.OpenTTY()
	if err != nil {
		return fmt.Errorf("xt needs an interactive terminal: %w", err)
	}
	defer tty.Close()
	if err := window.CheckTerminal(tty); err != nil {
		return err
	}
	lipgloss.SetColorProfile(termenv.NewOutput(tty).ColorProfile())

	win := window.New(window.Options{
		Output:       os.Stderr,
		PromptInput:  tty,
		PromptOutput: tty,
		Logger:       logger,
	})

	store, hist, err := openHistory(cfg, paths, logger)
	if err != nil {
		win.ShowError(err.Error())
		return err
	}
	defer store.Close()

	buf, err := openBuffer(filePath)
	if err != nil {
		win.ShowError(err.Error())
		return err
	}

	ns := newNamespace(cfg, buf, win, hist, logger)
	client, backend, err := connect(ctx, cfg, ns, logger)
	if err != nil {
		logger.Error("backend connection failed", "error", err)
		win.ShowError(err.Error())
		return err
	}
	defer backend.Close()

	if cfg.UserScript != "" {
		scriptCtx, stopScript := context.WithCancel(ctx)
		defer stopScript()
		go loadUserScript(scriptCtx, client, expandHome(cfg.UserScript), win, logger)
	}

	editorArgv, err := cfg.EditorArgv()
	if err != nil {
		return err
	}

	c := commander.New(commander.Options{
		Caller: client,
		Pickers: picker.NewFactory(picker.Options{
			Input:   tty,
			Output:  tty,
			Logger:  logger,
			MaxRows: cfg.Picker.MaxRows,
		}),
		History:     hist,
		Window:      win,
		Opener:      &editorOpener{argv: editorArgv, tty: tty, out: os.Stdout},
		Debounce:    cfg.Debounce(),
		Placeholder: cfg.Picker.Placeholder,
		Logger:      logger,
	})

	err = c.Command(ctx, prefix)
	if buf != nil && buf.Dirty() {
		if serr := buf.Save(); serr != nil {
			logger.Error("failed to save buffer", "path", buf.Path(), "error", serr)
			win.ShowError(serr.Error())
			return errors.Join(err, serr)
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openLogger creates the xt directories and opens the file logger. The TUI
// owns the terminal, so logs never go to stderr.
func openLogger(cfg *config.Config, paths *config.Paths) (*slog.Logger, *os.File, error) {
	if err := paths.EnsureDirectories(); err != nil {
		return nil, nil, fmt.Errorf("failed to create xt directories: %w", err)
	}
	path := cfg.Log.File
	if path == "" {
		path = paths.LogFile()
	}
	level := cfg.Log.Level
	if os.Getenv("XT_DEBUG") == "1" {
		level = "debug"
	}
	logger, f, err := xtlog.OpenFile(path, level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, f, nil
}

// openHistory opens the SQLite state store and the history over it.
func openHistory(cfg *config.Config, paths *config.Paths, logger *slog.Logger) (*storage.SQLiteStore, *history.Store, error) {
	dbPath := cfg.History.Database
	if dbPath == "" {
		dbPath = paths.DatabaseFile()
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	store.WithLogger(logger)
	hist := history.New(store, history.WithLimit(cfg.History.Limit), history.WithLogger(logger))
	return store, hist, nil
}

// openBuffer loads path as the active editor surface; nil when path is empty.
func openBuffer(path string) (*editor.Buffer, error) {
	if path == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return editor.LoadFile(abs)
}

// errorReporter shows an error to the user.
type errorReporter interface {
	ShowError(msg string)
}

// loadUserScript runs alongside the session; a failure is reported but never
// ends it.
func loadUserScript(ctx context.Context, c ipc.Caller, path string, win errorReporter, logger *slog.Logger) {
	err := ipc.LoadUserScript(ctx, c, path)
	switch {
	case err == nil:
		logger.Debug("user script loaded", "path", path)
	case ctx.Err() != nil:
		logger.Debug("user script load abandoned", "path", path, "error", err)
	default:
		logger.Warn("user script failed", "path", path, "error", err)
		win.ShowError(err.Error())
	}
}

// newNamespace builds the objects the backend may address.
func newNamespace(cfg *config.Config, buf *editor.Buffer, win *window.Terminal, hist *history.Store, logger *slog.Logger) *proxy.Namespace {
	active := func() editor.Surface {
		if buf == nil {
			return nil
		}
		return buf
	}
	ed := editor.New(active)
	var folders []string
	if root := workspaceRoot(cfg.Server.Cwd); root != "" {
		folders = append(folders, root)
	}
	ws := workspace.New(workspace.Options{
		ActivePath: ed.FilePath,
		Folders:    folders,
		Settings:   cfg,
	})
	return proxy.NewNamespace(map[string]proxy.Object{
		"editor":  ed.Object(),
		"window":  win.Object(),
		"history": hist.Object(),
		"vscode":  ws.Object(),
	}, logger)
}

// connect starts or dials the backend and completes the handshake. The
// returned closer shuts the backend down.
func connect(ctx context.Context, cfg *config.Config, ns *proxy.Namespace, logger *slog.Logger) (*ipc.Client, io.Closer, error) {
	var (
		t      *ipc.Transport
		closer io.Closer
	)
	switch {
	case cfg.Server.Address != "" || cfg.Server.DebugMode:
		addr := cfg.Server.Address
		if addr == "" {
			addr = ipc.DebugAddress(cfg.Server.DebugPort)
		}
		logger.Debug("dialing backend", "addr", addr)
		conn, err := ipc.DialTCP(ctx, addr)
		if err != nil {
			return nil, nil, err
		}
		t, closer = conn, conn
	default:
		argv, err := cfg.ServerArgv()
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("starting backend", "argv", argv, "cwd", cfg.Server.Cwd)
		proc, err := ipc.Spawn(argv, cfg.Server.Cwd, &stderrLog{logger: logger})
		if err != nil {
			return nil, nil, err
		}
		t, closer = proc.Transport, proc
	}

	client := ipc.NewClient(ctx, t, ipc.WithLogger(logger))
	client.OnRequest(cfg.Server.ResolveMethod, func(ctx context.Context, params json.RawMessage) (any, error) {
		return ns.Handle(ctx, params), nil
	})

	initCtx, cancel := context.WithTimeout(ctx, ipc.InitializeTimeout)
	defer cancel()
	if err := client.Initialize(initCtx, rootURI(cfg.Server.Cwd)); err != nil {
		_ = closer.Close()
		return nil, nil, fmt.Errorf("backend initialize failed: %w", err)
	}
	return client, closer, nil
}

// workspaceRoot returns dir, or the working directory, as an absolute path.
func workspaceRoot(dir string) string {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ""
		}
		dir = wd
	}
	dir = expandHome(dir)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return dir
}

// rootURI returns a file URI for dir, or for the working directory.
func rootURI(dir string) string {
	root := workspaceRoot(dir)
	if root == "" {
		return ""
	}
	return workspace.FileURI(root).String()
}

// expandHome replaces a leading "~/" with the home directory.
func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// stderrLog forwards backend stderr to the log.
type stderrLog struct {
	logger *slog.Logger
}

func (w *stderrLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Info("backend", "stderr", line)
		}
	}
	return len(p), nil
}
