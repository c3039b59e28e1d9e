// Package commander runs the interactive command loop: it drives a picker
// through completion rounds against the backend, dispatches the chosen
// command, and narrows result lists down to a single path.
package commander

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/runger/xt/internal/history"
	"github.com/runger/xt/internal/ipc"
	"github.com/runger/xt/internal/picker"
)

const (
	// DefaultDebounce coalesces keystrokes before a completion fetch.
	DefaultDebounce = 200 * time.Millisecond

	// DefaultPlaceholder is shown when there is no prefix.
	DefaultPlaceholder = "XT Command"
)

// Window is the user-facing notification surface.
type Window interface {
	ShowMessage(msg string)
	ShowWarning(msg string)
	ShowError(msg string)
	// InputBox asks for a line of text; ok is false on cancel.
	InputBox(ctx context.Context, prompt, placeholder string) (value string, ok bool, err error)
	WriteClipboard(text string) error
}

// Options configures a Commander.
type Options struct {
	Caller   ipc.Caller
	Pickers  picker.Factory
	History  *history.Store
	Window   Window
	Opener   Opener
	Debounce time.Duration

	// Placeholder is shown when the prefix is empty.
	Placeholder string

	Logger *slog.Logger
}

// Commander runs command sessions. It holds no per-session state.
type Commander struct {
	caller      ipc.Caller
	pickers     picker.Factory
	history     *history.Store
	window      Window
	opener      Opener
	debounce    time.Duration
	placeholder string
	logger      *slog.Logger
}

// New creates a Commander. Caller and Pickers are required.
func New(opts Options) *Commander {
	c := &Commander{
		caller:      opts.Caller,
		pickers:     opts.Pickers,
		history:     opts.History,
		window:      opts.Window,
		opener:      opts.Opener,
		debounce:    opts.Debounce,
		placeholder: opts.Placeholder,
		logger:      opts.Logger,
	}
	if c.debounce <= 0 {
		c.debounce = DefaultDebounce
	}
	if c.placeholder == "" {
		c.placeholder = DefaultPlaceholder
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.window == nil {
		c.window = nopWindow{}
	}
	return c
}

// Command is the top-level handler: it runs a session starting at prefix and
// opens the resulting path. Every error is shown to the user and logged
// before being returned.
func (c *Commander) Command(ctx context.Context, prefix string) error {
	err := c.command(ctx, prefix)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("command failed", "prefix", prefix, "error", err)
		c.window.ShowError(err.Error())
	}
	return err
}

func (c *Commander) command(ctx context.Context, prefix string) error {
	result, err := c.Run(ctx, prefix, "")
	if err != nil {
		return err
	}
	if result == "" || c.opener == nil {
		return nil
	}
	path, loc := SplitGoto(result)
	if err := c.opener.Open(ctx, path, loc); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}

// Run executes one command session and returns its terminal value. An empty
// result with a nil error means the user cancelled.
func (c *Commander) Run(ctx context.Context, prefix, value string) (string, error) {
	return c.round(ctx, prefix, value, nil)
}

// round runs one completion round; supplied completions are shown without
// fetching.
func (c *Commander) round(ctx context.Context, prefix, value string, supplied *CompletionResponse) (string, error) {
	p := c.pickers()
	logger := c.logger.With("session", uuid.NewString())
	s := newSession(c, p, logger, prefix, value)
	out := s.run(ctx, supplied)
	p.Dispose()

	switch {
	case out.err != nil:
		return "", out.err
	case out.cancelled:
		logger.Debug("session cancelled")
		return "", nil
	case out.result == nil:
		return out.path, nil
	}
	return c.dispatch(ctx, s.prefix, out.value, out.command, out.result)
}

// dispatch acts on a do_command result for command.
func (c *Commander) dispatch(ctx context.Context, prefix, value, command string, res *DispatchResult) (string, error) {
	switch res.Type {
	case TypeSuccess:
		if !res.NoHistory {
			c.remember(command)
		}
		return res.String(), nil

	case TypeError:
		msg := res.Message
		if msg == "" {
			msg = defaultErrorMessage
			c.logger.Warn("error result without message", "command", command)
		}
		return "", &CommandError{Message: msg}
	}

	comp := res.Completions
	if comp.ClearHistory && comp.Command != "" {
		return "", c.confirmClearHistory(ctx, comp.Command)
	}
	if comp.FilterResults {
		if !res.NoHistory && !comp.NoHistory {
			c.remember(command)
		}
		return c.filterResults(ctx, comp, command)
	}

	if comp.Value != nil {
		prefix, value = splitPrefix(prefix, *comp.Value)
	}
	return c.round(ctx, prefix, value, comp)
}

// remember records "<key> <remainder>" in the history of key.
func (c *Commander) remember(command string) {
	if c.history == nil {
		return
	}
	key, rest, ok := strings.Cut(command, " ")
	if !ok || strings.TrimSpace(key) == "" || rest == "" {
		return
	}
	if err := c.history.Update(key, rest); err != nil {
		c.logger.Warn("history update failed", "command", key, "error", err)
	}
}

// confirmClearHistory clears the history of command after the user types
// the confirmation phrase exactly.
func (c *Commander) confirmClearHistory(ctx context.Context, command string) error {
	phrase := fmt.Sprintf("clear %s history", command)
	answer, ok, err := c.window.InputBox(ctx, fmt.Sprintf("Type '%s' to confirm", phrase), phrase)
	if err != nil {
		return err
	}
	if !ok || answer == "" {
		return nil
	}
	if answer != phrase {
		c.window.ShowWarning(fmt.Sprintf("%s history not cleared", command))
		return nil
	}
	if c.history == nil {
		return nil
	}
	if err := c.history.Clear(command); err != nil {
		return fmt.Errorf("clear %s history: %w", command, err)
	}
	c.window.ShowMessage(fmt.Sprintf("%s history cleared", command))
	return nil
}

func (c *Commander) getCompletions(ctx context.Context, text string) (*CompletionResponse, error) {
	raw, err := ipc.Exec(ctx, c.caller, "get_completions", text)
	if err != nil {
		return nil, err
	}
	resp := &CompletionResponse{Items: []Item{}}
	if isNull(raw) {
		return resp, nil
	}
	if err := json.Unmarshal(raw, resp); err != nil {
		return nil, fmt.Errorf("decode completions: %w", err)
	}
	return resp, nil
}

func (c *Commander) doCommand(ctx context.Context, command string) (*DispatchResult, error) {
	raw, err := ipc.Exec(ctx, c.caller, "do_command", command)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return &DispatchResult{Type: TypeSuccess}, nil
	}
	var res DispatchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode command result: %w", err)
	}
	return &res, nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// splitPrefix divides full into the fixed prefix and the editable rest. A
// full text that no longer starts with prefix becomes entirely editable.
func splitPrefix(prefix, full string) (string, string) {
	if strings.HasPrefix(full, prefix) {
		return prefix, full[len(prefix):]
	}
	return "", full
}

type nopWindow struct{}

func (nopWindow) ShowMessage(string) {}
func (nopWindow) ShowWarning(string) {}
func (nopWindow) ShowError(string)   {}
func (nopWindow) InputBox(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}
func (nopWindow) WriteClipboard(string) error { return errors.New("no clipboard") }
