// Package window is the terminal notification surface: status lines on
// stderr, a confirmation prompt, and the system clipboard.
package window

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"

	"github.com/runger/xt/internal/picker"
	"github.com/runger/xt/internal/proxy"
)

var (
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// writeAll is replaced in tests.
var writeAll = clipboard.WriteAll

// Options configures a Terminal.
type Options struct {
	// Output receives notifications. Defaults to stderr.
	Output io.Writer

	// PromptInput and PromptOutput carry the input box. They default to
	// stdin and Output.
	PromptInput  io.Reader
	PromptOutput io.Writer

	Logger *slog.Logger
}

// Terminal implements the commander's Window on a terminal.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	in     io.Reader
	prompt io.Writer
	logger *slog.Logger
}

// New creates a Terminal.
func New(opts Options) *Terminal {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.PromptInput == nil {
		opts.PromptInput = os.Stdin
	}
	if opts.PromptOutput == nil {
		opts.PromptOutput = opts.Output
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Terminal{
		out:    opts.Output,
		in:     opts.PromptInput,
		prompt: opts.PromptOutput,
		logger: opts.Logger,
	}
}

// ShowMessage prints an informational line.
func (t *Terminal) ShowMessage(msg string) {
	t.println(messageStyle, msg)
}

// ShowWarning prints a warning line.
func (t *Terminal) ShowWarning(msg string) {
	t.println(warningStyle, "warning: "+msg)
}

// ShowError prints an error line.
func (t *Terminal) ShowError(msg string) {
	t.println(errorStyle, "error: "+msg)
}

func (t *Terminal) println(style lipgloss.Style, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintln(t.out, style.Render(picker.Clean(msg))); err != nil {
		t.logger.Debug("notification not written", "error", err)
	}
}

// InputBox asks for one line of text. ok is false when the user cancelled.
func (t *Terminal) InputBox(ctx context.Context, prompt, placeholder string) (string, bool, error) {
	return picker.Prompt(ctx, picker.PromptOptions{
		Title:       prompt,
		Placeholder: placeholder,
		Input:       t.in,
		Output:      t.prompt,
	})
}

// WriteClipboard copies text to the system clipboard.
func (t *Terminal) WriteClipboard(text string) error {
	if err := writeAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// Object exposes the notification methods to the backend.
func (t *Terminal) Object() proxy.Object {
	notify := func(show func(string)) proxy.Member {
		return proxy.Func(func(_ context.Context, args proxy.Args) (any, error) {
			msg, err := args.String(0)
			if err != nil {
				return nil, err
			}
			show(msg)
			return nil, nil
		})
	}
	return proxy.Members{
		"show_message": notify(t.ShowMessage),
		"show_warning": notify(t.ShowWarning),
		"show_error":   notify(t.ShowError),
		"input_box": proxy.Func(func(ctx context.Context, args proxy.Args) (any, error) {
			var prompt, placeholder string
			if _, err := args.Optional(0, &prompt); err != nil {
				return nil, err
			}
			if _, err := args.Optional(1, &placeholder); err != nil {
				return nil, err
			}
			value, ok, err := t.InputBox(ctx, prompt, placeholder)
			if err != nil || !ok {
				return nil, err
			}
			return value, nil
		}),
	}
}
