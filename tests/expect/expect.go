//go:build !windows

// Package expect drives the xt binary through a pseudo-terminal using
// go-expect, against an in-process backend.
package expect

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"testing"
	"time"

	expect "github.com/Netflix/go-expect"
	"github.com/creack/pty"
)

// Key constants for special keys (ANSI escape sequences)
const (
	KeyUp     = "\x1b[A"
	KeyDown   = "\x1b[B"
	KeyEscape = "\x1b"
	KeyEnter  = "\r"
	KeyTab    = "\t"
	KeyCtrlC  = "\x03"
)

var (
	buildOnce sync.Once
	binPath   string
	buildErr  error
)

// Binary returns the path of an xt binary: $XT_BIN when set, otherwise one
// built from this module once per test run.
func Binary(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("XT_BIN"); p != "" {
		return p
	}
	buildOnce.Do(func() {
		goTool, err := exec.LookPath("go")
		if err != nil {
			buildErr = err
			return
		}
		root, err := moduleRoot()
		if err != nil {
			buildErr = err
			return
		}
		dir, err := os.MkdirTemp("", "xt-expect-")
		if err != nil {
			buildErr = err
			return
		}
		binPath = filepath.Join(dir, "xt")
		cmd := exec.Command(goTool, "build", "-o", binPath, "./cmd/xt") //nolint:gosec // G204: fixed build command
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("go build: %w\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Skipf("xt binary not available: %v", buildErr)
	}
	return binPath
}

// moduleRoot walks up from the working directory to the go.mod.
func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found")
		}
		dir = parent
	}
}

// Session is one xt process attached to a pseudo-terminal.
type Session struct {
	Console *expect.Console
	Timeout time.Duration
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	timeout    time.Duration
	env        []string
	showOutput bool
	rows, cols uint16
}

// WithTimeout sets the default timeout for expect operations.
func WithTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

// WithEnv adds environment variables to the xt process.
func WithEnv(env ...string) SessionOption {
	return func(c *sessionConfig) {
		c.env = append(c.env, env...)
	}
}

// WithOutput copies the terminal output to stdout for debugging.
func WithOutput(show bool) SessionOption {
	return func(c *sessionConfig) {
		c.showOutput = show
	}
}

// WithSize sets the terminal size.
func WithSize(rows, cols uint16) SessionOption {
	return func(c *sessionConfig) {
		c.rows, c.cols = rows, cols
	}
}

// NewSession starts xt with args. The pseudo-terminal becomes the process's
// controlling terminal, so xt finds it through /dev/tty.
func NewSession(bin string, args []string, opts ...SessionOption) (*Session, error) {
	cfg := &sessionConfig{
		timeout: 5 * time.Second,
		rows:    24,
		cols:    200,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	consoleOpts := []expect.ConsoleOpt{expect.WithDefaultTimeout(cfg.timeout)}
	if cfg.showOutput {
		consoleOpts = append(consoleOpts, expect.WithStdout(os.Stdout))
	}
	console, err := expect.NewConsole(consoleOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create console: %w", err)
	}
	if err := pty.Setsize(console.Tty(), &pty.Winsize{Rows: cfg.rows, Cols: cfg.cols}); err != nil {
		console.Close()
		return nil, fmt.Errorf("failed to size console: %w", err)
	}

	cmd := exec.Command(bin, args...) //nolint:gosec // G204: bin is the binary under test
	cmd.Stdin = console.Tty()
	cmd.Stdout = console.Tty()
	cmd.Stderr = console.Tty()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 0}
	cmd.Env = append(os.Environ(), cfg.env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	if err := cmd.Start(); err != nil {
		console.Close()
		return nil, fmt.Errorf("failed to start xt: %w", err)
	}

	s := &Session{
		Console: console,
		Timeout: cfg.timeout,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	go func() {
		s.waitErr = cmd.Wait()
		close(s.done)
	}()
	return s, nil
}

// Send types text without a newline.
func (s *Session) Send(text string) error {
	_, err := s.Console.Send(text)
	return err
}

// SendKey sends a special key (use Key* constants).
func (s *Session) SendKey(key string) error {
	_, err := s.Console.Send(key)
	return err
}

// Expect waits for an exact string in the output.
func (s *Session) Expect(str string) (string, error) {
	return s.Console.ExpectString(str)
}

// ExpectTimeout waits for an exact string with a specific timeout.
func (s *Session) ExpectTimeout(str string, timeout time.Duration) (string, error) {
	return s.Console.Expect(expect.String(str), expect.WithTimeout(timeout))
}

// ExpectRegex waits for a regex pattern match in the output.
func (s *Session) ExpectRegex(pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex: %w", err)
	}
	return s.Console.Expect(expect.Regexp(re))
}

// Wait waits for xt to exit and returns its exit error.
func (s *Session) Wait(timeout time.Duration) error {
	select {
	case <-s.done:
		return s.waitErr
	case <-time.After(timeout):
		return fmt.Errorf("xt did not exit within %v", timeout)
	}
}

// Close kills xt if it is still running and releases the terminal.
func (s *Session) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	return s.Console.Close()
}

// SkipIfShort skips the test if running in short mode.
func SkipIfShort(t interface {
	Skip(args ...interface{})
}, reason string) {
	if testing.Short() {
		t.Skip("skipping in short mode: " + reason)
	}
}
