//go:build !windows

package window

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// minWidth is the narrowest terminal the picker renders in.
const minWidth = 20

// OpenTTY opens the controlling terminal for the interactive UI, leaving
// stdin and stdout free for data.
func OpenTTY() (*os.File, error) {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no TTY available: %w", err)
	}
	return f, nil
}

// CheckTerminal verifies that f is a usable terminal.
func CheckTerminal(f *os.File) error {
	if os.Getenv("TERM") == "dumb" {
		return fmt.Errorf("TERM=dumb is not supported")
	}
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return fmt.Errorf("cannot get terminal size: %w", err)
	}
	if ws.Col < minWidth {
		return fmt.Errorf("terminal too narrow (%d columns, need at least %d)", ws.Col, minWidth)
	}
	return nil
}
