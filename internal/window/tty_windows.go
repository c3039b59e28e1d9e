//go:build windows

package window

import (
	"fmt"
	"os"
)

// OpenTTY opens the console for the interactive UI.
func OpenTTY() (*os.File, error) {
	f, err := os.OpenFile("CONIN$", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("no console available: %w", err)
	}
	return f, nil
}

// CheckTerminal only rejects TERM=dumb; console width is not checked.
func CheckTerminal(*os.File) error {
	if os.Getenv("TERM") == "dumb" {
		return fmt.Errorf("TERM=dumb is not supported")
	}
	return nil
}
