package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"golang.org/x/sys/execabs"

	"github.com/runger/xt/internal/commander"
)

// runEditor is replaced in tests.
var runEditor = func(ctx context.Context, argv []string, tty *os.File) error {
	cmd := execabs.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	return cmd.Run()
}

// editorOpener opens command results in an external editor, or prints them
// when no editor is configured.
type editorOpener struct {
	argv []string
	tty  *os.File
	out  io.Writer
}

// Open implements commander.Opener.
func (o *editorOpener) Open(ctx context.Context, path string, loc *commander.Goto) error {
	if len(o.argv) == 0 {
		if loc != nil {
			_, err := fmt.Fprintf(o.out, "%s:%d:%d\n", path, loc.Line, loc.Start+1)
			return err
		}
		_, err := fmt.Fprintln(o.out, path)
		return err
	}
	return runEditor(ctx, editorArgs(o.argv, path, loc), o.tty)
}

// editorArgs appends the "+line" convention understood by vi, emacs and
// nano, followed by path.
func editorArgs(argv []string, path string, loc *commander.Goto) []string {
	args := append([]string(nil), argv...)
	if loc != nil && loc.Line > 0 {
		args = append(args, "+"+strconv.Itoa(loc.Line))
	}
	return append(args, path)
}
