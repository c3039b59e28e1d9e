package commander

import (
	"context"
	"regexp"
	"strconv"
)

// gotoRE splits "<path>[:line[:start[:length]]]".
var gotoRE = regexp.MustCompile(`^(.*?)(?::(\d+)(?::(\d+)(?::(\d+))?)?)?$`)

// SplitGoto separates a trailing line/start/length locator from path. The
// locator is nil when path has no numeric suffix. Numbers are returned as
// written: line is 1-based, start is a 0-based column.
func SplitGoto(path string) (string, *Goto) {
	m := gotoRE.FindStringSubmatch(path)
	if m == nil || m[2] == "" {
		return path, nil
	}
	g := &Goto{Line: atoi(m[2]), Start: atoi(m[3]), Length: atoi(m[4])}
	return m[1], g
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Opener performs the follow-on action for a finished command, typically
// opening the file at the locator.
type Opener interface {
	Open(ctx context.Context, path string, loc *Goto) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string, loc *Goto) error

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, path string, loc *Goto) error {
	return f(ctx, path, loc)
}
