package picker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// ansiRE matches CSI, OSC, charset and other two-byte escape sequences.
var ansiRE = regexp.MustCompile(`\x1b(?:` +
	`\[[0-9;?]*[A-Za-z]` +
	`|` +
	`\].*?(?:\x1b\\|\x07)` +
	`|` +
	`[()][A-B0-2]` +
	`|` +
	`[#()*+\-./][A-Za-z0-9]` +
	`)`)

// controlReplacer flattens line structure so one item renders as one row.
var controlReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", "  ")

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// ValidateUTF8 replaces invalid UTF-8 byte sequences with U+FFFD.
func ValidateUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// Clean prepares backend-supplied text for single-line display.
func Clean(s string) string {
	if s == "" {
		return s
	}
	return controlReplacer.Replace(StripANSI(ValidateUTF8(s)))
}

// Truncate cuts s to maxWidth display columns, ending with an ellipsis when
// anything was removed.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}

// MiddleTruncate shortens s to maxWidth display columns by replacing its
// middle with an ellipsis, which keeps both ends of a file path readable.
func MiddleTruncate(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth < 3 {
		return headWithin(s, maxWidth)
	}

	const ellipsis = "…"
	remaining := maxWidth - 1
	return headWithin(s, (remaining+1)/2) + ellipsis + tailWithin(s, remaining/2)
}

// headWithin returns the longest prefix of s no wider than maxWidth.
func headWithin(s string, maxWidth int) string {
	w := 0
	for i, r := range s {
		rw := runewidth.RuneWidth(r)
		if w+rw > maxWidth {
			return s[:i]
		}
		w += rw
	}
	return s
}

// tailWithin returns the longest suffix of s no wider than maxWidth.
func tailWithin(s string, maxWidth int) string {
	runes := []rune(s)
	w := 0
	start := len(runes)
	for i := len(runes) - 1; i >= 0; i-- {
		rw := runewidth.RuneWidth(runes[i])
		if w+rw > maxWidth {
			break
		}
		w += rw
		start = i
	}
	return string(runes[start:])
}
