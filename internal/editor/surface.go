// Package editor adapts the active text surface to offset-based text and
// selection operations for the remote proxy.
package editor

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Range is a selection as [anchor, active] rune offsets. Anchor is where the
// selection started; anchor > active is a backward selection.
type Range [2]int

// Start returns the lower offset.
func (r Range) Start() int { return min(r[0], r[1]) }

// End returns the higher offset.
func (r Range) End() int { return max(r[0], r[1]) }

// Reversed reports a backward selection.
func (r Range) Reversed() bool { return r[0] > r[1] }

// Replacement replaces [Start, End) of the pre-edit text with Text.
type Replacement struct {
	Start int
	End   int
	Text  string
}

// Surface is an editable text document with selections.
type Surface interface {
	Text() string
	Selections() []Range
	SetSelections([]Range)
	// Replace applies all replacements as one edit. Offsets refer to the
	// text before the edit and must not overlap.
	Replace([]Replacement) error
	Path() string
}

// Buffer is an in-memory Surface, optionally backed by a file.
type Buffer struct {
	mu    sync.Mutex
	text  []rune
	sels  []Range
	path  string
	dirty bool
}

// Compile-time check that Buffer implements Surface.
var _ Surface = (*Buffer)(nil)

// NewBuffer returns a buffer holding text with the cursor at offset 0.
func NewBuffer(text string) *Buffer {
	return &Buffer{text: []rune(text), sels: []Range{{0, 0}}}
}

// LoadFile reads path into a new buffer. A missing file yields an empty
// buffer that will be created on Save.
func LoadFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	b := NewBuffer(string(data))
	b.path = path
	return b, nil
}

// Text implements Surface.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text)
}

// Path implements Surface.
func (b *Buffer) Path() string {
	return b.path
}

// Selections implements Surface.
func (b *Buffer) Selections() []Range {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Range(nil), b.sels...)
}

// SetSelections implements Surface. Offsets are clamped to the text.
func (b *Buffer) SetSelections(sels []Range) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sels = b.sels[:0]
	for _, r := range sels {
		b.sels = append(b.sels, Range{b.clamp(r[0]), b.clamp(r[1])})
	}
	if len(b.sels) == 0 {
		b.sels = append(b.sels, Range{0, 0})
	}
}

// Replace implements Surface.
func (b *Buffer) Replace(edits []Replacement) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sorted := append([]Replacement(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, e := range sorted {
		if e.Start < 0 || e.End < e.Start || e.End > len(b.text) {
			return fmt.Errorf("replacement [%d, %d) out of range", e.Start, e.End)
		}
		if i > 0 && e.Start < sorted[i-1].End {
			return fmt.Errorf("overlapping replacements at %d", e.Start)
		}
	}

	// Apply back to front so earlier offsets stay valid.
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		tail := append([]rune(e.Text), b.text[e.End:]...)
		b.text = append(b.text[:e.Start], tail...)
	}
	if len(sorted) > 0 {
		b.dirty = true
	}
	for i := range b.sels {
		b.sels[i] = Range{b.clamp(b.sels[i][0]), b.clamp(b.sels[i][1])}
	}
	return nil
}

// Dirty reports unsaved edits.
func (b *Buffer) Dirty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirty
}

// Save writes the buffer to its file.
func (b *Buffer) Save() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.path == "" {
		return fmt.Errorf("buffer has no file")
	}
	if err := os.WriteFile(b.path, []byte(string(b.text)), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", b.path, err)
	}
	b.dirty = false
	return nil
}

func (b *Buffer) clamp(off int) int {
	if off < 0 {
		return 0
	}
	if off > len(b.text) {
		return len(b.text)
	}
	return off
}
