package picker

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// defaultRows is the list height used before the first WindowSizeMsg.
const defaultRows = 10

// eventBuffer is the capacity of the event channel.
const eventBuffer = 64

// refreshMsg asks the program to re-render after an external setter.
type refreshMsg struct{}

// hideMsg asks the program to quit after Hide.
type hideMsg struct{}

// Options configures a TUI picker.
type Options struct {
	Input  io.Reader
	Output io.Writer
	Logger *slog.Logger

	// MaxRows caps the number of visible items. Zero uses the terminal height.
	MaxRows int
}

// TUI is a Picker rendered with Bubble Tea. Setters may be called from any
// goroutine; the program goroutine owns rendering.
type TUI struct {
	opts Options

	mu          sync.Mutex
	input       textinput.Model
	items       []Item
	visible     []Item
	active      int
	selected    []Item
	busy        bool
	matchDesc   bool
	matchDetail bool
	sortByLabel bool
	width       int
	height      int

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once
	hideOnce sync.Once

	program  *tea.Program
	finished chan struct{}
}

// Compile-time check that TUI implements Picker.
var _ Picker = (*TUI)(nil)

// NewTUI creates a hidden picker. Input and output default to stdin and
// stderr so stdout stays free for results.
func NewTUI(opts Options) *TUI {
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	in := textinput.New()
	in.Prompt = "> "
	in.PromptStyle = promptStyle
	in.PlaceholderStyle = dimStyle
	in.Focus()
	return &TUI{
		opts:   opts,
		input:  in,
		active: -1,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// NewFactory returns a Factory producing TUI pickers with opts.
func NewFactory(opts Options) Factory {
	return func() Picker { return NewTUI(opts) }
}

// Events implements Picker.
func (t *TUI) Events() <-chan Event {
	return t.events
}

// SetPlaceholder implements Picker.
func (t *TUI) SetPlaceholder(s string) {
	t.mu.Lock()
	t.input.Placeholder = s
	t.mu.Unlock()
	t.refresh()
}

// SetValue implements Picker. It does not emit ValueChanged, and the active
// item stays active while it remains visible.
func (t *TUI) SetValue(s string) {
	t.mu.Lock()
	prev := t.activeLocked()
	t.input.SetValue(s)
	t.input.CursorEnd()
	t.refilterLocked()
	if len(prev) == 1 {
		for i, it := range t.visible {
			if sameItem(it, prev[0]) {
				t.active = i
				break
			}
		}
	}
	t.mu.Unlock()
	t.refresh()
}

// SetItems implements Picker. The first visible item becomes active.
func (t *TUI) SetItems(items []Item) {
	t.mu.Lock()
	t.items = append([]Item(nil), items...)
	t.refilterLocked()
	t.mu.Unlock()
	t.refresh()
}

// SetBusy implements Picker.
func (t *TUI) SetBusy(b bool) {
	t.mu.Lock()
	t.busy = b
	t.mu.Unlock()
	t.refresh()
}

// SetIgnoreFocusOut implements Picker. A terminal has no focus to lose.
func (t *TUI) SetIgnoreFocusOut(bool) {}

// SetMatchOnDescription implements Picker.
func (t *TUI) SetMatchOnDescription(b bool) {
	t.mu.Lock()
	t.matchDesc = b
	t.refilterLocked()
	t.mu.Unlock()
}

// SetMatchOnDetail implements Picker.
func (t *TUI) SetMatchOnDetail(b bool) {
	t.mu.Lock()
	t.matchDetail = b
	t.refilterLocked()
	t.mu.Unlock()
}

// SetSortByLabel implements Picker.
func (t *TUI) SetSortByLabel(b bool) {
	t.mu.Lock()
	t.sortByLabel = b
	t.refilterLocked()
	t.mu.Unlock()
}

// Value implements Picker.
func (t *TUI) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input.Value()
}

// Items implements Picker.
func (t *TUI) Items() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Item(nil), t.items...)
}

// ActiveItems implements Picker.
func (t *TUI) ActiveItems() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked()
}

// SelectedItems implements Picker.
func (t *TUI) SelectedItems() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Item(nil), t.selected...)
}

// Show starts the terminal program. Calling it again is a no-op.
func (t *TUI) Show() {
	t.mu.Lock()
	if t.program != nil {
		t.mu.Unlock()
		return
	}
	p := tea.NewProgram(model{t}, tea.WithInput(t.opts.Input), tea.WithOutput(t.opts.Output))
	t.program = p
	t.finished = make(chan struct{})
	finished := t.finished
	t.mu.Unlock()

	go func() {
		defer close(finished)
		if _, err := p.Run(); err != nil {
			t.opts.Logger.Debug("picker program ended", "error", err)
		}
		t.emitHidden()
	}()
}

// Hide closes the picker. Hidden is emitted once.
func (t *TUI) Hide() {
	t.mu.Lock()
	p := t.program
	t.mu.Unlock()
	if p != nil {
		go p.Send(hideMsg{})
	}
	t.emitHidden()
}

// Dispose hides the picker and waits for the terminal to be restored.
// No events are delivered afterwards.
func (t *TUI) Dispose() {
	t.doneOnce.Do(func() { close(t.done) })
	t.Hide()
	t.mu.Lock()
	finished := t.finished
	t.mu.Unlock()
	if finished != nil {
		<-finished
	}
}

func (t *TUI) emitHidden() {
	t.hideOnce.Do(func() {
		t.emit(Event{Kind: Hidden, Value: t.Value()})
	})
}

func (t *TUI) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// refresh wakes the program so setters show up on screen. Send blocks until
// the program loop reads it, so it runs off the caller's goroutine.
func (t *TUI) refresh() {
	t.mu.Lock()
	p := t.program
	t.mu.Unlock()
	if p != nil {
		go p.Send(refreshMsg{})
	}
}

func (t *TUI) refilterLocked() {
	t.visible = Filter(t.items, t.input.Value(), t.matchDesc, t.matchDetail)
	if t.sortByLabel {
		sortItems(t.visible)
	}
	t.active = -1
	if len(t.visible) > 0 {
		t.active = 0
	}
}

func sameItem(a, b Item) bool {
	return a.Label == b.Label && a.Description == b.Description && a.Detail == b.Detail
}

func (t *TUI) activeLocked() []Item {
	if t.active < 0 || t.active >= len(t.visible) {
		return nil
	}
	return []Item{t.visible[t.active]}
}

// update applies one message and returns the events to deliver once the
// lock is released.
func (t *TUI) update(msg tea.Msg) (tea.Cmd, []Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height
		t.input.Width = max(msg.Width-lipgloss.Width(t.input.Prompt)-1, 1)
		return nil, nil

	case hideMsg:
		return tea.Quit, nil

	case refreshMsg:
		return nil, nil

	case tea.KeyMsg:
		return t.handleKeyLocked(msg)
	}

	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return cmd, nil
}

func (t *TUI) handleKeyLocked(msg tea.KeyMsg) (tea.Cmd, []Event) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		return tea.Quit, []Event{{Kind: Hidden, Value: t.input.Value()}}

	case tea.KeyEnter:
		t.selected = t.activeLocked()
		return nil, []Event{{Kind: Accepted, Value: t.input.Value(), Items: append([]Item(nil), t.selected...)}}

	case tea.KeyUp, tea.KeyCtrlP:
		return nil, t.moveLocked(-1)

	case tea.KeyDown, tea.KeyCtrlN:
		return nil, t.moveLocked(1)
	}

	before := t.input.Value()
	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	after := t.input.Value()
	if after == before {
		return cmd, nil
	}
	t.refilterLocked()
	return cmd, []Event{{Kind: ValueChanged, Value: after}}
}

func (t *TUI) moveLocked(delta int) []Event {
	next := t.active + delta
	if next < 0 || next >= len(t.visible) {
		return nil
	}
	t.active = next
	return []Event{{Kind: ActiveChanged, Value: t.input.Value(), Items: t.activeLocked()}}
}

// model adapts TUI to tea.Model. All state lives in the TUI.
type model struct {
	t *TUI
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd, events := m.t.update(msg)
	for _, ev := range events {
		if ev.Kind == Hidden {
			m.t.emitHidden()
			continue
		}
		m.t.emit(ev)
	}
	return m, cmd
}

// View implements tea.Model.
func (m model) View() string {
	return m.t.view()
}

// --- View rendering ---

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	descStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (t *TUI) view() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	b.WriteString(t.input.View())
	if t.busy {
		b.WriteString(dimStyle.Render("  …"))
	}

	if len(t.visible) == 0 {
		if !t.busy {
			b.WriteRune('\n')
			b.WriteString(dimStyle.Render("  No matches"))
		}
		return b.String()
	}

	first, last := t.windowLocked()
	for i := first; i < last; i++ {
		b.WriteRune('\n')
		b.WriteString(t.renderItemLocked(t.visible[i], i == t.active))
	}
	return b.String()
}

// windowLocked returns the visible item range, scrolled to keep the active
// item on screen.
func (t *TUI) windowLocked() (int, int) {
	rows := t.opts.MaxRows
	if rows <= 0 {
		rows = t.height - 2
		if rows < 1 {
			rows = defaultRows
		}
	}
	first := 0
	if t.active >= rows {
		first = t.active - rows + 1
	}
	return first, min(first+rows, len(t.visible))
}

func (t *TUI) renderItemLocked(it Item, active bool) string {
	width := t.width
	if width <= 0 {
		width = 80
	}
	marker, style := "  ", normalStyle
	if active {
		marker, style = "> ", selectedStyle
	}

	line := marker + Truncate(Clean(it.Label), width-2)
	out := style.Render(line)
	if it.Description != "" {
		if room := width - lipgloss.Width(line) - 2; room > 3 {
			out += "  " + descStyle.Render(MiddleTruncate(Clean(it.Description), room))
		}
	}
	if it.Detail != "" {
		out += "\n    " + dimStyle.Render(MiddleTruncate(Clean(it.Detail), width-4))
	}
	return out
}
