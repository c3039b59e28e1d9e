package picker

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// PromptOptions configures a single-line input box.
type PromptOptions struct {
	Title       string
	Placeholder string
	Value       string

	Input  io.Reader
	Output io.Writer
}

// promptModel is the Bubble Tea model behind Prompt.
type promptModel struct {
	title  string
	input  textinput.Model
	result string
	ok     bool
}

func newPromptModel(opts PromptOptions) promptModel {
	in := textinput.New()
	in.Prompt = "> "
	in.PromptStyle = promptStyle
	in.PlaceholderStyle = dimStyle
	in.Placeholder = opts.Placeholder
	in.SetValue(opts.Value)
	in.Focus()
	return promptModel{title: opts.Title, input: in}
}

// Init implements tea.Model.
func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			m.result = m.input.Value()
			m.ok = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m promptModel) View() string {
	var b strings.Builder
	if m.title != "" {
		b.WriteString(descStyle.Render(Clean(m.title)))
		b.WriteRune('\n')
	}
	b.WriteString(m.input.View())
	return b.String()
}

// Prompt asks for one line of text. ok is false when the user cancelled.
func Prompt(ctx context.Context, opts PromptOptions) (value string, ok bool, err error) {
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	p := tea.NewProgram(newPromptModel(opts),
		tea.WithContext(ctx),
		tea.WithInput(opts.Input),
		tea.WithOutput(opts.Output),
	)
	final, err := p.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, err
	}
	m, _ := final.(promptModel)
	return m.result, m.ok, nil
}
