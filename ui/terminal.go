package ui

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

var (
	borderColor = lipgloss.AdaptiveColor{Light: "#6C6CFF", Dark: "#6C6CFF"}
	okColor     = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#9FF29A"}
	errColor    = lipgloss.AdaptiveColor{Light: "#8B0000", Dark: "#FF6B6B"}

	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(borderColor).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true)
	helpStyle  = lipgloss.NewStyle().Faint(true)
	acceptText = lipgloss.NewStyle().Foreground(okColor).Bold(true).Render("accepted")
	rejectText = lipgloss.NewStyle().Foreground(errColor).Bold(true).Render("rejected")
)

type keyMap struct {
	Accept key.Binding
	Reject key.Binding
}

var keys = keyMap{
	Accept: key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "accept")),
	Reject: key.NewBinding(key.WithKeys("n", "N", "esc", "ctrl+c", "q"), key.WithHelp("n/esc", "reject")),
}

type confirmModel struct {
	prompt  Prompt
	outcome Outcome
	done    bool
}

func newConfirmModel(p Prompt) confirmModel {
	return confirmModel{prompt: p}
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Accept):
			m.outcome, m.done = Accept, true
			return m, tea.Quit
		case key.Matches(msg, keys.Reject):
			m.outcome, m.done = Reject, true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done {
		if m.outcome == Accept {
			return m.prompt.Title + ": " + acceptText + "\n"
		}
		return m.prompt.Title + ": " + rejectText + "\n"
	}

	width := 0
	for _, f := range m.prompt.Fields {
		width = max(width, len(f.Label))
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.prompt.Title))
	for _, f := range m.prompt.Fields {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(f.Label + strings.Repeat(" ", width-len(f.Label))))
		b.WriteString("  ")
		b.WriteString(f.Value)
	}
	help := helpStyle.Render(keys.Accept.Help().Key + " " + keys.Accept.Help().Desc +
		" • " + keys.Reject.Help().Key + " " + keys.Reject.Help().Desc)
	return "\n" + boxStyle.Render(b.String()) + "\n" + help + "\n"
}

// Terminal prompts on a TTY. Without one every prompt is rejected.
type Terminal struct {
	In  *os.File
	Out *os.File
}

func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stdout}
}

func (t *Terminal) interactive() bool {
	return t.In != nil && t.Out != nil && term.IsTerminal(t.In.Fd()) && term.IsTerminal(t.Out.Fd())
}

// Prompt shows p and waits for y or n. A cancelled context rejects.
func (t *Terminal) Prompt(ctx context.Context, p Prompt) (Outcome, error) {
	if !t.interactive() {
		return Reject, ErrNotInteractive
	}
	return runConfirm(ctx, p, t.In, t.Out)
}

func runConfirm(ctx context.Context, p Prompt, in io.Reader, out io.Writer) (Outcome, error) {
	prog := tea.NewProgram(newConfirmModel(p),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	res, err := prog.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Reject, errors.Join(err, ctxErr)
		}
		return Reject, err
	}
	m, ok := res.(confirmModel)
	if !ok || !m.done {
		return Reject, nil
	}
	return m.outcome, nil
}
