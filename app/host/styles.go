package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/tez-capital/tezbake/common"
	"github.com/tez-capital/tezbake/signer"
)

// statusJSON is what `status --json` prints.
type statusJSON struct {
	Version    string  `json:"version"`
	Commit     string  `json:"commit"`
	Key        string  `json:"key,omitempty"`
	PKH        string  `json:"pkh,omitempty"`
	PublicKey  string  `json:"public_key,omitempty"`
	Watermarks hwmResp `json:"watermarks"`
}

type deviceStatus struct {
	Version    string
	Commit     string
	Key        string // empty when nothing is authorized
	PKH        string
	PublicKey  string
	Watermarks common.Watermarks
}

func (s deviceStatus) JSON() statusJSON {
	return statusJSON{
		Version:    s.Version,
		Commit:     s.Commit,
		Key:        s.Key,
		PKH:        s.PKH,
		PublicKey:  s.PublicKey,
		Watermarks: hwmResponse(s.Watermarks),
	}
}

var (
	// adaptive colors look good in light/dark terminals
	borderColor = lipgloss.AdaptiveColor{Light: "#6C6CFF", Dark: "#6C6CFF"}
	chipColor   = lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}
	okColor     = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#9FF29A"}
	errColor    = lipgloss.AdaptiveColor{Light: "#8B0000", Dark: "#FF6B6B"}

	baseCell     = lipgloss.NewStyle().Padding(0, 1)
	chipStyle    = baseCell.MarginRight(1).Border(lipgloss.RoundedBorder()).BorderForeground(borderColor).Bold(true).Foreground(chipColor)
	chipOkStyle  = chipStyle.Foreground(okColor)
	chipErrStyle = chipStyle.Foreground(errColor)

	headerStyle = lipgloss.NewStyle().Bold(true)
)

// renderChips lays out bordered labels and wraps them at maxWidth.
func renderChips(chips []string, maxWidth int) string {
	if maxWidth < 30 {
		maxWidth = 30
	}

	var lines []string
	var row []string
	rowW := 0

	flush := func() {
		if len(row) == 0 {
			return
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, row...))
		row = row[:0]
		rowW = 0
	}

	for _, chip := range chips {
		w := lipgloss.Width(chip)
		if rowW > 0 && rowW+w > maxWidth {
			flush()
		}
		row = append(row, chip)
		rowW += w
	}

	flush()
	return strings.Join(lines, "\n")
}

func renderWatermarkTable(w common.Watermarks) string {
	chain := signer.EncodeChainID(uint32(w.ChainID))
	if w.ChainID == 0 {
		chain = "unset"
	}
	rows := [][]string{
		{"main", chain, fmt.Sprint(w.Main.Level), fmt.Sprint(w.Main.Round)},
		{"test", "other", fmt.Sprint(w.Test.Level), fmt.Sprint(w.Test.Round)},
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		Headers(
			headerStyle.Render("chain"),
			headerStyle.Render("chain id"),
			headerStyle.Render("level"),
			headerStyle.Render("round"),
		).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			// numbers right aligned
			if col >= 2 {
				return baseCell.Align(lipgloss.Right)
			}
			return baseCell.Align(lipgloss.Left)
		})

	return t.Render()
}

func renderStatus(s deviceStatus, width int) string {
	chips := []string{chipStyle.Render("v" + s.Version), chipStyle.Render(s.Commit)}
	if s.Key == "" {
		chips = append(chips, chipErrStyle.Render("no baking key"))
	} else {
		chips = append(chips, chipOkStyle.Render(s.Key))
	}

	var b strings.Builder
	b.WriteString(renderChips(chips, width))
	b.WriteString("\n")
	if s.PKH != "" {
		b.WriteString(headerStyle.Render("address    ") + s.PKH + "\n")
		b.WriteString(headerStyle.Render("public key ") + s.PublicKey + "\n")
	}
	b.WriteString(renderWatermarkTable(s.Watermarks))
	return b.String()
}

// --- typed confirmation for destructive commands ---

type confirmModel struct {
	ti      textinput.Model
	want    string
	done    bool
	aborted bool
}

func newConfirmModel(prompt, want string) confirmModel {
	ti := textinput.New()
	ti.Prompt = prompt + ": "
	ti.Placeholder = want
	ti.Focus()
	return confirmModel{ti: ti, want: want}
}

func (m confirmModel) Init() tea.Cmd { return textinput.Blink }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m confirmModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	return "\n" + m.ti.View() + "\n"
}

func (m confirmModel) confirmed() bool {
	return m.done && !m.aborted && strings.TrimSpace(m.ti.Value()) == m.want
}

// confirmTyped asks the operator to retype want.
func confirmTyped(prompt, want string) (bool, error) {
	res, err := tea.NewProgram(newConfirmModel(prompt, want)).Run()
	if err != nil {
		return false, err
	}
	m, ok := res.(confirmModel)
	return ok && m.confirmed(), nil
}
