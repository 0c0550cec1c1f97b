package preview

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/slurmled/internal/hardware"
)

// RefreshInterval is how often the model redraws from State.
const RefreshInterval = 50 * time.Millisecond

// tickMsg is sent periodically to redraw from the latest state.
type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the bubbletea model for the preview.
type Model struct {
	state    *State
	title    string
	width    int
	quitting bool
}

// NewModel creates a Model that renders state.
func NewModel(state *State, title string) Model {
	return Model{state: state, title: title}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tick()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	lit, frame, partitions, poll := m.state.Snapshot()

	var b strings.Builder
	b.WriteString(Title.Render(m.title))
	b.WriteString("\n")

	var row strings.Builder
	row.WriteString(Label.Render("Nodes"))
	for _, n := range m.state.Nodes() {
		on := lit[n.ID]
		dot := lipgloss.NewStyle().Foreground(ledColor(n.Color, on)).Render("●")
		name := strings.ToUpper(n.ID)
		if !on {
			name = Muted.Render(name)
		}
		row.WriteString(dot + " " + name + "  ")
	}
	b.WriteString(truncateANSI(row.String(), m.contentWidth()))
	b.WriteString("\n")

	b.WriteString(Label.Render("Strip"))
	b.WriteString(m.renderStrip(frame))
	b.WriteString("\n")

	if len(partitions) == 0 {
		b.WriteString(Label.Render("Active") + Muted.Render("idle"))
	} else {
		b.WriteString(truncateANSI(Label.Render("Active")+strings.Join(partitions, ", "), m.contentWidth()))
	}
	b.WriteString("\n")

	b.WriteString(Label.Render("Poll"))
	b.WriteString(renderPoll(poll))

	body := Panel.Render(b.String())
	return body + "\n" + HelpBar.Render("q quit")
}

// contentWidth is the room inside the panel border and padding, or 0 before
// the terminal size is known.
func (m Model) contentWidth() int {
	if m.width <= 4 {
		return 0
	}
	return m.width - 4
}

// renderStrip draws one block per pixel, wrapping to the terminal width.
func (m Model) renderStrip(frame hardware.Frame) string {
	var b strings.Builder
	perLine := len(frame)
	if m.width > 16 && m.width-16 < perLine {
		perLine = m.width - 16
	}
	for i, p := range frame {
		if i > 0 && perLine > 0 && i%perLine == 0 {
			b.WriteString("\n" + strings.Repeat(" ", 8))
		}
		b.WriteString(lipgloss.NewStyle().Foreground(pixelColor(p)).Render("█"))
	}
	return b.String()
}

func renderPoll(p PollSummary) string {
	if p.Seq == 0 {
		return Muted.Render("waiting for first poll")
	}
	line := fmt.Sprintf("#%d in %s at %s", p.Seq, p.Duration.Round(time.Millisecond), p.At.Format("15:04:05"))
	if p.Failed {
		return line + " " + Error.Render("query failed")
	}
	return line
}
