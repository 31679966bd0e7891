// ABOUTME: Bubbletea model for the caster TUI
// ABOUTME: Renders run progress and per-output state from status snapshots
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Sendspin/sendspin-caster/internal/status"
)

// Model represents the TUI state
type Model struct {
	snapshot  status.Snapshot
	startTime time.Time

	// Monitor volume in percent, -1 when there is no monitor output
	volume int

	showDebug bool
	quitting  bool

	width  int
	height int

	volumeCtrl *VolumeControl
	quitChan   chan struct{}
}

type tickMsg time.Time

// SnapshotMsg replaces the displayed snapshot
type SnapshotMsg status.Snapshot

// Init starts the refresh tick
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tickEvery()
	case SnapshotMsg:
		m.snapshot = status.Snapshot(msg)
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	outputHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("220"))

	stateStyles = map[string]lipgloss.Style{
		"streaming": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"skipped":   lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
	}
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Stopping caster...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Sendspin Caster"))
	b.WriteString("\n\n")

	m.field(&b, "Input: ", m.snapshot.Input)
	m.field(&b, "Uptime: ", time.Since(m.startTime).Round(time.Second).String())
	m.field(&b, "Sent: ", m.progressText())
	if m.volume >= 0 {
		m.field(&b, "Monitor: ", fmt.Sprintf("[%s] %d%%", renderBar(m.volume, 100, 10), m.volume))
	}
	b.WriteString("\n")

	b.WriteString(outputHeaderStyle.Render(fmt.Sprintf("Outputs (%d live of %d)", m.snapshot.Live, len(m.snapshot.Outputs))))
	b.WriteString("\n\n")

	if len(m.snapshot.Outputs) == 0 {
		b.WriteString(valueStyle.Render("  No outputs configured"))
		b.WriteString("\n")
	}
	for _, o := range m.snapshot.Outputs {
		state := o.State
		if st, ok := stateStyles[o.State]; ok {
			state = st.Render(o.State)
		}
		b.WriteString(fmt.Sprintf("  • %-12s %s", truncate(o.Name, 12), state))
		b.WriteString(valueStyle.Render(fmt.Sprintf(" %s → %s, %s out", o.Codec, o.Target, formatBytes(o.BytesOut))))
		b.WriteString("\n")
		if o.Error != "" {
			b.WriteString(valueStyle.Render("      " + truncate(o.Error, 60)))
			b.WriteString("\n")
		}
	}

	if m.showDebug {
		b.WriteString("\n")
		b.WriteString(m.renderDebug())
	}

	b.WriteString("\n")
	help := "Press 'q' or Ctrl+C to quit, 'd' for details"
	if m.volume >= 0 {
		help += ", ↑/↓ monitor volume"
	}
	b.WriteString(lipgloss.NewStyle().Faint(true).Render(help))

	return b.String()
}

func (m Model) field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) progressText() string {
	sent := formatBytes(m.snapshot.Transferred)
	p := m.snapshot.Progress()
	if p < 0 {
		return sent
	}
	return fmt.Sprintf("%s of %s [%s] %.0f%%", sent, formatBytes(m.snapshot.Budget), renderBar(int(p*100), 100, 20), p*100)
}

func (m Model) renderDebug() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Run: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%s  cycles: %d", m.snapshot.RunID, m.snapshot.Cycles)))
	b.WriteString("\n")
	for _, o := range m.snapshot.Outputs {
		b.WriteString(valueStyle.Render(fmt.Sprintf("  %s: in %d  units %d  partial %d  dropped %d",
			o.Name, o.BytesIn, o.Units, o.PartialWrites, o.Dropped)))
		b.WriteString("\n")
	}
	return b.String()
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quitChan <- struct{}{}:
		default:
		}
		return m, tea.Quit
	case "up":
		m.changeVolume(5)
	case "down":
		m.changeVolume(-5)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m *Model) changeVolume(delta int) {
	if m.volume < 0 {
		return
	}
	m.volume += delta
	if m.volume > 100 {
		m.volume = 100
	}
	if m.volume < 0 {
		m.volume = 0
	}
	if m.volumeCtrl != nil {
		select {
		case m.volumeCtrl.Changes <- m.volume:
		default:
		}
	}
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
