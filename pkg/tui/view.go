package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nimburion/dlqmanager/pkg/remediation"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	colorGreen  = lipgloss.AdaptiveColor{Light: "#1F8A3B", Dark: "#4FD67A"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF6B6B"}
	colorDim    = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	accentStyle  = lipgloss.NewStyle().Foreground(colorAccent)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	errStyle     = lipgloss.NewStyle().Foreground(colorRed)
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(m.queuesView())
	b.WriteString(sectionStyle.Render("Results"))
	b.WriteString("\n")
	b.WriteString(m.resultsView())
	b.WriteString("\n")
	if line := m.statusView(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) headerView() string {
	action := m.session.Action()
	actionText := dimStyle.Render("none")
	if action != remediation.ActionNone {
		actionText = accentStyle.Render(action.String())
	}
	parts := []string{
		titleStyle.Render(m.title),
		"action: " + actionText,
		fmt.Sprintf("%d selected", len(m.session.Selected())),
	}
	return strings.Join(parts, dimStyle.Render("  ·  "))
}

func (m Model) queuesView() string {
	if m.loading && len(m.queues) == 0 {
		return m.spinner.View() + " loading dead-letter queues\n"
	}
	if len(m.queues) == 0 {
		if m.loadErr != nil {
			return errStyle.Render("could not load queues") + "\n"
		}
		return dimStyle.Render("no dead-letter queues with messages") + "\n"
	}

	var b strings.Builder
	for i, q := range m.queues {
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render("> ")
		}
		box := "[ ]"
		if m.session.IsSelected(q.ID) {
			box = accentStyle.Render("[x]")
		}
		line := fmt.Sprintf("%s%s %s", pointer, box, q.ID)
		if q.ApproximateMessages > 0 {
			line += dimStyle.Render(fmt.Sprintf("  (%d messages)", q.ApproximateMessages))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.loading {
		b.WriteString(m.spinner.View() + dimStyle.Render(" refreshing") + "\n")
	}
	return b.String()
}

func (m Model) resultsView() string {
	if m.Busy() {
		return m.spinner.View() + " running " + m.running.String() + "\n"
	}
	results := m.session.Results()
	if len(results) == 0 {
		return dimStyle.Render("no actions yet") + "\n"
	}
	var b strings.Builder
	for _, r := range results {
		style := okStyle
		if r.Failed {
			style = errStyle
		}
		b.WriteString(style.Render(r.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) statusView() string {
	if m.statusMsg == "" {
		return ""
	}
	if m.statusErr {
		return errStyle.Render(m.statusMsg)
	}
	return okStyle.Render(m.statusMsg)
}
