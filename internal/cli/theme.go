package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	cPrimary = lipgloss.Color("63")  // blue
	cAccent  = lipgloss.Color("205") // magenta
	cGood    = lipgloss.Color("42")  // green
	cWarn    = lipgloss.Color("214") // orange
	cBad     = lipgloss.Color("196") // red
	cMuted   = lipgloss.Color("244") // gray
	cGold    = lipgloss.Color("220") // gold
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(cAccent)
	keyStyle   = lipgloss.NewStyle().Bold(true).Foreground(cPrimary)
	goodStyle  = lipgloss.NewStyle().Bold(true).Foreground(cGood)
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(cWarn)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(cBad)
	mutedStyle = lipgloss.NewStyle().Foreground(cMuted)
	goldStyle  = lipgloss.NewStyle().Bold(true).Foreground(cGold)
	panelStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(cMuted).Padding(0, 1)

	levelUpBadge = goldStyle.Render("LEVEL UP")
)

const barWidth = 20

func heading(title string) string {
	return titleStyle.Render(title)
}

func labelValue(label string, value any) string {
	return fmt.Sprintf("%s %v", keyStyle.Render(label+":"), value)
}

// xpBar renders [██████░░░░] for a 0-100 percentage.
func xpBar(pct float64) string {
	pct = max(0, min(pct, 100))
	filled := int(pct / 100 * barWidth)
	return "[" + goodStyle.Render(strings.Repeat("█", filled)) +
		mutedStyle.Render(strings.Repeat("░", barWidth-filled)) + "]"
}

func rarityText(r string) string {
	switch strings.ToLower(r) {
	case "legendary":
		return goldStyle.Render(r)
	case "epic":
		return titleStyle.Render(r)
	case "rare":
		return keyStyle.Render(r)
	default:
		return mutedStyle.Render(r)
	}
}

func activeText(active bool) string {
	if active {
		return goodStyle.Render("active")
	}
	return warnStyle.Render("broken")
}
