package commands

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
)

var (
	healthyStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	anomalyStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5f5f"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

// styleReport colors the result line of a formatted report by verdict.
func styleReport(text string, verdict anomaly.Verdict) string {
	first, rest, _ := strings.Cut(text, "\n")
	style := healthyStyle
	if verdict != anomaly.VerdictHealthy {
		style = anomalyStyle
	}
	if rest == "" {
		return style.Render(first)
	}
	return style.Render(first) + "\n" + rest
}
