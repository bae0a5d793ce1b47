package main

import (
	"github.com/aveline-ai/recal/internal/models"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyanColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	completedStyle = lipgloss.NewStyle().
			Foreground(successColor)

	inProgressStyle = lipgloss.NewStyle().
			Foreground(cyanColor)

	missedStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warningColor)
)

// renderStatus colors a task status for terminal output.
func renderStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return completedStyle.Render(string(status))
	case models.TaskStatusInProgress:
		return inProgressStyle.Render(string(status))
	case models.TaskStatusMissed:
		return missedStyle.Render(string(status))
	default:
		return mutedStyle.Render(string(status))
	}
}
