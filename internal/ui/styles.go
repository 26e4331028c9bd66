// Package ui renders forge's terminal output: status tables, review comments,
// run summaries and error guidance.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// MessageIcons provides consistent icons for different message types.
var MessageIcons = map[string]string{
	"success": "✓",
	"error":   "✗",
	"warning": "⚠",
	"info":    "ℹ",
	"hint":    "💡",
	"pending": "○",
	"active":  "●",
	"done":    "✨",
}

// Styles contains all UI styles.
type Styles struct {
	Header    lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Info      lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Accent    lipgloss.Style

	// Table styles
	TableBorder lipgloss.Style
	TableHeader lipgloss.Style
	TableCell   lipgloss.Style

	// Box styles for structured output
	InfoBox    lipgloss.Style
	WarningBox lipgloss.Style
	SuccessBox lipgloss.Style
	ErrorBox   lipgloss.Style
}

// DefaultStyles returns the styles of the default dark theme.
func DefaultStyles() *Styles {
	return NewStyles(ThemeDark)
}

func buildStyles(c ThemeColorScheme) *Styles {
	box := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		Padding(0, 1)

	return &Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(c.Primary),

		Success: lipgloss.NewStyle().
			Foreground(c.Success),

		Warning: lipgloss.NewStyle().
			Foreground(c.Warning).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(c.Error).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(c.Info),

		Dim: lipgloss.NewStyle().
			Foreground(c.Muted),

		Highlight: lipgloss.NewStyle().
			Foreground(c.Highlight).
			Bold(true),

		Accent: lipgloss.NewStyle().
			Foreground(c.Accent),

		TableBorder: lipgloss.NewStyle().
			Foreground(c.Border),

		TableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(c.Primary).
			Padding(0, 1),

		TableCell: lipgloss.NewStyle().
			Foreground(c.Text).
			Padding(0, 1),

		InfoBox:    box.BorderForeground(c.Info),
		WarningBox: box.BorderForeground(c.Warning),
		SuccessBox: box.BorderForeground(c.Success),
		ErrorBox:   box.BorderForeground(c.Error),
	}
}
