// Package ui centralizes terminal styling for command output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func init() {
	// Match the style output to what the terminal actually supports.
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// RenderAccent highlights headline glyphs and labels.
func RenderAccent(s string) string {
	return accentStyle.Render(s)
}

// RenderPass styles success markers.
func RenderPass(s string) string {
	return passStyle.Render(s)
}

// RenderWarn styles warning markers.
func RenderWarn(s string) string {
	return warnStyle.Render(s)
}

// RenderFail styles error markers.
func RenderFail(s string) string {
	return failStyle.Render(s)
}

// RenderDim de-emphasizes secondary detail.
func RenderDim(s string) string {
	return dimStyle.Render(s)
}
