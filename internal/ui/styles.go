package ui

import "github.com/charmbracelet/lipgloss"

// Color palette: one accent color plus grays.
const (
	ColorAccent    = "39"  // bright blue
	ColorAccentDim = "31"  // inactive stages, borders
	ColorWhite     = "255" // headers
	ColorGray      = "245" // labels
	ColorDarkGray  = "238" // separators
	ColorRed       = "196" // errors
	ColorYellow    = "220" // warnings, stale
	ColorGreen     = "114" // non-stale
)

// Styles holds all UI styles.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style
	Label   lipgloss.Style
	Speed   lipgloss.Style
	Border  lipgloss.Style
	Spark   lipgloss.Style
}

// DefaultStyles returns colored styles for TUI mode.
func DefaultStyles() Styles {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		Header:  fg(ColorWhite).Bold(true),
		Success: fg(ColorGreen),
		Warning: fg(ColorYellow),
		Error:   fg(ColorRed),
		Dim:     fg(ColorDarkGray),
		Active:  fg(ColorAccent).Bold(true),
		Label:   fg(ColorGray),
		Speed:   fg(ColorGray),
		Border:  fg(ColorDarkGray),
		Spark:   fg(ColorAccent),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header: plain, Success: plain, Warning: plain, Error: plain, Dim: plain,
		Active: plain, Label: plain, Speed: plain, Border: plain, Spark: plain,
	}
}

// GetStyles returns the styles for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
