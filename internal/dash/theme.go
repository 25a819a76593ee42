package dash

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors of the dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default dashboard theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// Styles are the rendered styles derived from a Theme.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Running lipgloss.Style
	Stopped lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Pane    lipgloss.Style
}

// NewStyles builds Styles from t.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Section: lipgloss.NewStyle().Bold(true).Foreground(t.Secondary).MarginTop(1),
		Running: lipgloss.NewStyle().Foreground(t.Success),
		Stopped: lipgloss.NewStyle().Foreground(t.Muted),
		Muted:   lipgloss.NewStyle().Foreground(t.Muted),
		Error:   lipgloss.NewStyle().Foreground(t.Error),
		Pane:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Muted).Padding(0, 1),
	}
}
