package output

import "github.com/charmbracelet/lipgloss"

// Palette used on terminals.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "#1D6F42", Dark: "#7BC67E"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#1D6F42", Dark: "#2ECC71"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#F4D03F"}
	colorError   = lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#E74C3C"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

// Styles are the lipgloss styles a Renderer applies to text output.
type Styles struct {
	Header  lipgloss.Style
	Bold    lipgloss.Style
	Key     lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles returns colored styles for a terminal and plain ones otherwise.
func NewStyles(styled bool) Styles {
	if !styled {
		plain := lipgloss.NewStyle()
		return Styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Bold:    lipgloss.NewStyle().Bold(true),
		Key:     lipgloss.NewStyle().Foreground(colorMuted),
		Success: lipgloss.NewStyle().Foreground(colorSuccess),
		Warning: lipgloss.NewStyle().Foreground(colorWarning),
		Error:   lipgloss.NewStyle().Foreground(colorError),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}
